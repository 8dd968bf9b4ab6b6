package irc

import "fmt"

// Presence is the user-facing availability status
type Presence string

const (
	PresenceOnline    Presence = "online"
	PresenceIdle      Presence = "idle"
	PresenceDND       Presence = "dnd"
	PresenceInvisible Presence = "invisible"
)

// awayReasons maps non-online presences to AWAY reasons. IRC has no
// invisible mode for a regular client, so invisible is an away reason too.
var awayReasons = map[Presence]string{
	PresenceIdle:      "Idle",
	PresenceDND:       "Do Not Disturb",
	PresenceInvisible: "Invisible",
}

// SetPresence maps a presence onto AWAY: online clears it, anything else
// sets an away reason.
func (c *Client) SetPresence(status Presence) error {
	if status == PresenceOnline {
		c.send("AWAY")
		return nil
	}
	reason, ok := awayReasons[status]
	if !ok {
		return fmt.Errorf("unknown presence %q", status)
	}
	c.sendTrailing("AWAY", reason)
	return nil
}
