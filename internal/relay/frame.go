package relay

import "encoding/json"

// Frame is one JSON message on the relay socket, in either direction
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Frame types sent by the browser. TypeMessage is used both ways.
const (
	TypeConnect  = "irc:connect"
	TypeMessage  = "irc:message"
	TypePresence = "irc:presence"
)

// Frame types sent to the browser
const (
	TypeRegistered   = "irc:registered"
	TypeHistory      = "irc:history"
	TypeMembers      = "irc:members"
	TypeReconnecting = "irc:reconnecting"
	TypeError        = "irc:error"
	TypeDisconnected = "irc:disconnected"
)

// Identity is the per-user part of an IRC connection. The server address
// comes from gateway configuration, never from the browser.
type Identity struct {
	Nick     string `json:"nick,omitempty"`
	Username string `json:"username,omitempty"`
	Realname string `json:"realname,omitempty"`
	Password string `json:"password,omitempty"`
}

// ConnectParams is the data of an irc:connect frame
type ConnectParams struct {
	Config Identity `json:"config"`
}

// MessageParams is the data of an inbound irc:message frame
type MessageParams struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// PresenceParams is the data of an irc:presence frame
type PresenceParams struct {
	Status string `json:"status"`
}
