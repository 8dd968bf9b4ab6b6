package irc

import "time"

// Event types emitted by the IRC client
const (
	EventRegistered      = "registered"
	EventMessage         = "message"
	EventHistory         = "history"
	EventMembers         = "members"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
	EventError           = "error"
	EventClose           = "close"
)

// Message is a chat line received live or replayed from history.
// Timestamp is zero when the server did not supply a time tag.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Channel   string    `json:"channel"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Members is a snapshot of a channel's member set
type Members struct {
	Channel string   `json:"channel"`
	Members []string `json:"members"`
}

// Reconnecting describes a scheduled reconnection attempt
type Reconnecting struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// Payloads by event type:
//
//	EventRegistered       nil
//	EventMessage          Message
//	EventHistory          []Message (oldest first)
//	EventMembers          Members
//	EventReconnecting     Reconnecting
//	EventReconnectFailed  nil
//	EventError            error
//	EventClose            nil
