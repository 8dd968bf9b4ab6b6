package storage

import "time"

// User is a gateway account bound to one IRC nick
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IRCNick      string    `db:"irc_nick" json:"irc_nick"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Guild groups channels under a shared IRC namespace prefix ("#name-")
type Guild struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	OwnerID            string    `db:"owner_id" json:"owner_id"`
	IRCNamespacePrefix string    `db:"irc_namespace_prefix" json:"irc_namespace_prefix"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Channel is a guild channel and the IRC channel backing it
type Channel struct {
	ID             string    `db:"id" json:"id"`
	GuildID        string    `db:"guild_id" json:"guild_id"`
	Name           string    `db:"name" json:"name"`
	IRCChannelName string    `db:"irc_channel_name" json:"irc_channel_name"`
	Topic          string    `db:"topic" json:"topic"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AuthToken is an opaque bearer token resolving to a user
type AuthToken struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"user_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Message sources
const (
	SourceLive    = "live"
	SourceHistory = "history"
	SourceSent    = "sent"
)

// Message is an archived channel message
type Message struct {
	ID        string    `db:"id" json:"id"`
	Channel   string    `db:"channel" json:"channel"`
	Author    string    `db:"author" json:"author"`
	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Source    string    `db:"source" json:"source"`
}
