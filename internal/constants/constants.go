package constants

import "time"

// Connection timing constants
const (
	// DialTimeout bounds a single TCP (and TLS) connection attempt to the IRC server
	DialTimeout = 10 * time.Second

	// WriteTimeout bounds a single outbound line so a stalled peer can't block callers
	WriteTimeout = 10 * time.Second

	// ConnectionCleanupDelay is the delay to wait for connection cleanup
	ConnectionCleanupDelay = 500 * time.Millisecond
)

// Reconnect policy defaults
const (
	DefaultMaxRetries   = 10
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Session layer constants
const (
	// HistoryFetchDelay is the delay after auto-joining a channel before requesting its history
	HistoryFetchDelay = 500 * time.Millisecond

	// DefaultHistoryLimit is the number of messages requested per CHATHISTORY query
	DefaultHistoryLimit = 50

	// MessageBufferSize and MessageFlushInterval size the archive write buffer
	MessageBufferSize    = 100
	MessageFlushInterval = 5 * time.Second
)
