package irc

import (
	"time"

	"github.com/matt0x6f/ironcord-gateway/internal/constants"
)

// ReconnectOptions controls the exponential backoff applied after an
// unexpected connection loss.
type ReconnectOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultReconnectOptions returns the policy used when none is supplied
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		MaxRetries:   constants.DefaultMaxRetries,
		InitialDelay: constants.DefaultInitialDelay,
		MaxDelay:     constants.DefaultMaxDelay,
	}
}

// Delay returns the wait before the given 1-indexed attempt:
// min(InitialDelay * 2^(attempt-1), MaxDelay).
func (o ReconnectOptions) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := o.InitialDelay
	for i := 1; i < attempt; i++ {
		if delay >= o.MaxDelay || delay > o.MaxDelay/2 {
			return o.MaxDelay
		}
		delay *= 2
	}
	if delay > o.MaxDelay {
		return o.MaxDelay
	}
	return delay
}
