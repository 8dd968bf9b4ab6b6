package validation

import (
	"fmt"
	"strings"
)

// ValidateConnectionConfig validates the parts of an IRC identity needed to connect
func ValidateConnectionConfig(host string, port int, nick string) error {
	if err := ValidateServerAddress(host, port); err != nil {
		return err
	}
	return ValidateNickname(nick)
}

// ValidateNickname validates an IRC nickname
func ValidateNickname(nick string) error {
	if strings.TrimSpace(nick) == "" {
		return fmt.Errorf("nickname is required")
	}
	if strings.ContainsAny(nick, " ,*?!@:\x00\r\n") {
		return fmt.Errorf("nickname contains invalid characters")
	}
	// Nicks must not look like a channel or a trailing parameter
	if strings.ContainsAny(nick[:1], "#&$:") {
		return fmt.Errorf("nickname must not start with %q", nick[:1])
	}
	return nil
}

// ValidateChannelName validates an IRC channel name
func ValidateChannelName(channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("channel name is required")
	}
	// IRC channels must start with #, &, +, or !
	if channel[0] != '#' && channel[0] != '&' && channel[0] != '+' && channel[0] != '!' {
		return fmt.Errorf("channel name must start with #, &, +, or !")
	}
	// Channel names have length limits (typically 50 chars, but varies by server)
	if len(channel) > 200 {
		return fmt.Errorf("channel name too long (max 200 characters)")
	}
	// Check for invalid characters
	if strings.ContainsAny(channel, " \x00\x07\x0A\x0D,") {
		return fmt.Errorf("channel name contains invalid characters")
	}
	return nil
}

// NormalizeChannel prefixes a bare channel name with '#'
func NormalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if strings.HasPrefix(channel, "#") {
		return channel
	}
	return "#" + channel
}

// ValidateServerAddress validates a server address and port
func ValidateServerAddress(address string, port int) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("server address is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
