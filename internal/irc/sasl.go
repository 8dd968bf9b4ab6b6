package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrSASLFailed is surfaced when the server rejects our credentials for a
// reason other than a missing account.
var ErrSASLFailed = errors.New("SASL Authentication Failed")

var errUnexpectedChallenge = errors.New("unexpected SASL challenge")

// maxAuthenticateChunk is the largest payload a single AUTHENTICATE line may carry
const maxAuthenticateChunk = 400

// saslMechanism drives one SASL exchange. Respond receives the raw
// AUTHENTICATE parameter ("+" or base64) and returns the base64 reply.
type saslMechanism interface {
	Name() string
	Respond(challenge string) (string, error)
}

// newSASLMechanism builds the mechanism selected by the config. The nick is
// used as both authorization and authentication identity.
func newSASLMechanism(cfg Config) (saslMechanism, error) {
	switch strings.ToUpper(cfg.SASLMechanism) {
	case "", "PLAIN":
		return &saslPlain{identity: cfg.Nick, password: cfg.Password}, nil
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		return newSCRAM(strings.ToUpper(cfg.SASLMechanism), cfg.Nick, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.SASLMechanism)
	}
}

// saslPlain implements the PLAIN mechanism
type saslPlain struct {
	identity string
	password string
}

func (s *saslPlain) Name() string {
	return "PLAIN"
}

func (s *saslPlain) Respond(challenge string) (string, error) {
	if challenge != "+" {
		return "", errUnexpectedChallenge
	}
	id := []byte(s.identity)
	payload := bytes.Join([][]byte{id, id, []byte(s.password)}, []byte{0})
	return base64.StdEncoding.EncodeToString(payload), nil
}

// authenticateChunks splits an encoded SASL response into AUTHENTICATE
// parameters. A response that is an exact multiple of the chunk size is
// terminated with "+".
func authenticateChunks(encoded string) []string {
	if encoded == "" {
		return []string{"+"}
	}
	var chunks []string
	for len(encoded) > 0 {
		n := len(encoded)
		if n > maxAuthenticateChunk {
			n = maxAuthenticateChunk
		}
		chunks = append(chunks, encoded[:n])
		encoded = encoded[n:]
	}
	if len(chunks[len(chunks)-1]) == maxAuthenticateChunk {
		chunks = append(chunks, "+")
	}
	return chunks
}
