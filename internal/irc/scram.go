package irc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var errSCRAMVerification = errors.New("SCRAM server signature mismatch")

// saslSCRAM implements SCRAM-SHA-256 and SCRAM-SHA-512 (RFC 5802/7677)
// without channel binding.
type saslSCRAM struct {
	mechanism string
	hash      func() hash.Hash
	username  string
	password  string

	clientNonce     string
	clientFirstBare string
	serverSignature []byte
	step            int
}

func newSCRAM(mechanism, username, password string) (*saslSCRAM, error) {
	nonce, err := generateClientNonce()
	if err != nil {
		return nil, err
	}
	s := &saslSCRAM{
		mechanism:   mechanism,
		username:    username,
		password:    password,
		clientNonce: nonce,
	}
	switch mechanism {
	case "SCRAM-SHA-256":
		s.hash = sha256.New
	case "SCRAM-SHA-512":
		s.hash = sha512.New
	default:
		return nil, fmt.Errorf("unsupported SCRAM mechanism %q", mechanism)
	}
	return s, nil
}

func (s *saslSCRAM) Name() string {
	return s.mechanism
}

func (s *saslSCRAM) Respond(challenge string) (string, error) {
	switch s.step {
	case 0:
		if challenge != "+" {
			return "", errUnexpectedChallenge
		}
		s.step++
		s.clientFirstBare = "n=" + scramEscape(s.username) + ",r=" + s.clientNonce
		return base64.StdEncoding.EncodeToString([]byte("n,," + s.clientFirstBare)), nil
	case 1:
		s.step++
		serverFirst, err := base64.StdEncoding.DecodeString(challenge)
		if err != nil {
			return "", fmt.Errorf("decode server-first-message: %w", err)
		}
		return s.clientFinal(string(serverFirst))
	case 2:
		s.step++
		serverFinal, err := base64.StdEncoding.DecodeString(challenge)
		if err != nil {
			return "", fmt.Errorf("decode server-final-message: %w", err)
		}
		params := parseSCRAMParams(string(serverFinal))
		if e, ok := params["e"]; ok {
			return "", fmt.Errorf("SCRAM server error: %s", e)
		}
		v, err := base64.StdEncoding.DecodeString(params["v"])
		if err != nil || !hmac.Equal(v, s.serverSignature) {
			return "", errSCRAMVerification
		}
		return "", nil
	default:
		return "", errUnexpectedChallenge
	}
}

func (s *saslSCRAM) clientFinal(serverFirst string) (string, error) {
	params := parseSCRAMParams(serverFirst)

	nonce := params["r"]
	if !strings.HasPrefix(nonce, s.clientNonce) || len(nonce) == len(s.clientNonce) {
		return "", errors.New("SCRAM server nonce does not extend client nonce")
	}
	salt, err := base64.StdEncoding.DecodeString(params["s"])
	if err != nil {
		return "", fmt.Errorf("decode SCRAM salt: %w", err)
	}
	iterations, err := strconv.Atoi(params["i"])
	if err != nil || iterations <= 0 {
		return "", fmt.Errorf("invalid SCRAM iteration count %q", params["i"])
	}

	saltedPassword := pbkdf2.Key([]byte(s.password), salt, iterations, s.hash().Size(), s.hash)
	clientKey := s.hmac(saltedPassword, "Client Key")
	storedKey := s.sum(clientKey)
	serverKey := s.hmac(saltedPassword, "Server Key")

	// "biws" is base64("n,,"): no channel binding, no authzid
	clientFinalNoProof := "c=biws,r=" + nonce
	authMessage := s.clientFirstBare + "," + serverFirst + "," + clientFinalNoProof

	clientSignature := s.hmac(storedKey, authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}
	s.serverSignature = s.hmac(serverKey, authMessage)

	clientFinal := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return base64.StdEncoding.EncodeToString([]byte(clientFinal)), nil
}

func (s *saslSCRAM) hmac(key []byte, data string) []byte {
	mac := hmac.New(s.hash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func (s *saslSCRAM) sum(data []byte) []byte {
	h := s.hash()
	h.Write(data)
	return h.Sum(nil)
}

// parseSCRAMParams splits "k=v,k2=v2" attribute lists. Values may contain '='.
func parseSCRAMParams(msg string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		params[part[:1]] = part[2:]
	}
	return params
}

func scramEscape(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	return strings.ReplaceAll(name, ",", "=2C")
}

func generateClientNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate SCRAM nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}
