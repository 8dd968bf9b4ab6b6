package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeychainService is the service name SASL passwords are stored under
const KeychainService = "ironcord-gateway"

// Keychain stores SASL passwords in the OS keychain, one entry per account
type Keychain struct {
	service string
}

// NewKeychain creates a keychain bound to KeychainService
func NewKeychain() *Keychain {
	return &Keychain{service: KeychainService}
}

// AccountKey names the entry for nick on an IRC server. Nicks and hosts are
// case-insensitive, so the key is lowercased.
func AccountKey(nick, host string) string {
	return strings.ToLower(nick + "@" + host)
}

// StorePassword saves the password for account; an empty password removes it
func (k *Keychain) StorePassword(account, password string) error {
	if password == "" {
		return k.DeletePassword(account)
	}
	if err := keyring.Set(k.service, account, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword returns the stored password, or "" when there is none
func (k *Keychain) GetPassword(account string) (string, error) {
	password, err := keyring.Get(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes the entry for account. Missing entries are not an error.
func (k *Keychain) DeletePassword(account string) error {
	err := keyring.Delete(k.service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
