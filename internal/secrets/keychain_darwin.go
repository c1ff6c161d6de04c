//go:build darwin

package secrets

import (
	"github.com/keybase/go-keychain"
)

// KeychainBackend reads secrets from the macOS Keychain.
type KeychainBackend struct {
	service string
}

// NewKeychainBackend creates a macOS Keychain backend.
func NewKeychainBackend() (Backend, error) {
	return &KeychainBackend{
		service: "io.tasktree.cli",
	}, nil
}

// Get retrieves a secret from the keychain.
func (k *KeychainBackend) Get(key string) (string, error) {
	query := keychain.NewItem()
	query.SetService(k.service)
	query.SetAccount(key)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	if err != nil {
		if err == keychain.ErrorItemNotFound {
			return "", ErrSecretNotFound
		}
		return "", err
	}

	if len(results) == 0 {
		return "", ErrSecretNotFound
	}

	return string(results[0].Data), nil
}
