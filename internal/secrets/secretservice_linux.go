//go:build linux

package secrets

import (
	"github.com/zalando/go-keyring"
)

// SecretServiceBackend reads secrets from the Linux freedesktop.org Secret
// Service (GNOME Keyring, KWallet).
type SecretServiceBackend struct {
	service string
}

// NewSecretServiceBackend creates a Linux Secret Service backend.
func NewSecretServiceBackend() (Backend, error) {
	return &SecretServiceBackend{
		service: "tasktree",
	}, nil
}

// Get retrieves a secret from the secret service.
func (s *SecretServiceBackend) Get(key string) (string, error) {
	value, err := keyring.Get(s.service, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", ErrSecretNotFound
		}
		return "", err
	}
	return value, nil
}
