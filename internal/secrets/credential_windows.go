//go:build windows

package secrets

import (
	"github.com/danieljoos/wincred"
)

// CredentialBackend reads secrets from the Windows Credential Manager.
type CredentialBackend struct {
	prefix string
}

// NewCredentialBackend creates a Windows Credential Manager backend.
func NewCredentialBackend() (Backend, error) {
	return &CredentialBackend{
		prefix: "tasktree:",
	}, nil
}

// Get retrieves a secret from Credential Manager.
func (c *CredentialBackend) Get(key string) (string, error) {
	cred, err := wincred.GetGenericCredential(c.prefix + key)
	if err != nil {
		if err == wincred.ErrElementNotFound {
			return "", ErrSecretNotFound
		}
		return "", err
	}

	return string(cred.CredentialBlob), nil
}
