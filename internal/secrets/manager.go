// Package secrets resolves secret-backed template variables (declared with a
// `secret:` spec and referenced as {{ var.NAME }}) against the credential
// store chosen by runtime.GOOS: macOS Keychain, Windows Credential Manager,
// the Linux freedesktop.org Secret Service, or an encrypted on-disk fallback
// on any other platform. The native stores are not probed for reachability,
// so the fallback is never chosen on those three platforms. Secrets themselves are
// provisioned through the native tool for each backend (Keychain Access,
// `secret-tool`, an encrypted file dropped in place by whatever manages the
// host); TaskTree only ever reads them.
package secrets

import (
	"regexp"
	"runtime"
)

// Manager resolves a namespaced secret reference to its value.
type Manager interface {
	Get(namespace, key string) (string, error)
}

// Backend is the platform-specific read path a Manager delegates to.
type Backend interface {
	Get(key string) (string, error)
}

// DefaultManager implements Manager over a platform Backend, validating and
// namespacing lookups the same way regardless of which backend is active.
type DefaultManager struct {
	backend   Backend
	separator string
}

// validKeyPattern matches a namespace or key: starts with a letter,
// otherwise alphanumeric, underscore, or dash.
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// NewManager creates a secrets manager backed by the native credential store
// of runtime.GOOS (darwin, windows, linux), or by the encrypted file store on
// any other platform.
func NewManager() (Manager, error) {
	backend, err := detectBackend()
	if err != nil {
		return nil, err
	}
	return &DefaultManager{backend: backend, separator: ":"}, nil
}

// detectBackend chooses the appropriate backend for the platform.
func detectBackend() (Backend, error) {
	switch runtime.GOOS {
	case "darwin":
		return NewKeychainBackend()
	case "windows":
		return NewCredentialBackend()
	case "linux":
		return NewSecretServiceBackend()
	default:
		return NewFallbackBackend(), nil
	}
}

// Get retrieves a secret value by namespace and key.
func (m *DefaultManager) Get(namespace, key string) (string, error) {
	if err := validateNamespace(namespace); err != nil {
		return "", NewSecretError("get", namespace, key, err)
	}
	if err := validateKey(key); err != nil {
		return "", NewSecretError("get", namespace, key, err)
	}

	value, err := m.backend.Get(m.formatKey(namespace, key))
	if err != nil {
		if err == ErrSecretNotFound {
			return "", NewSecretError("get", namespace, key, ErrSecretNotFound)
		}
		return "", NewSecretError("get", namespace, key, err)
	}

	return value, nil
}

// formatKey creates the composite key in format "namespace:key".
func (m *DefaultManager) formatKey(namespace, key string) string {
	return namespace + m.separator + key
}

func validateNamespace(namespace string) error {
	if namespace == "" || !validKeyPattern.MatchString(namespace) {
		return ErrNamespaceInvalid
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || !validKeyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
