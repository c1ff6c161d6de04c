//go:build !darwin

package secrets

// NewKeychainBackend has no implementation outside Darwin; detectBackend
// never reaches it there; see credential_stub.go.
func NewKeychainBackend() (Backend, error) {
	return nil, ErrBackendNotAvail
}

