package secrets

import (
	"errors"
	"fmt"
)

var (
	ErrSecretNotFound   = errors.New("secret not found")
	ErrInvalidKey       = errors.New("invalid secret key")
	ErrBackendNotAvail  = errors.New("secrets backend not available")
	ErrNamespaceInvalid = errors.New("invalid namespace")
)

// SecretError wraps an error with the namespace/key/operation it occurred on.
type SecretError struct {
	Namespace string
	Key       string
	Op        string
	Err       error
}

func (e *SecretError) Error() string {
	if e.Namespace != "" && e.Key != "" {
		return fmt.Sprintf("secret operation '%s' failed for %s:%s: %v",
			e.Op, e.Namespace, e.Key, e.Err)
	}
	return fmt.Sprintf("secret operation '%s' failed for namespace %s: %v",
		e.Op, e.Namespace, e.Err)
}

func (e *SecretError) Unwrap() error {
	return e.Err
}

func NewSecretError(op, namespace, key string, err error) *SecretError {
	return &SecretError{Namespace: namespace, Key: key, Op: op, Err: err}
}
