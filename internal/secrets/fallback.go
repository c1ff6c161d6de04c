package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keySize          = 32
)

// FallbackBackend reads an encrypted secrets file; detectBackend selects it
// on platforms other than darwin, windows and linux. The file is
// provisioned out of band — nothing in this package writes one — so this
// backend only ever decrypts and looks values up.
type FallbackBackend struct {
	key     []byte
	secrets map[string]string
	mu      sync.RWMutex
}

type encryptedData struct {
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// NewFallbackBackend loads secrets from "~/.tasktree/secrets.enc", if
// present. A missing file is not an error: every Get simply returns
// ErrSecretNotFound.
func NewFallbackBackend() Backend {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	backend := &FallbackBackend{
		key:     deriveKey(homeDir),
		secrets: make(map[string]string),
	}
	backend.load(filepath.Join(homeDir, ".tasktree", "secrets.enc"))
	return backend
}

// Get retrieves a secret value.
func (f *FallbackBackend) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	value, ok := f.secrets[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// load decrypts path into f.secrets. Any failure (missing file, corrupt
// envelope, wrong key) leaves f.secrets empty rather than erroring, matching
// ErrSecretNotFound's treatment of an absent secret.
func (f *FallbackBackend) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	decrypted, err := f.decrypt(data)
	if err != nil {
		return
	}

	var secrets map[string]string
	if err := json.Unmarshal(decrypted, &secrets); err != nil {
		return
	}
	f.secrets = secrets
}

// decrypt decrypts data using AES-256-GCM, with the per-file salt and nonce
// read back out of the envelope it was encrypted with.
func (f *FallbackBackend) decrypt(data []byte) ([]byte, error) {
	var envelope encryptedData
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	key := pbkdf2.Key(f.key, envelope.Salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(envelope.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	return gcm.Open(nil, envelope.Nonce, envelope.Cipher, nil)
}

// deriveKey derives the passphrase this host's secrets file was encrypted
// with from machine-specific data: the home directory and hostname, the
// same inputs the file's own provisioning tool uses.
func deriveKey(homeDir string) []byte {
	hostname, _ := os.Hostname()
	seed := homeDir + ":" + hostname + ":tasktree-secrets"
	return pbkdf2.Key([]byte(seed), []byte("tasktree-salt"), pbkdf2Iterations, keySize, sha256.New)
}
