// Package credential seals API keys before they are written to recall's local
// config table. Values are encrypted with AES-256-GCM under a machine-derived
// key, and the config entry name is bound as additional data so a sealed
// value only opens under the entry it was written to.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks sealed values in storage.
const EncryptedPrefix = "enc:v2:"

// SecretSuffix marks config entries whose values are sealed.
const SecretSuffix = ".api_key"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens config values.
type Manager struct {
	key []byte
}

// NewManager creates a Manager keyed to this machine and user.
func NewManager() (*Manager, error) {
	return &Manager{key: deriveKey()}, nil
}

// Seal encrypts value for the config entry name.
// An empty value stays empty so `config get` can report it as unset.
func (m *Manager) Seal(name, value string) (string, error) {
	if value == "" {
		return "", nil
	}

	gcm, err := m.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(value), []byte(name))
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal for the same entry name. Values without EncryptedPrefix
// were stored in the clear and are returned unchanged.
func (m *Manager) Open(name, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	gcm, err := m.aead()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrInvalidFormat
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", fmt.Errorf("%w for %s", ErrDecryptionFailed, name)
	}
	return string(plain), nil
}

func (m *Manager) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether a stored value was written by Seal.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecret reports whether the config entry name holds a sealed value.
func IsSecret(name string) bool {
	return strings.HasSuffix(name, SecretSuffix)
}

// deriveKey hashes host, home, platform and user identity into a 32-byte key.
func deriveKey() []byte {
	var b strings.Builder
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(hostname)
	b.WriteString(home)
	b.WriteString(runtime.GOOS + "/" + runtime.GOARCH)
	b.WriteString("recall-credential-v2")
	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&b, "uid:%d", uid)
	}
	b.WriteString(os.Getenv("USER"))

	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}

// MaskSecret shows the first and last four characters of a long secret.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
