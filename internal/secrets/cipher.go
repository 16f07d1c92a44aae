// Package secrets encrypts cached OAuth tokens before they reach a store.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ingeniumai/outreach/internal/models"
)

// sealedPrefix marks values produced by Seal. Values without it are treated
// as plain text, so a store written before a key was configured stays readable.
const sealedPrefix = "enc:v1:"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrMalformed is returned by Open for a sealed value that cannot be decoded.
var ErrMalformed = errors.New("secrets: malformed sealed value")

// Cipher seals strings with AES-256-GCM. A nil or keyless Cipher passes
// values through unchanged.
type Cipher struct {
	aead cipher.AEAD
}

// New returns a Cipher for key. An empty key disables encryption.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d bytes", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromBase64 decodes a standard base64 key and calls New.
func NewFromBase64(encoded string) (*Cipher, error) {
	if encoded == "" {
		return New(nil)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	return New(key)
}

// Enabled reports whether values are actually encrypted.
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Unprefixed values are returned as they are.
func (c *Cipher) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", errors.New("secrets: sealed value found but no encryption key is configured")
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// SealTokens returns a copy of t with both tokens sealed.
func (c *Cipher) SealTokens(t models.Tokens) (models.Tokens, error) {
	var err error
	if t.AccessToken, err = c.Seal(t.AccessToken); err != nil {
		return t, err
	}
	if t.RefreshToken, err = c.Seal(t.RefreshToken); err != nil {
		return t, err
	}
	return t, nil
}

// OpenUser decrypts the cached tokens of u in place.
func (c *Cipher) OpenUser(u *models.User) error {
	var err error
	if u.AccessToken, err = c.Open(u.AccessToken); err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	if u.RefreshToken, err = c.Open(u.RefreshToken); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return nil
}

// GenerateKey returns a random base64 encoded key suitable for NewFromBase64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
