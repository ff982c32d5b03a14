// Package crypto seals secrets stored at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values produced by AESSealer.
const sealedPrefix = "enc:v1:"

var (
	// ErrEmptyKey is returned when no key material is supplied.
	ErrEmptyKey = errors.New("encryption key is empty")
	// ErrKeySize is returned for keys that are not 32 bytes.
	ErrKeySize = errors.New("encryption key must be 32 bytes")
	// ErrSealedValue is returned when a sealed value cannot be opened.
	ErrSealedValue = errors.New("sealed value is corrupt")
)

// Sealer protects secrets before they are written to storage.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// AESSealer seals with AES-256-GCM. Output is "enc:v1:" + base64(nonce || ciphertext).
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealerFromBase64Key creates an AESSealer from a base64-encoded 32-byte key.
func NewAESSealerFromBase64Key(encodedKey string) (*AESSealer, error) {
	if encodedKey == "" {
		return nil, ErrEmptyKey
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values without the sealed prefix were written
// before a key was configured and are returned unchanged.
func (s *AESSealer) Open(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrSealedValue
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", ErrSealedValue
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plain), nil
}

// NoopSealer stores secrets as-is.
type NoopSealer struct{}

// Seal returns plaintext unchanged.
func (NoopSealer) Seal(plaintext string) (string, error) { return plaintext, nil }

// Open refuses sealed values, since there is no key to open them with.
func (NoopSealer) Open(stored string) (string, error) {
	if strings.HasPrefix(stored, sealedPrefix) {
		return "", fmt.Errorf("%w: no encryption key configured", ErrSealedValue)
	}
	return stored, nil
}

// NewSealer returns an AESSealer for a non-empty key, NoopSealer otherwise.
func NewSealer(encodedKey string) (Sealer, error) {
	if encodedKey == "" {
		return NoopSealer{}, nil
	}
	return NewAESSealerFromBase64Key(encodedKey)
}
