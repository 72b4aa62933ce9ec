// Package secrets seals provider API keys before they are written to the
// database, and hashes API tokens for the HTTP server.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealedPrefix versions the sealed format.
const sealedPrefix = "v1:"

// hkdfInfo binds derived keys to their use.
const hkdfInfo = "bananagen provider key sealing v1"

// MinSecretLength is the shortest BANANAGEN_SECRET_KEY accepted.
const MinSecretLength = 16

// Error definitions for sealing operations
var (
	// ErrSecretTooShort is returned when the master secret is shorter than MinSecretLength.
	ErrSecretTooShort = errors.New("secrets: secret key too short")

	// ErrMalformed is returned when a sealed value cannot be decoded.
	ErrMalformed = errors.New("secrets: malformed sealed value")

	// ErrOpenFailed is returned when authentication fails. It does not say
	// whether the key or the data was wrong.
	ErrOpenFailed = errors.New("secrets: unable to open sealed value")
)

// Sealer encrypts short strings with XChaCha20-Poly1305 under a key derived
// from a master secret with HKDF-SHA256.
//
// Sealed output is "v1:" followed by base64(nonce || ciphertext). A fresh
// random nonce is drawn for every Seal, so sealing the same value twice
// yields different text.
type Sealer struct {
	key  []byte
	rand io.Reader
}

// NewSealer derives a sealing key from secret.
//
// Example:
//
//	s, err := secrets.NewSealer(cfg.SecretKey)
//	sealed, err := s.Seal("sk-or-v1-...")
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, MinSecretLength)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return &Sealer{key: key, rand: rand.Reader}, nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}
