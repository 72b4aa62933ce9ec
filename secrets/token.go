package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenCost is the bcrypt cost used for API token hashes.
const TokenCost = 12

var (
	// ErrEmptyToken is returned when hashing or verifying an empty token.
	ErrEmptyToken = errors.New("secrets: token cannot be empty")

	// ErrTokenMismatch is returned when a token does not match its hash.
	ErrTokenMismatch = errors.New("secrets: token does not match")
)

// NewToken returns a random 32-byte token, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secrets: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the bcrypt hash of token, safe to put in BANANAGEN_API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	return hashTokenWithCost(token, TokenCost)
}

func hashTokenWithCost(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken compares token with a bcrypt hash in constant time.
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		// Malformed hashes are reported the same way as mismatches
		return ErrTokenMismatch
	}
	return nil
}
