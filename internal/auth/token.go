// Package auth issues and checks the bridge bearer token.
//
// The host stores only the bcrypt hash of the token (token_hash in the
// config file). The plain token is shown once by 'fixdeck token' and is
// configured in the editor extension.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrTokenMissing is returned when a connection carries no token.
	ErrTokenMissing = errors.New("missing bearer token")

	// ErrTokenInvalid is returned when a token does not match the hash.
	ErrTokenInvalid = errors.New("invalid bearer token")

	// ErrNoTokenHash is returned when auth is required but no hash is set.
	ErrNoTokenHash = errors.New("token_hash is not configured")
)

// tokenBytes is the token entropy: 32 bytes = 256 bits.
const tokenBytes = 32

// GenerateToken returns a new random hex token and its bcrypt hash.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = fmt.Sprintf("%x", b)

	hash, err = HashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

// HashToken returns the bcrypt hash of token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// TokenValidator checks bearer tokens against a single bcrypt hash.
type TokenValidator struct {
	hash []byte
}

// NewTokenValidator creates a validator for hash. It fails when hash is
// empty or is not a bcrypt hash.
func NewTokenValidator(hash string) (*TokenValidator, error) {
	if hash == "" {
		return nil, ErrNoTokenHash
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("token_hash: %w", err)
	}
	return &TokenValidator{hash: []byte(hash)}, nil
}

// ValidateToken checks token. The comparison is constant-time.
func (tv *TokenValidator) ValidateToken(token string) error {
	if token == "" {
		return ErrTokenMissing
	}
	if err := bcrypt.CompareHashAndPassword(tv.hash, []byte(token)); err != nil {
		log.Printf("auth: token validation failed")
		return ErrTokenInvalid
	}
	return nil
}
