package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestTokenValidator verifies a generated token validates against its hash.
func TestTokenValidator(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if len(token) != tokenBytes*2 {
		t.Errorf("expected %d hex chars, got %d", tokenBytes*2, len(token))
	}

	validator, err := NewTokenValidator(hash)
	if err != nil {
		t.Fatalf("NewTokenValidator failed: %v", err)
	}
	if err := validator.ValidateToken(token); err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
}

// TestTokenValidatorInvalidToken verifies wrong and empty tokens are rejected.
func TestTokenValidatorInvalidToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}
	validator, err := NewTokenValidator(string(hash))
	if err != nil {
		t.Fatalf("NewTokenValidator failed: %v", err)
	}

	if err := validator.ValidateToken("wrong-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
	if err := validator.ValidateToken(""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("expected ErrTokenMissing, got %v", err)
	}
}

// TestNewTokenValidatorRejectsBadHash verifies configuration errors surface early.
func TestNewTokenValidatorRejectsBadHash(t *testing.T) {
	if _, err := NewTokenValidator(""); !errors.Is(err, ErrNoTokenHash) {
		t.Errorf("expected ErrNoTokenHash, got %v", err)
	}
	if _, err := NewTokenValidator("not-a-bcrypt-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

// TestGenerateTokenUnique verifies tokens differ between calls.
func TestGenerateTokenUnique(t *testing.T) {
	a, _, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected distinct tokens")
	}
}
