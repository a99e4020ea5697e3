// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("admin", LevelAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotSub, gotLevel, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if gotSub != "admin" {
		t.Errorf("Verify() subject = %q, want %q", gotSub, "admin")
	}
	if gotLevel != LevelAdmin {
		t.Errorf("Verify() level = %q, want %q", gotLevel, LevelAdmin)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				// Generate with different secret
				otherVerifier := NewJWTVerifier([]byte("different-secret"))
				token, _ := otherVerifier.Generate("admin", LevelAdmin, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := verifier.Verify(tt.token)
			if err == nil {
				t.Error("Verify() should have returned an error")
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	// Generate a token that expired 1 hour ago
	token, err := verifier.Generate("admin", LevelAdmin, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, _, err = verifier.Verify(token)
	if err == nil {
		t.Error("Verify() should have returned an error for expired token")
	}

	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_InvalidAccessLevel(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("someone", AccessLevel("SUPERUSER"), time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, _, err = verifier.Verify(token)
	if err == nil {
		t.Error("Verify() should reject unknown access levels")
	}
}

func TestJWTVerifier_DefaultTTL(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	// Zero expiry falls back to the default lifetime
	token, err := verifier.Generate("museum", LevelMuseum, 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotSub, gotLevel, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotSub != "museum" || gotLevel != LevelMuseum {
		t.Errorf("Verify() = (%q, %q), want (museum, MUSEUM)", gotSub, gotLevel)
	}
}
