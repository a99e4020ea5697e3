// ABOUTME: Password authentication mapping shared secrets to access levels
// ABOUTME: Comparison is constant-time to avoid leaking password prefixes

package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrBadCredentials indicates the supplied password matched no account.
var ErrBadCredentials = errors.New("invalid credentials")

// Authenticator exchanges passwords for signed tokens.
type Authenticator struct {
	verifier       *JWTVerifier
	adminPassword  string
	museumPassword string
}

// NewAuthenticator creates an authenticator over the given verifier and
// the configured shared passwords. An empty password disables that level.
func NewAuthenticator(verifier *JWTVerifier, adminPassword, museumPassword string) *Authenticator {
	return &Authenticator{
		verifier:       verifier,
		adminPassword:  adminPassword,
		museumPassword: museumPassword,
	}
}

// Login checks the password against both accounts and issues a token for
// the matching level.
func (a *Authenticator) Login(password string) (token string, level AccessLevel, err error) {
	switch {
	case passwordMatches(password, a.adminPassword):
		level = LevelAdmin
	case passwordMatches(password, a.museumPassword):
		level = LevelMuseum
	default:
		return "", "", ErrBadCredentials
	}

	token, err = a.verifier.Generate(subjectFor(level), level, 0)
	if err != nil {
		return "", "", err
	}
	return token, level, nil
}

func subjectFor(level AccessLevel) string {
	if level == LevelAdmin {
		return "admin"
	}
	return "museum"
}

func passwordMatches(supplied, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}
