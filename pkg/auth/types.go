package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors returned by token extraction and verification. Callers
// branch with errors.Is; the middleware maps all three to 401.
var (
	// ErrMissingToken means no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken means the token failed parsing, signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the token was valid but is past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Claims carried by curator bearer tokens. The subject is the user ID.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}
