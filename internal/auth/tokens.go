package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the entropy of every session id, CSRF token and reset token (256 bits).
const TokenBytes = 32

// RandomToken returns TokenBytes of crypto/rand output, base64url encoded without padding.
func RandomToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSessionID returns a fresh server-generated session handle.
func NewSessionID() (string, error) {
	return RandomToken()
}
