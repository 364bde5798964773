package models

import (
	"time"
)

// PasswordResetToken is the stored half of a reset token. The raw token is
// only ever held by the recipient.
type PasswordResetToken struct {
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Never expose token hash
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsLiveAt reports whether the token is still usable at now (now < expires_at).
func (t *PasswordResetToken) IsLiveAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// ResetContext is what a successful reset-token verification yields.
type ResetContext struct {
	UserID    string
	ExpiresAt time.Time
}
