package models

import (
	"time"
)

// UserRecord is the credential store view of a user
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // e.g., "user", "admin"
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity projects the record onto session claims, dropping the password hash.
func (u *UserRecord) Identity() Identity {
	return Identity{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.Name,
		Role:        u.Role,
	}
}
