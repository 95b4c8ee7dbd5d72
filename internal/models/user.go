package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the account row consumed by the auth core.
type User struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	IsActive        bool      `json:"is_active"`
	IsEmailVerified bool      `json:"is_email_verified"`
	IsAdmin         bool      `json:"is_admin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CanAuthenticate is true for active accounts with a verified e-mail.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && u.IsEmailVerified
}
