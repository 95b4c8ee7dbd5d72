package dtos

import (
	"time"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/utils"
)

// ----------------------
// Login
// ----------------------

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
	RememberMe bool   `json:"remember_me"`
}

// LoginResponse omits tokens; they travel in cookies.
type LoginResponse struct {
	User                UserSummary `json:"user"`
	RememberMeExpiresAt *time.Time  `json:"remember_me_expires_at,omitempty"`
}

type UserSummary struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	IsActive        bool   `json:"is_active"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

func NewUserSummary(u *models.User) UserSummary {
	return UserSummary{
		ID:              u.ID.String(),
		Email:           u.Email,
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
	}
}

// ----------------------
// Refresh / remember-me
// ----------------------

type SessionRenewedResponse struct {
	Message             string     `json:"message"`
	RememberMeExpiresAt *time.Time `json:"remember_me_expires_at,omitempty"`
}

// ----------------------
// Logout
// ----------------------

type LogoutResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

// ----------------------
// Session
// ----------------------

// VerifySessionRequest optionally pins the session to an e-mail address.
type VerifySessionRequest struct {
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

type SessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	User          *UserSummary      `json:"user,omitempty"`
	UserStatus    *utils.UserStatus `json:"user_status,omitempty"`
}
