package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenType is the "type" claim of a signed token.
type TokenType string

const (
	TokenTypeAccess       TokenType = "access"
	TokenTypeRefresh      TokenType = "refresh"
	TokenTypeRememberMe   TokenType = "remember_me"
	TokenTypeAdminAccess  TokenType = "admin_access"
	TokenTypeAdminRefresh TokenType = "admin_refresh"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh, TokenTypeRememberMe, TokenTypeAdminAccess, TokenTypeAdminRefresh:
		return true
	}
	return false
}

// TokenScope selects which access/refresh pair a session is issued with.
type TokenScope string

const (
	ScopeUser  TokenScope = "user"
	ScopeAdmin TokenScope = "admin"
)

func (s TokenScope) AccessType() TokenType {
	if s == ScopeAdmin {
		return TokenTypeAdminAccess
	}
	return TokenTypeAccess
}

func (s TokenScope) RefreshType() TokenType {
	if s == ScopeAdmin {
		return TokenTypeAdminRefresh
	}
	return TokenTypeRefresh
}

// TokenRecord is one issued login session. Token fields hold the raw token
// in memory; the repository persists only their digests.
type TokenRecord struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	Scope               TokenScope `json:"scope"`
	AccessToken         string     `json:"-"`
	RefreshToken        string     `json:"-"`
	IPAddress           string     `json:"ip_address,omitempty"`
	UserAgent           string     `json:"user_agent,omitempty"`
	Revoked             bool       `json:"revoked"`
	RememberMeToken     *string    `json:"-"`
	IsRememberMeToken   bool       `json:"is_remember_me_token"`
	RememberMeExpiresAt *time.Time `json:"remember_me_expires_at,omitempty"`
	TokenVersion        int        `json:"token_version"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// RememberMeExpired reports whether the wall-clock remember-me deadline has
// passed. Records without a deadline are never remember-me capable.
func (r *TokenRecord) RememberMeExpired(now time.Time) bool {
	if r.RememberMeExpiresAt == nil {
		return true
	}
	return now.After(*r.RememberMeExpiresAt)
}
