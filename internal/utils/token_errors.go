package utils

import (
	"errors"
	"fmt"
)

// TokenErrorCode is the stable, client-visible reason a token was refused.
type TokenErrorCode string

const (
	TokenRequired           TokenErrorCode = "token_required"
	TokenInvalidStructure   TokenErrorCode = "invalid_token_structure"
	TokenExpired            TokenErrorCode = "token_expired"
	TokenMaxAgeExceeded     TokenErrorCode = "token_max_age_exceeded"
	TokenUserNotFound       TokenErrorCode = "user_not_found"
	TokenOwnershipMismatch  TokenErrorCode = "token_ownership_mismatch"
	TokenAccountInactive    TokenErrorCode = "account_inactive"
	TokenRevoked            TokenErrorCode = "token_revoked"
	TokenIPMismatch         TokenErrorCode = "ip_mismatch"
	TokenDeviceMismatch     TokenErrorCode = "device_mismatch"
	TokenRememberMeExpired  TokenErrorCode = "remember_me_expired"
	TokenNoTokensFound      TokenErrorCode = "no_tokens_found"
	TokenRememberMeNotFound TokenErrorCode = "remember_me_not_found"
)

// Comparable sentinels: errors.Is(err, utils.ErrTokenRevoked) matches any
// *TokenError carrying the same code.
var (
	ErrTokenRequired           = &TokenError{Code: TokenRequired}
	ErrTokenInvalidStructure   = &TokenError{Code: TokenInvalidStructure}
	ErrTokenExpired            = &TokenError{Code: TokenExpired}
	ErrTokenMaxAgeExceeded     = &TokenError{Code: TokenMaxAgeExceeded}
	ErrTokenUserNotFound       = &TokenError{Code: TokenUserNotFound}
	ErrTokenOwnershipMismatch  = &TokenError{Code: TokenOwnershipMismatch}
	ErrTokenAccountInactive    = &TokenError{Code: TokenAccountInactive}
	ErrTokenRevoked            = &TokenError{Code: TokenRevoked}
	ErrTokenIPMismatch         = &TokenError{Code: TokenIPMismatch}
	ErrTokenDeviceMismatch     = &TokenError{Code: TokenDeviceMismatch}
	ErrTokenRememberMeExpired  = &TokenError{Code: TokenRememberMeExpired}
	ErrNoTokensFound           = &TokenError{Code: TokenNoTokensFound}
	ErrRememberMeTokenNotFound = &TokenError{Code: TokenRememberMeNotFound}
)

// Token status values reported in UserStatus.
const (
	TokenStatusValid   = "valid"
	TokenStatusInvalid = "invalid"
)

// UserStatus is the best-known state of the account behind a token. It
// is attached to validation failures so callers can degrade to a guest
// session instead of failing the request.
type UserStatus struct {
	IsActive    bool   `json:"is_active"`
	IsVerified  bool   `json:"is_verified"`
	TokenStatus string `json:"token_status"`
}

// TokenError is a recoverable token validation failure.
type TokenError struct {
	Code       TokenErrorCode
	UserStatus *UserStatus
	Err        error
}

// NewTokenError builds a TokenError. status and cause may be nil.
func NewTokenError(code TokenErrorCode, status *UserStatus, cause error) *TokenError {
	return &TokenError{Code: code, UserStatus: status, Err: cause}
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is matches on code only, so the package sentinels work with errors.Is.
func (e *TokenError) Is(target error) bool {
	var t *TokenError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// AsTokenError returns the TokenError in err's chain, if any.
func AsTokenError(err error) (*TokenError, bool) {
	var tokErr *TokenError
	if errors.As(err, &tokErr) {
		return tokErr, true
	}
	return nil, false
}
