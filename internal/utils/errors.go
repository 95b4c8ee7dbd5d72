package utils

import "errors"

// Domain-level errors used by the service layer to provide
// fine-grained failure reasons.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountInactive    = errors.New("account_inactive")
	ErrNotAdmin           = errors.New("not_admin")

	// For rate limiting
	ErrRateLimitExceeded  = errors.New("rate_limit_exceeded")
	ErrBlacklisted        = errors.New("ip_blacklisted")
	ErrStorageUnavailable = errors.New("storage_unavailable")

	// For external service failures (SendGrid)
	ErrExternalServiceFailure = errors.New("external_service_failure")
)
