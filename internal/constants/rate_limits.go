package constants

import (
	"time"

	"github.com/dcurp/api/internal/models"
)

// Rate-limit scopes. Each scope has its own counters.
const (
	RateLimitScopeLogin   = "login"
	RateLimitScopeSession = "session"
	RateLimitScopeAdmin   = "admin"
)

var (
	// LoginRateLimit guards password and token-redeeming endpoints.
	LoginRateLimit = models.RateLimitRule{
		AuthenticatedLimit:    20,
		UnauthenticatedLimit:  10,
		AuthenticatedWindow:   15 * time.Minute,
		UnauthenticatedWindow: 15 * time.Minute,
	}

	SessionRateLimit = models.RateLimitRule{
		AuthenticatedLimit:    300,
		UnauthenticatedLimit:  60,
		AuthenticatedWindow:   time.Minute,
		UnauthenticatedWindow: time.Minute,
	}

	AdminRateLimit = models.RateLimitRule{
		AuthenticatedLimit:    100,
		UnauthenticatedLimit:  5,
		AuthenticatedWindow:   time.Minute,
		UnauthenticatedWindow: 15 * time.Minute,
	}
)
