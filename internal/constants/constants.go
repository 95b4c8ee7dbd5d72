package constants

import "time"

const (
	AppName = "dcu-api"

	// Token lifetimes
	AccessTokenTTL       = 45 * time.Minute
	RefreshTokenTTL      = 7 * 24 * time.Hour
	RememberMeTokenTTL   = 14 * 24 * time.Hour
	RememberMeSessionTTL = 14 * 24 * time.Hour
	MaxTokenAge          = 30 * 24 * time.Hour

	// short_token_ttl flag
	ShortAccessTokenTTL  = 2 * time.Second
	ShortRefreshTokenTTL = 8 * time.Second

	AdminAccessTokenTTL  = 15 * time.Minute
	AdminRefreshTokenTTL = 24 * time.Hour

	// Rate limiting
	RateLimitViolationThreshold = 3
	RateLimitRecordTTL          = 24 * time.Hour

	// Extra origin allowed when cors_high_security is off.
	CORSLowSecurityAllowedOriginLocalhost = "http://localhost:3000"
)
