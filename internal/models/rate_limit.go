package models

import "time"

// RateLimitRecord is the windowed request counter of one client IP within
// one rate-limit scope.
type RateLimitRecord struct {
	Scope           string    `json:"scope"`
	IP              string    `json:"ip"`
	Requests        int       `json:"requests"`
	LastReset       time.Time `json:"last_reset"`
	IsAuthenticated bool      `json:"is_authenticated"`
	Violations      int       `json:"violations"`
}

// RateLimitRule is the per-route (limit, window) pair for authenticated and
// anonymous callers.
type RateLimitRule struct {
	AuthenticatedLimit    int
	UnauthenticatedLimit  int
	AuthenticatedWindow   time.Duration
	UnauthenticatedWindow time.Duration
}

func (r RateLimitRule) LimitFor(isAuthenticated bool) int {
	if isAuthenticated {
		return r.AuthenticatedLimit
	}
	return r.UnauthenticatedLimit
}

func (r RateLimitRule) WindowFor(isAuthenticated bool) time.Duration {
	if isAuthenticated {
		return r.AuthenticatedWindow
	}
	return r.UnauthenticatedWindow
}
