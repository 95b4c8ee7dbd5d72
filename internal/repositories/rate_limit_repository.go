package repositories

import (
	"context"
	"time"

	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/models"
)

// RateLimitKey identifies one counter: the client IP within a rate-limit
// scope (usually one per route group).
type RateLimitKey struct {
	Scope string
	IP    string
}

// RateLimitRepository is the contract shared by every rate-limit backend.
// Each operation is atomic per key; concurrent increments for the same key
// never lose updates.
type RateLimitRepository interface {
	// GetRecord fails with utils.ErrBlacklisted when the IP is blacklisted,
	// returns (nil, nil) when no record exists, and resets the record in
	// place when its window (picked by the stored classification) elapsed.
	GetRecord(ctx context.Context, key RateLimitKey, rule models.RateLimitRule) (*models.RateLimitRecord, error)

	// IncrementRecord fetches or creates the record, counts one request and
	// stores isAuthenticated as the latest classification. When the new
	// count exceeds the limit for that classification a violation is
	// recorded; reaching the violation threshold blacklists the IP.
	IncrementRecord(ctx context.Context, key RateLimitKey, isAuthenticated bool, rule models.RateLimitRule) (*models.RateLimitRecord, error)

	// ResetRecord zeroes counters and violations and restarts the window.
	ResetRecord(ctx context.Context, key RateLimitKey) error

	// CleanupOldRecords drops records whose window started more than 24h ago.
	CleanupOldRecords(ctx context.Context) (int64, error)

	AddToBlacklist(ctx context.Context, ip string) error
	RemoveFromBlacklist(ctx context.Context, ip string) error
	IsBlacklisted(ctx context.Context, ip string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Backends take one so tests can move
// windows without sleeping.
type Clock func() time.Time

func cleanupCutoff(now time.Time) time.Time {
	return now.Add(-constants.RateLimitRecordTTL)
}

// IsTransientError reports whether err from a rate-limit store is a dropped
// connection or lock contention that a single retry may clear.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	return isTransientRedisError(err) || isTransientSQLiteError(err)
}
