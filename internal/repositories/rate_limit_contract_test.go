package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/utils"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var contractRule = models.RateLimitRule{
	AuthenticatedLimit:    5,
	UnauthenticatedLimit:  2,
	AuthenticatedWindow:   10 * time.Minute,
	UnauthenticatedWindow: time.Minute,
}

// newRateLimitStore builds a fresh backend bound to clock.
type newRateLimitStore func(t *testing.T, clock *testClock) RateLimitRepository

// uniqueKey keeps shared backends (Redis) from leaking state between cases.
func uniqueKey() RateLimitKey {
	id := uuid.New()
	return RateLimitKey{
		Scope: "test-" + id.String()[:8],
		IP:    fmt.Sprintf("10.%d.%d.%d", id[0], id[1], id[2]),
	}
}

// runRateLimitContract checks the behaviour every rate limit backend shares.
func runRateLimitContract(t *testing.T, newStore newRateLimitStore) {
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		rec, err := repo.GetRecord(ctx, uniqueKey(), contractRule)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("increment creates and counts", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()

		rec, err := repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Requests)
		assert.Equal(t, 0, rec.Violations)
		assert.Equal(t, clock.Now().UnixMilli(), rec.LastReset.UnixMilli())

		rec, err = repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Requests)

		got, err := repo.GetRecord(ctx, key, contractRule)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.Requests)
		assert.False(t, got.IsAuthenticated)
	})

	t.Run("classification follows latest request", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		key := uniqueKey()

		_, err := repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		_, err = repo.IncrementRecord(ctx, key, true, contractRule)
		require.NoError(t, err)

		got, err := repo.GetRecord(ctx, key, contractRule)
		require.NoError(t, err)
		assert.True(t, got.IsAuthenticated)
		assert.Equal(t, 2, got.Requests)
	})

	t.Run("violations past the limit", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		key := uniqueKey()

		for i := 0; i < 2; i++ {
			rec, err := repo.IncrementRecord(ctx, key, false, contractRule)
			require.NoError(t, err)
			assert.Zero(t, rec.Violations)
		}
		rec, err := repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Requests)
		assert.Equal(t, 1, rec.Violations)
	})

	t.Run("three violations blacklist the ip", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()
		t.Cleanup(func() { _ = repo.RemoveFromBlacklist(ctx, key.IP) })

		for i := 0; i < 5; i++ {
			_, err := repo.IncrementRecord(ctx, key, false, contractRule)
			require.NoError(t, err)
		}

		blacklisted, err := repo.IsBlacklisted(ctx, key.IP)
		require.NoError(t, err)
		assert.True(t, blacklisted)

		_, err = repo.GetRecord(ctx, key, contractRule)
		assert.ErrorIs(t, err, utils.ErrBlacklisted)

		// Blacklisting is per IP and outlives the window.
		clock.Advance(48 * time.Hour)
		_, err = repo.GetRecord(ctx, RateLimitKey{Scope: "other", IP: key.IP}, contractRule)
		assert.ErrorIs(t, err, utils.ErrBlacklisted)

		require.NoError(t, repo.RemoveFromBlacklist(ctx, key.IP))
		_, err = repo.GetRecord(ctx, key, contractRule)
		assert.NoError(t, err)
	})

	t.Run("elapsed window resets on read", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()

		for i := 0; i < 3; i++ {
			_, err := repo.IncrementRecord(ctx, key, false, contractRule)
			require.NoError(t, err)
		}

		clock.Advance(contractRule.UnauthenticatedWindow + time.Second)
		got, err := repo.GetRecord(ctx, key, contractRule)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Zero(t, got.Requests)
		assert.Zero(t, got.Violations)
		assert.Equal(t, clock.Now().UnixMilli(), got.LastReset.UnixMilli())

		rec, err := repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Requests)
	})

	t.Run("elapsed window resets on increment", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()

		for i := 0; i < 3; i++ {
			_, err := repo.IncrementRecord(ctx, key, false, contractRule)
			require.NoError(t, err)
		}
		clock.Advance(contractRule.UnauthenticatedWindow + time.Second)

		rec, err := repo.IncrementRecord(ctx, key, false, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Requests)
		assert.Zero(t, rec.Violations)
		assert.Equal(t, clock.Now().UnixMilli(), rec.LastReset.UnixMilli())
	})

	t.Run("window follows stored classification", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()

		_, err := repo.IncrementRecord(ctx, key, true, contractRule)
		require.NoError(t, err)

		// Past the anonymous window but inside the authenticated one.
		clock.Advance(2 * time.Minute)
		got, err := repo.GetRecord(ctx, key, contractRule)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Requests)
	})

	t.Run("reset record", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		key := uniqueKey()

		for i := 0; i < 3; i++ {
			_, err := repo.IncrementRecord(ctx, key, false, contractRule)
			require.NoError(t, err)
		}
		clock.Advance(10 * time.Second)
		require.NoError(t, repo.ResetRecord(ctx, key))

		got, err := repo.GetRecord(ctx, key, contractRule)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Zero(t, got.Requests)
		assert.Zero(t, got.Violations)
		assert.Equal(t, clock.Now().UnixMilli(), got.LastReset.UnixMilli())
	})

	t.Run("cleanup drops records older than a day", func(t *testing.T) {
		clock := newTestClock()
		repo := newStore(t, clock)
		stale, fresh := uniqueKey(), uniqueKey()

		_, err := repo.IncrementRecord(ctx, stale, false, contractRule)
		require.NoError(t, err)
		clock.Advance(23 * time.Hour)
		_, err = repo.IncrementRecord(ctx, fresh, false, contractRule)
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)

		removed, err := repo.CleanupOldRecords(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))

		got, err := repo.GetRecord(ctx, stale, contractRule)
		require.NoError(t, err)
		assert.Nil(t, got)

		// The fresh record survives cleanup (its window is reset by the read).
		got, err = repo.GetRecord(ctx, fresh, contractRule)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		key := uniqueKey()
		rule := models.RateLimitRule{
			AuthenticatedLimit: 1000, UnauthenticatedLimit: 1000,
			AuthenticatedWindow: time.Hour, UnauthenticatedWindow: time.Hour,
		}

		const workers, perWorker = 8, 10
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := repo.IncrementRecord(ctx, key, false, rule)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		got, err := repo.GetRecord(ctx, key, rule)
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker, got.Requests)
	})

	t.Run("manual blacklist", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		key := uniqueKey()

		require.NoError(t, repo.AddToBlacklist(ctx, key.IP))
		require.NoError(t, repo.AddToBlacklist(ctx, key.IP))
		_, err := repo.GetRecord(ctx, key, contractRule)
		assert.ErrorIs(t, err, utils.ErrBlacklisted)

		require.NoError(t, repo.RemoveFromBlacklist(ctx, key.IP))
		blacklisted, err := repo.IsBlacklisted(ctx, key.IP)
		require.NoError(t, err)
		assert.False(t, blacklisted)
	})

	t.Run("ping", func(t *testing.T) {
		repo := newStore(t, newTestClock())
		assert.NoError(t, repo.Ping(ctx))
	})
}
