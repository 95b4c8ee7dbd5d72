//go:build integration

package repositories

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisRateLimitRepository(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	runRateLimitContract(t, func(t *testing.T, clock *testClock) RateLimitRepository {
		client, err := NewRedisClient(redisURL)
		require.NoError(t, err)
		repo := NewRedisRateLimitRepository(client, clock.Now)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}
