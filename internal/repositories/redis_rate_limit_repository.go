package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/utils"
	"github.com/go-redis/redis/v8"
)

const (
	redisRecordPrefix   = "ratelimit:rec:"
	redisBlacklistKey   = "ratelimit:blacklist"
	redisCleanupBatch   = 500
	redisBlacklistedTag = -1
)

// Record hash fields: requests, last_reset (unix ms), is_authenticated (0|1),
// violations. Scripts run atomically inside Redis, which serializes every
// mutation of one key.

// KEYS[1] record, KEYS[2] blacklist set
// ARGV ip, now_ms, auth_window_ms, unauth_window_ms
var getRecordScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return -1
end
local rec = redis.call('HMGET', KEYS[1], 'requests', 'last_reset', 'is_authenticated', 'violations')
if not rec[1] or not rec[2] then
  return false
end
local now = tonumber(ARGV[2])
local requests = tonumber(rec[1])
local last_reset = tonumber(rec[2])
local is_auth = rec[3] or '0'
local violations = tonumber(rec[4]) or 0
local window = tonumber(ARGV[4])
if is_auth == '1' then window = tonumber(ARGV[3]) end
if now > last_reset + window then
  requests = 0
  last_reset = now
  violations = 0
  redis.call('HSET', KEYS[1], 'requests', 0, 'last_reset', now, 'violations', 0)
end
return {requests, last_reset, tonumber(is_auth), violations}
`)

// KEYS[1] record, KEYS[2] blacklist set
// ARGV ip, now_ms, is_auth, auth_window_ms, unauth_window_ms, limit, threshold, ttl_ms
var incrementRecordScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local rec = redis.call('HMGET', KEYS[1], 'requests', 'last_reset', 'is_authenticated', 'violations')
local requests = tonumber(rec[1])
local last_reset = tonumber(rec[2])
local violations = tonumber(rec[4]) or 0
if not requests or not last_reset then
  requests = 0
  last_reset = now
  violations = 0
else
  local window = tonumber(ARGV[5])
  if rec[3] == '1' then window = tonumber(ARGV[4]) end
  if now > last_reset + window then
    requests = 0
    last_reset = now
    violations = 0
  end
end
requests = requests + 1
if requests > tonumber(ARGV[6]) then
  violations = violations + 1
end
redis.call('HSET', KEYS[1], 'requests', requests, 'last_reset', last_reset, 'is_authenticated', ARGV[3], 'violations', violations)
redis.call('PEXPIRE', KEYS[1], ARGV[8])
if violations >= tonumber(ARGV[7]) then
  redis.call('SADD', KEYS[2], ARGV[1])
end
return {requests, last_reset, violations}
`)

// KEYS[1] record; ARGV now_ms
var resetRecordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'requests', 0, 'last_reset', ARGV[1], 'violations', 0)
return 1
`)

// KEYS[1] record; ARGV cutoff_ms
var cleanupRecordScript = redis.NewScript(`
local last_reset = tonumber(redis.call('HGET', KEYS[1], 'last_reset'))
if last_reset and last_reset < tonumber(ARGV[1]) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type redisRateLimitRepository struct {
	client *redis.Client
	now    Clock
}

// NewRedisRateLimitRepository wraps an existing client. The repository owns
// the client from here on and closes it in Close.
func NewRedisRateLimitRepository(client *redis.Client, now Clock) RateLimitRepository {
	if now == nil {
		now = time.Now
	}
	return &redisRateLimitRepository{client: client, now: now}
}

// NewRedisClient parses a redis:// URL into a client. Connections are opened
// lazily on first use.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func redisRecordKey(key RateLimitKey) string {
	return redisRecordPrefix + key.Scope + ":" + key.IP
}

func (r *redisRateLimitRepository) GetRecord(ctx context.Context, key RateLimitKey, rule models.RateLimitRule) (*models.RateLimitRecord, error) {
	var res any
	err := r.withRetry(ctx, func() error {
		var runErr error
		res, runErr = getRecordScript.Run(ctx, r.client,
			[]string{redisRecordKey(key), redisBlacklistKey},
			key.IP,
			r.now().UnixMilli(),
			rule.AuthenticatedWindow.Milliseconds(),
			rule.UnauthenticatedWindow.Milliseconds(),
		).Result()
		return runErr
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get rate limit record: %w", err)
	}

	if n, ok := res.(int64); ok && n == redisBlacklistedTag {
		return nil, utils.ErrBlacklisted
	}
	vals, err := int64Slice(res, 4)
	if err != nil {
		return nil, err
	}
	return &models.RateLimitRecord{
		Scope:           key.Scope,
		IP:              key.IP,
		Requests:        int(vals[0]),
		LastReset:       time.UnixMilli(vals[1]),
		IsAuthenticated: vals[2] == 1,
		Violations:      int(vals[3]),
	}, nil
}

func (r *redisRateLimitRepository) IncrementRecord(ctx context.Context, key RateLimitKey, isAuthenticated bool, rule models.RateLimitRule) (*models.RateLimitRecord, error) {
	authFlag := "0"
	if isAuthenticated {
		authFlag = "1"
	}

	var res any
	err := r.withRetry(ctx, func() error {
		var runErr error
		res, runErr = incrementRecordScript.Run(ctx, r.client,
			[]string{redisRecordKey(key), redisBlacklistKey},
			key.IP,
			r.now().UnixMilli(),
			authFlag,
			rule.AuthenticatedWindow.Milliseconds(),
			rule.UnauthenticatedWindow.Milliseconds(),
			rule.LimitFor(isAuthenticated),
			constants.RateLimitViolationThreshold,
			constants.RateLimitRecordTTL.Milliseconds(),
		).Result()
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("redis increment rate limit record: %w", err)
	}

	vals, err := int64Slice(res, 3)
	if err != nil {
		return nil, err
	}
	return &models.RateLimitRecord{
		Scope:           key.Scope,
		IP:              key.IP,
		Requests:        int(vals[0]),
		LastReset:       time.UnixMilli(vals[1]),
		IsAuthenticated: isAuthenticated,
		Violations:      int(vals[2]),
	}, nil
}

func (r *redisRateLimitRepository) ResetRecord(ctx context.Context, key RateLimitKey) error {
	return r.withRetry(ctx, func() error {
		return resetRecordScript.Run(ctx, r.client, []string{redisRecordKey(key)}, r.now().UnixMilli()).Err()
	})
}

// CleanupOldRecords walks the record keyspace with SCAN. Records also carry
// a 24h PEXPIRE, so this mostly catches keys written by older deployments.
func (r *redisRateLimitRepository) CleanupOldRecords(ctx context.Context) (int64, error) {
	cutoff := cleanupCutoff(r.now()).UnixMilli()

	var (
		cursor  uint64
		removed int64
	)
	for {
		var (
			keys []string
			next uint64
		)
		err := r.withRetry(ctx, func() error {
			var err error
			keys, next, err = r.client.Scan(ctx, cursor, redisRecordPrefix+"*", redisCleanupBatch).Result()
			return err
		})
		if err != nil {
			return removed, fmt.Errorf("redis scan rate limit records: %w", err)
		}
		for _, k := range keys {
			var n int64
			err := r.withRetry(ctx, func() error {
				var err error
				n, err = cleanupRecordScript.Run(ctx, r.client, []string{k}, cutoff).Int64()
				return err
			})
			if err != nil {
				return removed, fmt.Errorf("redis cleanup %s: %w", k, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *redisRateLimitRepository) AddToBlacklist(ctx context.Context, ip string) error {
	return r.withRetry(ctx, func() error {
		return r.client.SAdd(ctx, redisBlacklistKey, ip).Err()
	})
}

func (r *redisRateLimitRepository) RemoveFromBlacklist(ctx context.Context, ip string) error {
	return r.withRetry(ctx, func() error {
		return r.client.SRem(ctx, redisBlacklistKey, ip).Err()
	})
}

func (r *redisRateLimitRepository) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	var member bool
	err := r.withRetry(ctx, func() error {
		var e error
		member, e = r.client.SIsMember(ctx, redisBlacklistKey, ip).Result()
		return e
	})
	return member, err
}

func (r *redisRateLimitRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisRateLimitRepository) Close() error {
	return r.client.Close()
}

// withRetry runs op once more when the first attempt hit a dropped
// connection. The pool hands out a fresh connection on the second try.
func (r *redisRateLimitRepository) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isTransientRedisError(err) || ctx.Err() != nil {
		return err
	}
	utils.Logger.WithError(err).Warn("[ratelimit] redis connection dropped, retrying once")
	return op()
}

func isTransientRedisError(err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, redis.ErrClosed) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

func int64Slice(res any, n int) ([]int64, error) {
	items, ok := res.([]any)
	if !ok || len(items) != n {
		return nil, fmt.Errorf("unexpected redis script reply %T", res)
	}
	out := make([]int64, n)
	for i, it := range items {
		v, ok := it.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected redis script element %T", it)
		}
		out[i] = v
	}
	return out, nil
}
