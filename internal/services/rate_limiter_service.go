package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dcurp/api/internal/metrics"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

// RateLimitRequest identifies the caller for one gate check.
type RateLimitRequest struct {
	Scope           string
	IP              string
	IsAuthenticated bool
}

// RateLimitDecision carries the quota figures for the response headers.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Record     *models.RateLimitRecord
}

// RateLimiterService is the per-request rate-limit gate.
type RateLimiterService interface {
	// Check counts the request and decides whether it may proceed.
	//   - blocked: the decision plus utils.ErrRateLimitExceeded
	//   - blacklisted IP: utils.ErrBlacklisted, no decision
	//   - store failure: an error wrapping utils.ErrStorageUnavailable
	Check(ctx context.Context, req RateLimitRequest, rule models.RateLimitRule) (*RateLimitDecision, error)

	AddToBlacklist(ctx context.Context, ip string) error
	RemoveFromBlacklist(ctx context.Context, ip string) error
}

type rateLimiterService struct {
	repo repositories.RateLimitRepository
	now  func() time.Time
}

func NewRateLimiterService(repo repositories.RateLimitRepository) RateLimiterService {
	return &rateLimiterService{repo: repo, now: time.Now}
}

func (s *rateLimiterService) Check(ctx context.Context, req RateLimitRequest, rule models.RateLimitRule) (*RateLimitDecision, error) {
	key := repositories.RateLimitKey{Scope: req.Scope, IP: req.IP}
	limit := rule.LimitFor(req.IsAuthenticated)
	window := rule.WindowFor(req.IsAuthenticated)

	rec, err := s.repo.GetRecord(ctx, key, rule)
	if err != nil {
		return nil, s.storeFailure(req, "get", err)
	}

	if rec != nil && rec.Requests >= limit {
		// Blocked attempts still count; they drive the violation counter.
		if counted, incErr := s.repo.IncrementRecord(ctx, key, req.IsAuthenticated, rule); incErr != nil {
			utils.Logger.WithError(incErr).Warnf("[ratelimit] failed to count blocked request for %s", req.IP)
		} else {
			rec = counted
		}
		return s.blocked(req, rec, limit, window), utils.ErrRateLimitExceeded
	}

	rec, err = s.repo.IncrementRecord(ctx, key, req.IsAuthenticated, rule)
	if err != nil {
		return nil, s.storeFailure(req, "increment", err)
	}
	// A concurrent burst can push the count past the limit between the two
	// calls; the increment result is authoritative.
	if rec.Requests > limit {
		return s.blocked(req, rec, limit, window), utils.ErrRateLimitExceeded
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues(req.Scope, "allowed").Inc()
	return &RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - rec.Requests,
		ResetAt:   rec.LastReset.Add(window),
		Record:    rec,
	}, nil
}

func (s *rateLimiterService) blocked(req RateLimitRequest, rec *models.RateLimitRecord, limit int, window time.Duration) *RateLimitDecision {
	resetAt := rec.LastReset.Add(window)
	retryAfter := resetAt.Sub(s.now())
	if retryAfter < 0 {
		retryAfter = 0
	}

	utils.Logger.WithField("scope", req.Scope).
		Warnf("[ratelimit] limit exceeded for %s (%d/%d, violations=%d)", req.IP, rec.Requests, limit, rec.Violations)
	metrics.RateLimitDecisionsTotal.WithLabelValues(req.Scope, "limited").Inc()

	return &RateLimitDecision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
		Record:     rec,
	}
}

func (s *rateLimiterService) storeFailure(req RateLimitRequest, op string, err error) error {
	if errors.Is(err, utils.ErrBlacklisted) {
		utils.Logger.WithField("scope", req.Scope).Warnf("[ratelimit] rejected blacklisted IP %s", req.IP)
		metrics.RateLimitDecisionsTotal.WithLabelValues(req.Scope, "blacklisted").Inc()
		return utils.ErrBlacklisted
	}
	utils.Logger.WithError(err).Errorf("[ratelimit] store %s failed for %s", op, req.IP)
	metrics.RateLimitDecisionsTotal.WithLabelValues(req.Scope, "error").Inc()
	return fmt.Errorf("%w: %v", utils.ErrStorageUnavailable, err)
}

func (s *rateLimiterService) AddToBlacklist(ctx context.Context, ip string) error {
	if err := s.repo.AddToBlacklist(ctx, ip); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrStorageUnavailable, err)
	}
	utils.Logger.Infof("[ratelimit] IP %s added to blacklist", ip)
	return nil
}

func (s *rateLimiterService) RemoveFromBlacklist(ctx context.Context, ip string) error {
	if err := s.repo.RemoveFromBlacklist(ctx, ip); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrStorageUnavailable, err)
	}
	utils.Logger.Infof("[ratelimit] IP %s removed from blacklist", ip)
	return nil
}

// RetryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
