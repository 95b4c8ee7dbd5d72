package services

import (
	"context"
	"time"

	"github.com/dcurp/api/internal/metrics"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

const cleanupRetryDelay = 3 * time.Second

// RateLimitCleanupService drops stale rate limit records on a schedule.
type RateLimitCleanupService interface {
	CleanupHourly(ctx context.Context) error
}

type rateLimitCleanupService struct {
	repo       repositories.RateLimitRepository
	retryDelay time.Duration
}

func NewRateLimitCleanupService(repo repositories.RateLimitRepository) RateLimitCleanupService {
	return &rateLimitCleanupService{repo: repo, retryDelay: cleanupRetryDelay}
}

// runWithRetry retries op once after a short pause when it failed with a
// transient connection error.
func (s *rateLimitCleanupService) runWithRetry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !repositories.IsTransientError(err) {
		return err
	}
	utils.Logger.WithError(err).Warn("rate limit cleanup hit transient store error; retrying once")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return op(ctx)
}

func (s *rateLimitCleanupService) CleanupHourly(ctx context.Context) error {
	var removed int64
	err := s.runWithRetry(ctx, func(ctx context.Context) error {
		n, err := s.repo.CleanupOldRecords(ctx)
		removed = n
		return err
	})
	if err != nil {
		utils.Logger.WithError(err).Error("Failed to cleanup stale rate limit records")
		return err
	}

	metrics.RateLimitRecordsCleanedTotal.Add(float64(removed))
	utils.Logger.Infof("Rate limit cleanup completed, removed %d record(s)", removed)
	return nil
}
