package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

const (
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	initialBackoff = 500 * time.Millisecond
)

// App owns the process-wide store handles. They are created once in NewApp
// and released by Close.
type App struct {
	Config         *config.Config
	DB             *pgxpool.Pool
	RateLimitStore repositories.RateLimitRepository
}

func NewApp(cfg *config.Config) (*App, error) {
	dbPool, err := connectWithRetry(cfg.DBUrl)
	if err != nil {
		return nil, err
	}

	store, err := NewRateLimitStore(cfg)
	if err != nil {
		dbPool.Close()
		return nil, err
	}

	return &App{
		Config:         cfg,
		DB:             dbPool,
		RateLimitStore: store,
	}, nil
}

// NewRateLimitStore builds the backend selected by RATE_LIMIT_BACKEND.
func NewRateLimitStore(cfg *config.Config) (repositories.RateLimitRepository, error) {
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendRedis:
		client, err := repositories.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		utils.Logger.Info("Using Redis rate limit store")
		return repositories.NewRedisRateLimitRepository(client, nil), nil
	case config.RateLimitBackendSQLite, "":
		store, err := repositories.NewSQLiteRateLimitRepository(cfg.RateLimitDBPath, nil)
		if err != nil {
			return nil, err
		}
		utils.Logger.Infof("Using SQLite rate limit store at %s", cfg.RateLimitDBPath)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimitBackend)
	}
}

func connectWithRetry(databaseURL string) (*pgxpool.Pool, error) {
	backoff := initialBackoff
	for i := 1; ; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		dbPool, err := newDBPool(ctx, databaseURL)
		cancel()
		if err == nil {
			utils.Logger.Infof("Successfully connected to database on attempt %d", i)
			return dbPool, nil
		}

		if i == maxRetries {
			return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", maxRetries, err)
		}
		utils.Logger.WithError(err).Warnf(
			"Failed to connect to database on attempt %d/%d. Retrying in %v...",
			i, maxRetries, backoff,
		)
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (a *App) Close() {
	if a.RateLimitStore != nil {
		if err := a.RateLimitStore.Close(); err != nil {
			utils.Logger.WithError(err).Warn("Failed to close rate limit store")
		} else {
			utils.Logger.Info("Rate limit store closed.")
		}
	}
	if a.DB != nil {
		a.DB.Close()
		utils.Logger.Info("Database connection closed.")
	}
}

// newDBPool retires idle connections before upstream proxies drop them and
// keeps the rest warm with periodic health checks.
func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	return pgxpool.ConnectConfig(ctx, cfg)
}
