package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/utils"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteRateLimitRepository keeps counters in a single SQLite file so they
// survive restarts. All timestamps are unix milliseconds.
//
// Every operation is one transaction on the only pooled connection. Writes
// come first inside each transaction so the write lock is taken up front
// and other processes sharing the file wait on busy_timeout instead of
// failing a lock upgrade.
type sqliteRateLimitRepository struct {
	db  *sql.DB
	now Clock
}

var sqliteRateLimitSchema = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_records (
		scope            TEXT    NOT NULL,
		ip               TEXT    NOT NULL,
		requests         INTEGER NOT NULL DEFAULT 0,
		last_reset       INTEGER NOT NULL,
		is_authenticated INTEGER NOT NULL DEFAULT 0,
		violations       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, ip)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_records_last_reset ON rate_limit_records (last_reset);`,
	`CREATE TABLE IF NOT EXISTS rate_limit_blacklist (
		ip         TEXT    PRIMARY KEY,
		created_at INTEGER NOT NULL
	);`,
}

// NewSQLiteRateLimitRepository opens (creating if needed) the database file
// at path and ensures the schema exists.
func NewSQLiteRateLimitRepository(path string, now Clock) (RateLimitRepository, error) {
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite rate limit store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, q := range sqliteRateLimitSchema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite rate limit schema: %w", err)
		}
	}
	return &sqliteRateLimitRepository{db: db, now: now}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// isTransientSQLiteError matches lock contention that outlived busy_timeout.
func isTransientSQLiteError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *sqliteRateLimitRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *sqliteRateLimitRepository) GetRecord(ctx context.Context, key RateLimitKey, rule models.RateLimitRule) (*models.RateLimitRecord, error) {
	nowMs := r.now().UnixMilli()

	var rec *models.RateLimitRecord
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		// Read-triggered window reset.
		if _, err := tx.ExecContext(ctx, `
			UPDATE rate_limit_records
			SET requests = 0, last_reset = ?1, violations = 0
			WHERE scope = ?2 AND ip = ?3
			  AND ?1 > last_reset + CASE WHEN is_authenticated = 1 THEN ?4 ELSE ?5 END
		`, nowMs, key.Scope, key.IP,
			rule.AuthenticatedWindow.Milliseconds(),
			rule.UnauthenticatedWindow.Milliseconds(),
		); err != nil {
			return err
		}

		blacklisted, err := isBlacklistedTx(ctx, tx, key.IP)
		if err != nil {
			return err
		}
		if blacklisted {
			return utils.ErrBlacklisted
		}

		var (
			requests, violations, isAuth int
			lastReset                    int64
		)
		err = tx.QueryRowContext(ctx, `
			SELECT requests, last_reset, is_authenticated, violations
			FROM rate_limit_records WHERE scope = ? AND ip = ?
		`, key.Scope, key.IP).Scan(&requests, &lastReset, &isAuth, &violations)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		rec = &models.RateLimitRecord{
			Scope:           key.Scope,
			IP:              key.IP,
			Requests:        requests,
			LastReset:       time.UnixMilli(lastReset),
			IsAuthenticated: isAuth == 1,
			Violations:      violations,
		}
		return nil
	})
	if errors.Is(err, utils.ErrBlacklisted) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get rate limit record: %w", err)
	}
	return rec, nil
}

func (r *sqliteRateLimitRepository) IncrementRecord(ctx context.Context, key RateLimitKey, isAuthenticated bool, rule models.RateLimitRule) (*models.RateLimitRecord, error) {
	nowMs := r.now().UnixMilli()
	limit := rule.LimitFor(isAuthenticated)

	rec := &models.RateLimitRecord{
		Scope:           key.Scope,
		IP:              key.IP,
		IsAuthenticated: isAuthenticated,
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		// SET expressions read the pre-update row, so "elapsed" below always
		// refers to the stored window.
		var lastReset int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO rate_limit_records (scope, ip, requests, last_reset, is_authenticated, violations)
			VALUES (?1, ?2, 1, ?3, ?4, CASE WHEN 1 > ?5 THEN 1 ELSE 0 END)
			ON CONFLICT (scope, ip) DO UPDATE SET
				requests = CASE
					WHEN ?3 > last_reset + CASE WHEN is_authenticated = 1 THEN ?6 ELSE ?7 END THEN 1
					ELSE requests + 1
				END,
				violations = CASE
					WHEN ?3 > last_reset + CASE WHEN is_authenticated = 1 THEN ?6 ELSE ?7 END
						THEN CASE WHEN 1 > ?5 THEN 1 ELSE 0 END
					ELSE violations + CASE WHEN requests + 1 > ?5 THEN 1 ELSE 0 END
				END,
				last_reset = CASE
					WHEN ?3 > last_reset + CASE WHEN is_authenticated = 1 THEN ?6 ELSE ?7 END THEN ?3
					ELSE last_reset
				END,
				is_authenticated = ?4
			RETURNING requests, last_reset, violations
		`, key.Scope, key.IP, nowMs, boolToInt(isAuthenticated), limit,
			rule.AuthenticatedWindow.Milliseconds(),
			rule.UnauthenticatedWindow.Milliseconds(),
		).Scan(&rec.Requests, &lastReset, &rec.Violations)
		if err != nil {
			return err
		}
		rec.LastReset = time.UnixMilli(lastReset)

		if rec.Violations >= constants.RateLimitViolationThreshold {
			return addToBlacklistTx(ctx, tx, key.IP, nowMs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite increment rate limit record: %w", err)
	}
	return rec, nil
}

func (r *sqliteRateLimitRepository) ResetRecord(ctx context.Context, key RateLimitKey) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rate_limit_records
		SET requests = 0, last_reset = ?, violations = 0
		WHERE scope = ? AND ip = ?
	`, r.now().UnixMilli(), key.Scope, key.IP)
	return err
}

func (r *sqliteRateLimitRepository) CleanupOldRecords(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_records WHERE last_reset < ?`,
		cleanupCutoff(r.now()).UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqliteRateLimitRepository) AddToBlacklist(ctx context.Context, ip string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return addToBlacklistTx(ctx, tx, ip, r.now().UnixMilli())
	})
}

func (r *sqliteRateLimitRepository) RemoveFromBlacklist(ctx context.Context, ip string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_blacklist WHERE ip = ?`, ip)
	return err
}

func (r *sqliteRateLimitRepository) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rate_limit_blacklist WHERE ip = ?)`, ip,
	).Scan(&exists)
	return exists == 1, err
}

func (r *sqliteRateLimitRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqliteRateLimitRepository) Close() error {
	return r.db.Close()
}

func isBlacklistedTx(ctx context.Context, tx *sql.Tx, ip string) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rate_limit_blacklist WHERE ip = ?)`, ip,
	).Scan(&exists)
	return exists == 1, err
}

func addToBlacklistTx(ctx context.Context, tx *sql.Tx, ip string, nowMs int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_blacklist (ip, created_at) VALUES (?, ?) ON CONFLICT (ip) DO NOTHING`,
		ip, nowMs,
	)
	return err
}
