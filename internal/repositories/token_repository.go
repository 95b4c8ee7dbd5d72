package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/utils"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

// TokenRepository persists issued sessions in auth_tokens. Rows are never
// deleted; logout, rotation and security actions set revoked = TRUE.
//
// Every lookup is scoped to (user_id, token digest, revoked = FALSE). Records
// returned by the Find* methods carry token digests, not raw tokens.
type TokenRepository interface {
	Create(ctx context.Context, rec *models.TokenRecord) error

	FindActiveByAccessToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error)
	FindActiveByRefreshToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error)
	FindActiveByRememberMeToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error)

	// FindActiveByTokens returns every non-revoked record of the user whose
	// access, refresh or remember-me token is one of rawTokens.
	FindActiveByTokens(ctx context.Context, userID uuid.UUID, rawTokens []string) ([]*models.TokenRecord, error)

	// ReplaceRecord inserts newRec and revokes oldID in one transaction. If
	// oldID is already revoked nothing is written and utils.ErrTokenRevoked
	// is returned. When newRec has no remember-me token of its own, the old
	// record's remember-me digest and deadline move over to the inserted row.
	// newRec is not modified; the returned record is the row as stored.
	ReplaceRecord(ctx context.Context, newRec *models.TokenRecord, oldID uuid.UUID) (*models.TokenRecord, error)

	// RevokeRecords revokes all ids in one transaction and returns how many
	// were still active.
	RevokeRecords(ctx context.Context, ids []uuid.UUID) (int64, error)

	RevokeAllRememberMeByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
}

type tokenRepository struct {
	db DB
}

func NewTokenRepository(db DB) TokenRepository {
	return &tokenRepository{db: db}
}

const selectTokenColumns = `
	SELECT id, user_id, scope, access_token_hash, refresh_token_hash,
	       ip_address, user_agent, revoked, remember_me_token_hash,
	       is_remember_me_token, remember_me_expires_at, token_version,
	       last_used_at, created_at, updated_at
	FROM auth_tokens
`

// ----------------------------
// Create
// ----------------------------

func (r *tokenRepository) Create(ctx context.Context, rec *models.TokenRecord) error {
	return insertToken(ctx, r.db, rec, rememberMeDigest(rec))
}

func rememberMeDigest(rec *models.TokenRecord) *string {
	if rec.RememberMeToken == nil {
		return nil
	}
	h := utils.HashToken(*rec.RememberMeToken)
	return &h
}

func insertToken(ctx context.Context, db DB, rec *models.TokenRecord, rememberHash *string) error {
	query := `
		INSERT INTO auth_tokens (
			id, user_id, scope, access_token_hash, refresh_token_hash,
			ip_address, user_agent, revoked, remember_me_token_hash,
			is_remember_me_token, remember_me_expires_at, token_version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return db.QueryRow(ctx, query,
		rec.ID,
		rec.UserID,
		string(rec.Scope),
		utils.HashToken(rec.AccessToken),
		utils.HashToken(rec.RefreshToken),
		rec.IPAddress,
		rec.UserAgent,
		rememberHash,
		rec.IsRememberMeToken,
		rec.RememberMeExpiresAt,
		rec.TokenVersion,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// ----------------------------
// Lookups
// ----------------------------

func (r *tokenRepository) FindActiveByAccessToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error) {
	return r.findActive(ctx, "access_token_hash", userID, rawToken)
}

func (r *tokenRepository) FindActiveByRefreshToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error) {
	return r.findActive(ctx, "refresh_token_hash", userID, rawToken)
}

func (r *tokenRepository) FindActiveByRememberMeToken(ctx context.Context, userID uuid.UUID, rawToken string) (*models.TokenRecord, error) {
	return r.findActive(ctx, "remember_me_token_hash", userID, rawToken)
}

// column is one of the fixed digest column names above, never user input.
func (r *tokenRepository) findActive(ctx context.Context, column string, userID uuid.UUID, rawToken string) (*models.TokenRecord, error) {
	query := selectTokenColumns + `WHERE user_id = $1 AND ` + column + ` = $2 AND revoked = FALSE LIMIT 1`

	rec, err := scanToken(r.db.QueryRow(ctx, query, userID, utils.HashToken(rawToken)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *tokenRepository) FindActiveByTokens(ctx context.Context, userID uuid.UUID, rawTokens []string) ([]*models.TokenRecord, error) {
	hashes := make([]string, 0, len(rawTokens))
	for _, raw := range rawTokens {
		if raw != "" {
			hashes = append(hashes, utils.HashToken(raw))
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	query := selectTokenColumns + `
		WHERE user_id = $1 AND revoked = FALSE
		  AND (access_token_hash = ANY($2::text[])
		       OR refresh_token_hash = ANY($2::text[])
		       OR remember_me_token_hash = ANY($2::text[]))
	`
	rows, err := r.db.Query(ctx, query, userID, hashes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ----------------------------
// Rotation / revocation
// ----------------------------

func (r *tokenRepository) ReplaceRecord(ctx context.Context, newRec *models.TokenRecord, oldID uuid.UUID) (*models.TokenRecord, error) {
	stored := *newRec
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var (
			oldRememberHash     *string
			oldRememberDeadline *time.Time
		)
		err := tx.QueryRow(ctx, `
			UPDATE auth_tokens
			SET revoked = TRUE, last_used_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND revoked = FALSE
			RETURNING remember_me_token_hash, remember_me_expires_at
		`, oldID).Scan(&oldRememberHash, &oldRememberDeadline)
		if errors.Is(err, pgx.ErrNoRows) {
			return utils.ErrTokenRevoked
		}
		if err != nil {
			return fmt.Errorf("revoke old token record: %w", err)
		}

		rememberHash := rememberMeDigest(&stored)
		if rememberHash == nil && oldRememberHash != nil {
			rememberHash = oldRememberHash
			stored.IsRememberMeToken = true
			stored.RememberMeExpiresAt = oldRememberDeadline
		}

		if err := insertToken(ctx, tx, &stored, rememberHash); err != nil {
			return fmt.Errorf("insert rotated token record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *tokenRepository) RevokeRecords(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	var revoked int64
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE auth_tokens
			SET revoked = TRUE, last_used_at = NOW(), updated_at = NOW()
			WHERE id = ANY($1::uuid[]) AND revoked = FALSE
		`, idStrings)
		if err != nil {
			return err
		}
		revoked = tag.RowsAffected()
		return nil
	})
	return revoked, err
}

func (r *tokenRepository) RevokeAllRememberMeByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE auth_tokens
		SET revoked = TRUE, last_used_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND is_remember_me_token = TRUE AND revoked = FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ----------------------------
// Scanning
// ----------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.TokenRecord, error) {
	var (
		rec   models.TokenRecord
		scope string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&scope,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.IPAddress,
		&rec.UserAgent,
		&rec.Revoked,
		&rec.RememberMeToken,
		&rec.IsRememberMeToken,
		&rec.RememberMeExpiresAt,
		&rec.TokenVersion,
		&rec.LastUsedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Scope = models.TokenScope(scope)
	return &rec, nil
}
