package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/dcurp/api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
)

// UserRepository is the read-only user directory the auth core consumes.
// Both lookups return (nil, nil) when no row matches.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type userRepository struct {
	db DB
}

func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

const selectUserColumns = `
	SELECT id, email, password_hash, is_active, is_email_verified, is_admin, created_at, updated_at
	FROM users
`

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUserColumns+` WHERE id = $1`, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.db.QueryRow(ctx, selectUserColumns+` WHERE LOWER(email) = $1`, email))
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsEmailVerified,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
