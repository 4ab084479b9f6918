package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
)

// UserRepository resolves platform users. The call service reads the users
// table owned by the account service; it never writes it.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, created_at
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get user: %w", err))
	}

	return user, nil
}

// Exists reports whether a user ID resolves to a real user
func (r *UserRepository) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to check user existence: %w", err))
	}
	return exists, nil
}
