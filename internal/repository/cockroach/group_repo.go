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

// GroupRepository resolves group membership for group call targeting.
// Read-only view over tables owned by the chat service.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// GetByID retrieves a group by ID
func (r *GroupRepository) GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	query := `SELECT id, name, created_at FROM groups WHERE id = $1`

	group := &domain.Group{}
	err := r.pool.QueryRow(ctx, query, groupID).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Group")
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get group: %w", err))
	}

	return group, nil
}

// IsMember reports whether the user belongs to the group
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var isMember bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&isMember)
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to check group membership: %w", err))
	}
	return isMember, nil
}

// GetMemberIDs retrieves all member IDs of a group
func (r *GroupRepository) GetMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get group members: %w", err))
	}
	defer rows.Close()

	var memberIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan group member: %w", err))
		}
		memberIDs = append(memberIDs, id)
	}

	return memberIDs, nil
}
