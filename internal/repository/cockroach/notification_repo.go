package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
)

// NotificationRepository handles durable call notification records
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create inserts a notification row
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO call_notifications (id, user_id, type, call_id, actor_id, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, NOW())
		RETURNING created_at
	`

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.CallID,
		n.ActorID,
		n.Body,
	).Scan(&n.CreatedAt)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to create notification: %w", err))
	}

	return nil
}

// GetByUserID retrieves a user's notifications with pagination, newest first
func (r *NotificationRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, int64, error) {
	query := `
		SELECT id, user_id, type, call_id, actor_id, body, read, created_at
		FROM call_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.DatabaseError(fmt.Errorf("failed to query notifications: %w", err))
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.CallID, &n.ActorID, &n.Body, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, 0, apperrors.DatabaseError(fmt.Errorf("failed to scan notification: %w", err))
		}
		notifications = append(notifications, n)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM call_notifications WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, apperrors.DatabaseError(fmt.Errorf("failed to count notifications: %w", err))
	}

	return notifications, total, nil
}

// MarkAsRead marks a notification as read
func (r *NotificationRepository) MarkAsRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	query := `
		UPDATE call_notifications
		SET read = true
		WHERE id = $1 AND user_id = $2
	`

	tag, err := r.pool.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to mark notification read: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Notification")
	}

	return nil
}
