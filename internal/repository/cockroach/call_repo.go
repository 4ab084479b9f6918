package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
)

// CallRepository handles durable call record operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `id, call_type, is_group, group_id, initiator_id, status,
       started_at, ended_at, duration, created_at`

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.ID,
		&call.Type,
		&call.IsGroup,
		&call.GroupID,
		&call.InitiatorID,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
		&call.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Create inserts a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			id, call_type, is_group, group_id, initiator_id, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.Type,
		call.IsGroup,
		call.GroupID,
		call.InitiatorID,
		call.Status,
		call.StartedAt,
	)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to create call: %w", err))
	}

	return nil
}

// GetByID retrieves a call record by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}

	return call, nil
}

// UpdateStatus applies a non-terminal lifecycle transition. The WHERE
// clause enforces forward-only ordering: a call moves initiated → ringing
// → active and never backward, and a terminal record never transitions
// again. Re-applying the current status is a no-op, not an error, so a
// second accepter in a group call does not conflict.
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) (*domain.Call, error) {
	query := `
		UPDATE calls
		SET status = $2
		WHERE id = $1
		  AND (($2 = 'ringing' AND status IN ('initiated', 'ringing'))
		       OR ($2 = 'active' AND status IN ('initiated', 'ringing', 'active')))
		RETURNING ` + callColumns

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, callID, status)
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to update call status: %w", err))
	}

	return call, nil
}

// Finalize moves a call to a terminal status, stamping ended_at. For an
// ended call the duration is the client-reported value when given,
// otherwise the server-computed elapsed time; missed and declined calls
// carry no duration. Missed and declined only apply to a call that never
// went active: a concurrent accept wins over a late ring timer.
func (r *CallRepository) Finalize(ctx context.Context, callID uuid.UUID, status domain.CallStatus, clientDuration *int64) (*domain.Call, error) {
	if !status.IsTerminal() {
		return nil, apperrors.ValidationError(fmt.Sprintf("status %q is not terminal", status))
	}

	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = now(),
		    duration = CASE WHEN $2 = 'ended'
		        THEN COALESCE($3, EXTRACT(EPOCH FROM (now() - started_at))::INT8)
		        ELSE duration END
		WHERE id = $1
		  AND (($2 = 'ended' AND status NOT IN ('ended', 'missed', 'declined'))
		       OR ($2 IN ('missed', 'declined') AND status IN ('initiated', 'ringing')))
		RETURNING ` + callColumns

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID, status, clientDuration))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, callID, status)
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to finalize call: %w", err))
	}

	return call, nil
}

// classifyMiss distinguishes "no such call", "call already terminal", and
// "transition not allowed from the current state" after a guarded UPDATE
// matched nothing
func (r *CallRepository) classifyMiss(ctx context.Context, callID uuid.UUID, requested domain.CallStatus) error {
	var status domain.CallStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM calls WHERE id = $1`, callID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.CallNotFoundError()
		}
		return apperrors.DatabaseError(fmt.Errorf("failed to classify call state: %w", err))
	}
	if status.IsTerminal() {
		return apperrors.AlreadyTerminalError(string(status))
	}
	return apperrors.InvalidTransitionError(string(status), string(requested))
}

// AddParticipant appends a participant row. Returns false if the user is
// already on the record.
func (r *CallRepository) AddParticipant(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO call_participants (call_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id, user_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, callID, userID, time.Now())
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to add participant: %w", err))
	}

	return tag.RowsAffected() > 0, nil
}

// MarkParticipantLeft stamps the participant's leave time
func (r *CallRepository) MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID) error {
	query := `
		UPDATE call_participants
		SET left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, time.Now())
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to mark participant left: %w", err))
	}

	return nil
}

// GetParticipants retrieves all participant rows for a call in join order
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT call_id, user_id, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get participants: %w", err))
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		if err := rows.Scan(&p.CallID, &p.UserID, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan participant: %w", err))
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// GetUserCalls retrieves the user's call history, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT DISTINCT c.id, c.call_type, c.is_group, c.group_id, c.initiator_id, c.status,
		       c.started_at, c.ended_at, c.duration, c.created_at
		FROM calls c
		LEFT JOIN call_participants cp ON c.id = cp.call_id
		WHERE c.initiator_id = $1 OR cp.user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get user calls: %w", err))
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan call: %w", err))
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// CountUserCalls returns the total number of calls in the user's history
func (r *CallRepository) CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT c.id)
		FROM calls c
		LEFT JOIN call_participants cp ON c.id = cp.call_id
		WHERE c.initiator_id = $1 OR cp.user_id = $1
	`

	var total int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, apperrors.DatabaseError(fmt.Errorf("failed to count user calls: %w", err))
	}

	return total, nil
}

// GetNonTerminal retrieves all call records not yet in a terminal status
func (r *CallRepository) GetNonTerminal(ctx context.Context) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE status NOT IN ('ended', 'missed', 'declined')
		ORDER BY started_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get non-terminal calls: %w", err))
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan call: %w", err))
		}
		calls = append(calls, call)
	}

	return calls, nil
}
