// Package notification persists call notifications and fans them out to
// user devices via push providers.
package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/push"
)

// Repository persists notification rows
type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, int64, error)
	MarkAsRead(ctx context.Context, notificationID, userID uuid.UUID) error
}

// Service handles call notification delivery. Failures here are logged and
// absorbed; a lost notification must never break a live call.
type Service struct {
	repo     Repository
	tokens   push.TokenRepository
	provider push.Provider
}

// NewService creates a notification service
func NewService(repo Repository, tokens push.TokenRepository, provider push.Provider) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		provider: provider,
	}
}

// NotifyIncomingCall records and pushes an incoming-call notification to
// each offline callee. Online callees already got the real-time event.
func (s *Service) NotifyIncomingCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID) {
	body := fmt.Sprintf("%s is calling you", displayName(caller))

	for _, calleeID := range calleeIDs {
		s.persist(ctx, &domain.Notification{
			UserID:  calleeID,
			Type:    domain.NotificationIncomingCall,
			CallID:  call.ID,
			ActorID: caller.ID,
			Body:    body,
		})
	}

	s.sendPush(ctx, calleeIDs, &push.Notification{
		Title:    "Incoming Call",
		Body:     body,
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":      "incoming_call",
			"call_id":   call.ID.String(),
			"call_type": string(call.Type),
			"caller_id": caller.ID.String(),
		},
	})
}

// NotifyMissedCall records and pushes a missed-call notification
func (s *Service) NotifyMissedCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID) {
	body := fmt.Sprintf("You missed a call from %s", displayName(caller))

	for _, calleeID := range calleeIDs {
		s.persist(ctx, &domain.Notification{
			UserID:  calleeID,
			Type:    domain.NotificationMissedCall,
			CallID:  call.ID,
			ActorID: caller.ID,
			Body:    body,
		})
	}

	s.sendPush(ctx, calleeIDs, &push.Notification{
		Title:    "Missed Call",
		Body:     body,
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":      "missed_call",
			"call_id":   call.ID.String(),
			"caller_id": caller.ID.String(),
		},
	})
}

// NotifyCallEnded records a call-ended notification for participants
func (s *Service) NotifyCallEnded(ctx context.Context, call *domain.Call, endedBy uuid.UUID, participantIDs []uuid.UUID) {
	for _, participantID := range participantIDs {
		if participantID == endedBy {
			continue
		}
		s.persist(ctx, &domain.Notification{
			UserID:  participantID,
			Type:    domain.NotificationCallEnded,
			CallID:  call.ID,
			ActorID: endedBy,
			Body:    "Call ended",
		})
	}
}

// List returns a user's notifications, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, int64, error) {
	return s.repo.GetByUserID(ctx, userID, limit, offset)
}

// MarkRead marks a notification as read
func (s *Service) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, notificationID, userID)
}

func (s *Service) persist(ctx context.Context, n *domain.Notification) {
	if err := s.repo.Create(ctx, n); err != nil {
		logger.Warn("Failed to persist call notification",
			zap.String("user_id", n.UserID.String()),
			zap.String("call_id", n.CallID.String()),
			zap.String("type", string(n.Type)),
			zap.Error(err))
	}
}

func (s *Service) sendPush(ctx context.Context, userIDs []uuid.UUID, notification *push.Notification) {
	if s.provider == nil || s.tokens == nil {
		return
	}

	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.tokens.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		return
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		logger.Error("Failed to send push notification",
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return
	}

	for _, invalid := range result.InvalidTokens {
		if err := s.tokens.MarkInactive(ctx, invalid); err != nil {
			logger.Warn("Failed to mark push token inactive", zap.Error(err))
		}
	}
}

func displayName(profile domain.UserProfile) string {
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return profile.Username
}
