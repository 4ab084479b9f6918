package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies durable call notifications
type NotificationType string

const (
	NotificationIncomingCall NotificationType = "incoming_call"
	NotificationMissedCall   NotificationType = "missed_call"
	NotificationCallEnded    NotificationType = "call_ended"
)

// Notification is a durable record of a call event shown in the user's
// notification feed
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	CallID    uuid.UUID        `json:"call_id"`
	ActorID   uuid.UUID        `json:"actor_id"`
	Body      string           `json:"body"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
