package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes audio-only from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// IsValid reports whether the call type is a known value
func (t CallType) IsValid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a durable call record
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
)

// IsTerminal reports whether the status is final. Terminal records never
// transition again.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed || s == CallStatusDeclined
}

// IsValid reports whether the status is a known value
func (s CallStatus) IsValid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusActive,
		CallStatusEnded, CallStatusMissed, CallStatusDeclined:
		return true
	}
	return false
}

// Call represents a durable call record
type Call struct {
	ID          uuid.UUID  `json:"id"`
	Type        CallType   `json:"type"`
	IsGroup     bool       `json:"is_group"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	InitiatorID uuid.UUID  `json:"initiator_id"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Duration    *int64     `json:"duration,omitempty"` // seconds
	CreatedAt   time.Time  `json:"created_at"`

	// Participants who joined the call, in join order
	Participants []CallParticipant `json:"participants,omitempty"`
}

// CallParticipant represents a participant row on a call record
type CallParticipant struct {
	CallID   uuid.UUID  `json:"call_id"`
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}
