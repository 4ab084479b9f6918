package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Signaling event names carried over the real-time channel
const (
	// client -> server
	EventIdentify       = "identify"
	EventInitiateCall   = "initiate-call"
	EventCallResponse   = "call-response"
	EventAddParticipant = "add-participant"
	EventEndCall        = "end-call"

	// client -> server, relayed to targets
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"

	// server -> client
	EventIncomingCall            = "incoming-call"
	EventIncomingGroupCall       = "incoming-group-call"
	EventCallAccepted            = "call-accepted"
	EventCallDeclined            = "call-declined"
	EventAddedToCall             = "added-to-call"
	EventParticipantJoined       = "participant-joined"
	EventCallEnded               = "call-ended"
	EventParticipantDisconnected = "participant-disconnected"
	EventCallError               = "call-error"
)

// Envelope is the wire format for every signaling event
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IdentifyPayload binds a connection to a user identity
type IdentifyPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// InitiateCallPayload starts a one-to-one or group call.
// Exactly one of TargetID or GroupID is set.
type InitiateCallPayload struct {
	CallType       CallType    `json:"call_type"`
	TargetID       *uuid.UUID  `json:"target_id,omitempty"`
	GroupID        *uuid.UUID  `json:"group_id,omitempty"`
	ParticipantIDs []uuid.UUID `json:"participant_ids,omitempty"`
	Caller         UserProfile `json:"caller"`
}

// IncomingCallPayload notifies a callee of a ringing call
type IncomingCallPayload struct {
	CallID         uuid.UUID   `json:"call_id"`
	CallType       CallType    `json:"call_type"`
	Caller         UserProfile `json:"caller"`
	GroupID        *uuid.UUID  `json:"group_id,omitempty"`
	ParticipantIDs []uuid.UUID `json:"participant_ids,omitempty"`
}

// CallResponsePayload carries a callee's accept or decline
type CallResponsePayload struct {
	CallID    uuid.UUID   `json:"call_id"`
	Accept    bool        `json:"accept"`
	Responder UserProfile `json:"responder"`
}

// CallAnsweredPayload notifies the initiator of the callee's decision
type CallAnsweredPayload struct {
	CallID    uuid.UUID   `json:"call_id"`
	Responder UserProfile `json:"responder"`
}

// AddParticipantPayload invites a user into a live call
type AddParticipantPayload struct {
	CallID  uuid.UUID   `json:"call_id"`
	UserID  uuid.UUID   `json:"user_id"`
	Profile UserProfile `json:"profile"`
}

// AddedToCallPayload notifies the invited user
type AddedToCallPayload struct {
	CallID         uuid.UUID   `json:"call_id"`
	CallType       CallType    `json:"call_type"`
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
}

// ParticipantJoinedPayload notifies existing participants of a newcomer
type ParticipantJoinedPayload struct {
	CallID      uuid.UUID   `json:"call_id"`
	Participant UserProfile `json:"participant"`
}

// SignalPayload is a WebRTC offer, answer, or ICE candidate being relayed.
// The payload body is opaque to the server. Inbound, TargetID names the
// recipient; outbound, SenderID names the origin.
type SignalPayload struct {
	CallID   uuid.UUID       `json:"call_id"`
	TargetID *uuid.UUID      `json:"target_id,omitempty"`
	SenderID *uuid.UUID      `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// EndCallPayload ends a call for everyone
type EndCallPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// CallEndedPayload notifies participants the call is over
type CallEndedPayload struct {
	CallID  uuid.UUID `json:"call_id"`
	EndedBy uuid.UUID `json:"ended_by"`
}

// ParticipantDisconnectedPayload notifies remaining participants of a
// transport-level drop
type ParticipantDisconnectedPayload struct {
	CallID uuid.UUID `json:"call_id"`
	UserID uuid.UUID `json:"user_id"`
}

// CallErrorPayload surfaces a signaling failure to the sender
type CallErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEvent parses an envelope's data into its typed payload. Unknown
// event names return an error so the gateway can reject them in one place.
func DecodeEvent(env *Envelope) (any, error) {
	var payload any

	switch env.Event {
	case EventIdentify:
		payload = &IdentifyPayload{}
	case EventInitiateCall:
		payload = &InitiateCallPayload{}
	case EventCallResponse:
		payload = &CallResponsePayload{}
	case EventAddParticipant:
		payload = &AddParticipantPayload{}
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate:
		payload = &SignalPayload{}
	case EventEndCall:
		payload = &EndCallPayload{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Event, err)
	}

	return payload, nil
}
