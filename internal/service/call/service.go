// Package call implements the call lifecycle coordinator: it owns every
// transition of durable call records and drives the live session directory
// and signaling relay.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	"github.com/vishalthakur2004/Trendly-sub000/internal/relay"
	"github.com/vishalthakur2004/Trendly-sub000/internal/session"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/metrics"
)

// CallRepository persists durable call records
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) (*domain.Call, error)
	Finalize(ctx context.Context, callID uuid.UUID, status domain.CallStatus, clientDuration *int64) (*domain.Call, error)
	AddParticipant(ctx context.Context, callID, userID uuid.UUID) (bool, error)
	MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID) error
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error)
	GetNonTerminal(ctx context.Context) ([]*domain.Call, error)
}

// UserDirectory resolves call targets to real users
type UserDirectory interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// GroupGate resolves group call targeting and authorization
type GroupGate interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	GetMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier delivers durable and push notifications for call events
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID)
	NotifyMissedCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID)
	NotifyCallEnded(ctx context.Context, call *domain.Call, endedBy uuid.UUID, participantIDs []uuid.UUID)
}

// Service coordinates call lifecycle across the durable store, the live
// session directory, and the signaling relay. Durable writes after a call
// is live are best-effort: a failed record update is logged and never
// blocks the real-time path.
type Service struct {
	repo     CallRepository
	users    UserDirectory
	groups   GroupGate
	sessions *session.Directory
	relay    *relay.Relay
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewService creates a call coordinator. notifier and m may be nil.
func NewService(
	repo CallRepository,
	users UserDirectory,
	groups GroupGate,
	sessions *session.Directory,
	r *relay.Relay,
	notifier Notifier,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		groups:   groups,
		sessions: sessions,
		relay:    r,
		notifier: notifier,
		metrics:  m,
	}
}

// Initiate starts a one-to-one or group call: durable record first, then
// live session, then ring events to every invitee. Offline invitees get a
// push notification instead of a ring event.
func (s *Service) Initiate(ctx context.Context, initiatorID uuid.UUID, req *domain.InitiateCallPayload) (*domain.Call, error) {
	if !req.CallType.IsValid() {
		return nil, apperrors.ValidationError("call_type must be audio or video")
	}

	invitees, call, err := s.resolveTarget(ctx, initiatorID, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, call); err != nil {
		return nil, err
	}

	if _, err := s.sessions.Create(call, invitees); err != nil {
		// Random identities do not collide; a duplicate means the record
		// insert raced a live session and must not proceed
		return nil, apperrors.DuplicateCallIDError(call.ID.String())
	}

	// The record follows the session into ringing; failure is logged,
	// the call keeps going
	if updated, err := s.repo.UpdateStatus(ctx, call.ID, domain.CallStatusRinging); err != nil {
		logger.Warn("Failed to move call record to ringing",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
	} else {
		call = updated
	}

	event := domain.EventIncomingCall
	ring := &domain.IncomingCallPayload{
		CallID:   call.ID,
		CallType: call.Type,
		Caller:   req.Caller,
	}
	if call.IsGroup {
		event = domain.EventIncomingGroupCall
		ring.GroupID = call.GroupID
		ring.ParticipantIDs = append([]uuid.UUID{initiatorID}, invitees...)
	}

	var offline []uuid.UUID
	for _, inviteeID := range invitees {
		if !s.relay.ToUser(inviteeID, event, ring) {
			offline = append(offline, inviteeID)
		}
	}

	if s.notifier != nil && len(offline) > 0 {
		s.notifier.NotifyIncomingCall(ctx, call, req.Caller, offline)
	}

	if s.metrics != nil {
		s.metrics.RecordCall(string(call.Type), string(domain.CallStatusInitiated))
		s.metrics.SetActiveCalls(s.sessions.Len())
	}

	logger.Info("Call initiated",
		zap.String("call_id", call.ID.String()),
		zap.String("initiator_id", initiatorID.String()),
		zap.String("call_type", string(call.Type)),
		zap.Bool("is_group", call.IsGroup),
		zap.Int("invitees", len(invitees)))

	return call, nil
}

// resolveTarget validates the call target and returns the invitee list
// plus the new call record
func (s *Service) resolveTarget(ctx context.Context, initiatorID uuid.UUID, req *domain.InitiateCallPayload) ([]uuid.UUID, *domain.Call, error) {
	call := &domain.Call{
		ID:          uuid.New(),
		Type:        req.CallType,
		InitiatorID: initiatorID,
		Status:      domain.CallStatusInitiated,
		StartedAt:   time.Now(),
	}

	switch {
	case req.GroupID != nil:
		member, err := s.groups.IsMember(ctx, *req.GroupID, initiatorID)
		if err != nil {
			return nil, nil, err
		}
		if !member {
			return nil, nil, apperrors.InvalidTargetError("initiator is not a member of the group")
		}

		invitees := req.ParticipantIDs
		if len(invitees) == 0 {
			invitees, err = s.groups.GetMemberIDs(ctx, *req.GroupID)
			if err != nil {
				return nil, nil, err
			}
		}
		invitees = excludeUser(invitees, initiatorID)
		if len(invitees) == 0 {
			return nil, nil, apperrors.InvalidTargetError("group call needs at least one other participant")
		}

		call.IsGroup = true
		call.GroupID = req.GroupID
		return invitees, call, nil

	case req.TargetID != nil:
		if *req.TargetID == initiatorID {
			return nil, nil, apperrors.InvalidTargetError("cannot call yourself")
		}
		if _, err := s.users.GetByID(ctx, *req.TargetID); err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeUserNotFound) {
				return nil, nil, apperrors.InvalidTargetError("call target does not exist")
			}
			return nil, nil, err
		}
		return []uuid.UUID{*req.TargetID}, call, nil

	default:
		return nil, nil, apperrors.InvalidTargetError("either target_id or group_id is required")
	}
}

// Respond applies a callee's accept or decline
func (s *Service) Respond(ctx context.Context, responderID uuid.UUID, req *domain.CallResponsePayload) (*domain.Call, error) {
	sess, err := s.sessions.Get(req.CallID)
	if err != nil {
		return nil, apperrors.CallNotFoundError()
	}

	if !sess.IsInvited(responderID) && !sess.HasParticipant(responderID) {
		return nil, apperrors.UnauthorizedError("user was not invited to this call")
	}

	if req.Accept {
		return s.accept(ctx, sess, responderID, req.Responder)
	}
	return s.decline(ctx, sess, responderID, req.Responder)
}

func (s *Service) accept(ctx context.Context, sess *session.Session, responderID uuid.UUID, responder domain.UserProfile) (*domain.Call, error) {
	peers := sess.Participants()

	added, err := s.sessions.AddParticipant(sess.ID, responderID)
	if err != nil {
		return nil, apperrors.CallNotFoundError()
	}
	sess.MarkActive()

	if added {
		if _, err := s.repo.AddParticipant(ctx, sess.ID, responderID); err != nil {
			logger.Warn("Failed to append participant to call record",
				zap.String("call_id", sess.ID.String()),
				zap.String("user_id", responderID.String()),
				zap.Error(err))
		}
	}

	call, err := s.repo.UpdateStatus(ctx, sess.ID, domain.CallStatusActive)
	if err != nil {
		logger.Warn("Failed to move call record to active",
			zap.String("call_id", sess.ID.String()),
			zap.Error(err))
		call, err = s.repo.GetByID(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
	}

	s.relay.ToUsers(peers, responderID, domain.EventCallAccepted, &domain.CallAnsweredPayload{
		CallID:    sess.ID,
		Responder: responder,
	})

	if s.metrics != nil {
		s.metrics.RecordCall(string(sess.Type), string(domain.CallStatusActive))
	}

	logger.Info("Call accepted",
		zap.String("call_id", sess.ID.String()),
		zap.String("responder_id", responderID.String()))

	return call, nil
}

func (s *Service) decline(ctx context.Context, sess *session.Session, responderID uuid.UUID, responder domain.UserProfile) (*domain.Call, error) {
	if err := s.sessions.Uninvite(sess.ID, responderID); err != nil {
		return nil, apperrors.CallNotFoundError()
	}

	answered := &domain.CallAnsweredPayload{
		CallID:    sess.ID,
		Responder: responder,
	}

	// A declined one-to-one call is over for everyone. A group call keeps
	// ringing the other invitees.
	if !sess.IsGroup {
		participants := sess.Participants()
		s.relay.ToUsers(participants, responderID, domain.EventCallDeclined, answered)
		s.sessions.Delete(sess.ID)

		call, err := s.repo.Finalize(ctx, sess.ID, domain.CallStatusDeclined, nil)
		if err != nil {
			logger.Warn("Failed to finalize declined call record",
				zap.String("call_id", sess.ID.String()),
				zap.Error(err))
			return s.repo.GetByID(ctx, sess.ID)
		}

		if s.metrics != nil {
			s.metrics.RecordCall(string(sess.Type), string(domain.CallStatusDeclined))
			s.metrics.SetActiveCalls(s.sessions.Len())
		}
		return call, nil
	}

	s.relay.ToUsers(sess.Participants(), responderID, domain.EventCallDeclined, answered)

	logger.Info("Group call invite declined",
		zap.String("call_id", sess.ID.String()),
		zap.String("responder_id", responderID.String()))

	return s.repo.GetByID(ctx, sess.ID)
}

// AddParticipant pulls a new user into a live call. The newcomer gets
// added-to-call; everyone already in the call except the actor gets
// participant-joined.
func (s *Service) AddParticipant(ctx context.Context, actorID uuid.UUID, req *domain.AddParticipantPayload) (*domain.Call, error) {
	sess, err := s.sessions.Get(req.CallID)
	if err != nil {
		return nil, apperrors.CallNotFoundError()
	}

	if !sess.HasParticipant(actorID) {
		return nil, apperrors.UnauthorizedError("only call participants may add others")
	}

	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeUserNotFound) {
			return nil, apperrors.InvalidTargetError("participant does not exist")
		}
		return nil, err
	}

	// Snapshot before mutation so the newcomer is excluded from the
	// participant-joined fanout
	peers := sess.Participants()

	added, err := s.sessions.AddParticipant(req.CallID, req.UserID)
	if err != nil {
		return nil, apperrors.CallNotFoundError()
	}
	if !added {
		return nil, apperrors.AlreadyPresentError()
	}

	if _, err := s.repo.AddParticipant(ctx, req.CallID, req.UserID); err != nil {
		logger.Warn("Failed to append participant to call record",
			zap.String("call_id", req.CallID.String()),
			zap.String("user_id", req.UserID.String()),
			zap.Error(err))
	}

	s.relay.ToUser(req.UserID, domain.EventAddedToCall, &domain.AddedToCallPayload{
		CallID:         req.CallID,
		CallType:       sess.Type,
		ParticipantIDs: sess.Participants(),
	})

	s.relay.ToUsers(peers, actorID, domain.EventParticipantJoined, &domain.ParticipantJoinedPayload{
		CallID:      req.CallID,
		Participant: req.Profile,
	})

	logger.Info("Participant added to call",
		zap.String("call_id", req.CallID.String()),
		zap.String("actor_id", actorID.String()),
		zap.String("user_id", req.UserID.String()))

	return s.repo.GetByID(ctx, req.CallID)
}

// End terminates a call for everyone. Ending a still-ringing call is the
// cancellation path and behaves identically.
func (s *Service) End(ctx context.Context, enderID, callID uuid.UUID, clientDuration *int64) (*domain.Call, error) {
	sess, err := s.sessions.Get(callID)
	if err != nil {
		// No live session: finalize the record alone. Covers records
		// orphaned by a restart.
		if err := s.authorizeActor(ctx, callID, enderID); err != nil {
			return nil, err
		}
		return s.repo.Finalize(ctx, callID, domain.CallStatusEnded, clientDuration)
	}

	if !sess.HasParticipant(enderID) {
		return nil, apperrors.UnauthorizedError("only call participants may end the call")
	}

	participants := sess.Participants()
	invited := sess.Invited()
	s.relay.ToUsers(participants, enderID, domain.EventCallEnded, &domain.CallEndedPayload{
		CallID:  callID,
		EndedBy: enderID,
	})
	// Invitees still ringing also need to stop ringing
	s.relay.ToUsers(invited, enderID, domain.EventCallEnded, &domain.CallEndedPayload{
		CallID:  callID,
		EndedBy: enderID,
	})
	s.sessions.Delete(callID)

	call, err := s.repo.Finalize(ctx, callID, domain.CallStatusEnded, clientDuration)
	if err != nil {
		logger.Warn("Failed to finalize ended call record",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return s.repo.GetByID(ctx, callID)
	}

	if s.notifier != nil {
		s.notifier.NotifyCallEnded(ctx, call, enderID, participants)
	}

	if s.metrics != nil {
		s.metrics.RecordCall(string(call.Type), string(domain.CallStatusEnded))
		if call.Duration != nil {
			s.metrics.RecordCallDuration(string(call.Type), time.Duration(*call.Duration)*time.Second)
		}
		s.metrics.SetActiveCalls(s.sessions.Len())
	}

	logger.Info("Call ended",
		zap.String("call_id", callID.String()),
		zap.String("ended_by", enderID.String()))

	return call, nil
}

// UpdateStatus applies a lifecycle transition requested over REST. Terminal
// transitions tear the live session down as well.
func (s *Service) UpdateStatus(ctx context.Context, actorID, callID uuid.UUID, status domain.CallStatus, clientDuration *int64) (*domain.Call, error) {
	if !status.IsValid() {
		return nil, apperrors.ValidationError("unknown call status")
	}

	switch status {
	case domain.CallStatusEnded:
		return s.End(ctx, actorID, callID, clientDuration)
	case domain.CallStatusMissed, domain.CallStatusDeclined:
		if err := s.authorizeActor(ctx, callID, actorID); err != nil {
			return nil, err
		}
		return s.finalizeUnanswered(ctx, callID, status)
	default:
		if err := s.authorizeActor(ctx, callID, actorID); err != nil {
			return nil, err
		}
		return s.repo.UpdateStatus(ctx, callID, status)
	}
}

// authorizeActor verifies the actor is a party to the call: a participant
// or invitee of the live session, or the initiator or a recorded
// participant when no session exists
func (s *Service) authorizeActor(ctx context.Context, callID, actorID uuid.UUID) error {
	if sess, err := s.sessions.Get(callID); err == nil {
		if sess.HasParticipant(actorID) || sess.IsInvited(actorID) {
			return nil
		}
		return apperrors.UnauthorizedError("user is not a party to this call")
	}

	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if call.InitiatorID == actorID {
		return nil
	}

	participants, err := s.repo.GetParticipants(ctx, callID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.UserID == actorID {
			return nil
		}
	}
	return apperrors.UnauthorizedError("user is not a party to this call")
}

// finalizeUnanswered closes a never-established call (missed or declined
// via REST, e.g. the caller's ring timer firing)
func (s *Service) finalizeUnanswered(ctx context.Context, callID uuid.UUID, status domain.CallStatus) (*domain.Call, error) {
	// An accept that landed first wins: a live call is never torn down by
	// a stale ring timer, even if the record update lagged behind
	if sess, err := s.sessions.Get(callID); err == nil && sess.State() == session.StateActive {
		return nil, apperrors.InvalidTransitionError(
			string(domain.CallStatusActive), string(status))
	}

	call, err := s.repo.Finalize(ctx, callID, status, nil)
	if err != nil {
		return nil, err
	}

	if sess, sessErr := s.sessions.Get(callID); sessErr == nil {
		invited := sess.Invited()
		participants := sess.Participants()
		s.relay.ToUsers(participants, call.InitiatorID, domain.EventCallEnded, &domain.CallEndedPayload{
			CallID:  callID,
			EndedBy: call.InitiatorID,
		})
		s.relay.ToUsers(invited, call.InitiatorID, domain.EventCallEnded, &domain.CallEndedPayload{
			CallID:  callID,
			EndedBy: call.InitiatorID,
		})
		s.sessions.Delete(callID)

		if status == domain.CallStatusMissed && s.notifier != nil {
			caller := s.profileOf(ctx, call.InitiatorID)
			s.notifier.NotifyMissedCall(ctx, call, caller, invited)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCall(string(call.Type), string(status))
		s.metrics.SetActiveCalls(s.sessions.Len())
	}

	return call, nil
}

// HandleDisconnect sweeps a user out of every live call after their
// transport dropped without an end-call
func (s *Service) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	for _, callID := range s.sessions.SessionsFor(userID) {
		sess, err := s.sessions.Get(callID)
		if err != nil {
			continue
		}
		wasRinging := sess.State() == session.StateRinging

		remaining, err := s.sessions.RemoveParticipant(callID, userID)
		if err != nil {
			continue
		}

		if err := s.repo.MarkParticipantLeft(ctx, callID, userID); err != nil {
			logger.Warn("Failed to mark participant left on call record",
				zap.String("call_id", callID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}

		if remaining > 0 {
			s.relay.ToUsers(sess.Participants(), userID, domain.EventParticipantDisconnected,
				&domain.ParticipantDisconnectedPayload{
					CallID: callID,
					UserID: userID,
				})
			continue
		}

		// Session drained: close the record so it cannot dangle
		status := domain.CallStatusEnded
		if wasRinging {
			status = domain.CallStatusMissed
		}
		if _, err := s.repo.Finalize(ctx, callID, status, nil); err != nil {
			logger.Warn("Failed to finalize drained call record",
				zap.String("call_id", callID.String()),
				zap.String("status", string(status)),
				zap.Error(err))
		}

		if s.metrics != nil {
			s.metrics.SetActiveCalls(s.sessions.Len())
		}

		logger.Info("Call drained after disconnect",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.String("final_status", string(status)))
	}
}

// RelaySignal forwards a WebRTC offer, answer, or ICE candidate. Targeted
// signals go to the named user; untargeted ones fan out to every other
// participant. Offline targets drop silently.
func (s *Service) RelaySignal(ctx context.Context, senderID uuid.UUID, event string, sig *domain.SignalPayload) error {
	sess, err := s.sessions.Get(sig.CallID)
	if err != nil {
		return apperrors.CallNotFoundError()
	}

	if !sess.CanSignal(senderID) {
		return apperrors.UnauthorizedError("user is not part of this call")
	}

	out := &domain.SignalPayload{
		CallID:   sig.CallID,
		SenderID: &senderID,
		Payload:  sig.Payload,
	}

	if sig.TargetID != nil {
		s.relay.ToUser(*sig.TargetID, event, out)
		return nil
	}

	s.relay.ToUsers(sess.Participants(), senderID, event, out)
	return nil
}

// Get returns a call record with its participants attached
func (s *Service) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	participants, err := s.repo.GetParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		call.Participants = append(call.Participants, *p)
	}

	return call, nil
}

// History returns the user's paginated call history
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, int64, error) {
	calls, err := s.repo.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.repo.CountUserCalls(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return calls, total, nil
}

// ActiveCalls returns the records backing the live sessions
func (s *Service) ActiveCalls(ctx context.Context) []*domain.Call {
	var calls []*domain.Call
	for _, callID := range s.sessions.ActiveCallIDs() {
		call, err := s.repo.GetByID(ctx, callID)
		if err != nil {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func (s *Service) profileOf(ctx context.Context, userID uuid.UUID) domain.UserProfile {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.UserProfile{ID: userID}
	}
	return user.Profile()
}

func excludeUser(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
