package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	"github.com/vishalthakur2004/Trendly-sub000/internal/relay"
	"github.com/vishalthakur2004/Trendly-sub000/internal/registry"
	"github.com/vishalthakur2004/Trendly-sub000/internal/session"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeCallRepo is an in-memory CallRepository with the same transition
// guard semantics as the SQL implementation
type fakeCallRepo struct {
	mu           sync.Mutex
	calls        map[uuid.UUID]*domain.Call
	participants map[uuid.UUID][]uuid.UUID
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{
		calls:        make(map[uuid.UUID]*domain.Call),
		participants: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeCallRepo) Create(ctx context.Context, call *domain.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *call
	cp.CreatedAt = time.Now()
	f.calls[call.ID] = &cp
	return nil
}

func (f *fakeCallRepo) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	cp := *call
	return &cp, nil
}

func (f *fakeCallRepo) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) (*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.AlreadyTerminalError(string(call.Status))
	}
	if !forwardTransitionAllowed(call.Status, status) {
		return nil, apperrors.InvalidTransitionError(string(call.Status), string(status))
	}
	call.Status = status
	cp := *call
	return &cp, nil
}

// forwardTransitionAllowed mirrors the SQL ordering guard: initiated →
// ringing → active, re-applying the current status is a no-op
func forwardTransitionAllowed(from, to domain.CallStatus) bool {
	switch to {
	case domain.CallStatusRinging:
		return from == domain.CallStatusInitiated || from == domain.CallStatusRinging
	case domain.CallStatusActive:
		return from == domain.CallStatusInitiated || from == domain.CallStatusRinging ||
			from == domain.CallStatusActive
	default:
		return false
	}
}

func (f *fakeCallRepo) Finalize(ctx context.Context, callID uuid.UUID, status domain.CallStatus, clientDuration *int64) (*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.AlreadyTerminalError(string(call.Status))
	}
	// Missed and declined only close a call that never went active
	if status != domain.CallStatusEnded &&
		call.Status != domain.CallStatusInitiated && call.Status != domain.CallStatusRinging {
		return nil, apperrors.InvalidTransitionError(string(call.Status), string(status))
	}
	call.Status = status
	now := time.Now()
	call.EndedAt = &now
	if status == domain.CallStatusEnded {
		var duration int64
		if clientDuration != nil {
			duration = *clientDuration
		} else {
			duration = int64(now.Sub(call.StartedAt).Seconds())
		}
		call.Duration = &duration
	}
	cp := *call
	return &cp, nil
}

func (f *fakeCallRepo) AddParticipant(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.participants[callID] {
		if id == userID {
			return false, nil
		}
	}
	f.participants[callID] = append(f.participants[callID], userID)
	return true, nil
}

func (f *fakeCallRepo) MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID) error {
	return nil
}

func (f *fakeCallRepo) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.CallParticipant
	for _, id := range f.participants[callID] {
		out = append(out, &domain.CallParticipant{CallID: callID, UserID: id})
	}
	return out, nil
}

func (f *fakeCallRepo) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Call
	for _, call := range f.calls {
		if call.InitiatorID == userID {
			cp := *call
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCallRepo) CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error) {
	calls, _ := f.GetUserCalls(ctx, userID, 0, 0)
	return int64(len(calls)), nil
}

func (f *fakeCallRepo) GetNonTerminal(ctx context.Context) ([]*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Call
	for _, call := range f.calls {
		if !call.Status.IsTerminal() {
			cp := *call
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeUsers struct {
	known map[uuid.UUID]*domain.User
}

func (f *fakeUsers) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, ok := f.known[userID]
	if !ok {
		return nil, apperrors.UserNotFoundError()
	}
	return user, nil
}

type fakeGroups struct {
	members map[uuid.UUID][]uuid.UUID
}

func (f *fakeGroups) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	for _, id := range f.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGroups) GetMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return f.members[groupID], nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	incoming [][]uuid.UUID
	missed   [][]uuid.UUID
	ended    int
}

func (f *fakeNotifier) NotifyIncomingCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = append(f.incoming, calleeIDs)
}

func (f *fakeNotifier) NotifyMissedCall(ctx context.Context, call *domain.Call, caller domain.UserProfile, calleeIDs []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missed = append(f.missed, calleeIDs)
}

func (f *fakeNotifier) NotifyCallEnded(ctx context.Context, call *domain.Call, endedBy uuid.UUID, participantIDs []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}

type sentEvent struct {
	name    string
	payload any
}

type fakeConn struct {
	mu     sync.Mutex
	userID uuid.UUID
	events []sentEvent
}

func (c *fakeConn) SendEvent(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{name: event, payload: payload})
	return nil
}

func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) eventNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.name
	}
	return names
}

func (c *fakeConn) countEvent(name string) int {
	n := 0
	for _, got := range c.eventNames() {
		if got == name {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	repo     *fakeCallRepo
	users    *fakeUsers
	groups   *fakeGroups
	notifier *fakeNotifier
	reg      *registry.Registry
	sessions *session.Directory
}

func newFixture() *fixture {
	repo := newFakeCallRepo()
	users := &fakeUsers{known: make(map[uuid.UUID]*domain.User)}
	groups := &fakeGroups{members: make(map[uuid.UUID][]uuid.UUID)}
	notifier := &fakeNotifier{}
	reg := registry.New()
	sessions := session.NewDirectory()

	svc := NewService(repo, users, groups, sessions, relay.New(reg, nil), notifier, nil)

	return &fixture{
		svc:      svc,
		repo:     repo,
		users:    users,
		groups:   groups,
		notifier: notifier,
		reg:      reg,
		sessions: sessions,
	}
}

func (f *fixture) addUser(username string) (uuid.UUID, *fakeConn) {
	id := uuid.New()
	f.users.known[id] = &domain.User{ID: id, Username: username}
	conn := &fakeConn{userID: id}
	f.reg.Register(id, conn)
	return id, conn
}

func (f *fixture) addOfflineUser(username string) uuid.UUID {
	id := uuid.New()
	f.users.known[id] = &domain.User{ID: id, Username: username}
	return id
}

func profile(id uuid.UUID, username string) domain.UserProfile {
	return domain.UserProfile{ID: id, Username: username}
}

// Full happy path: initiate, accept, end with client-reported duration
func TestOneToOneCallLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, aliceConn := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, 1, bobConn.countEvent(domain.EventIncomingCall))
	assert.Empty(t, aliceConn.events, "initiator does not ring itself")

	_, err = f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID:    call.ID,
		Accept:    true,
		Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, aliceConn.countEvent(domain.EventCallAccepted))

	sess, err := f.sessions.Get(call.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, sess.State())
	assert.ElementsMatch(t, []uuid.UUID{aliceID, bobID}, sess.Participants())

	duration := int64(125)
	ended, err := f.svc.End(ctx, aliceID, call.ID, &duration)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.Duration)
	assert.Equal(t, int64(125), *ended.Duration, "client-reported duration wins")
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, 1, bobConn.countEvent(domain.EventCallEnded))
	assert.Equal(t, 0, aliceConn.countEvent(domain.EventCallEnded), "ender is excluded")

	_, err = f.sessions.Get(call.ID)
	assert.ErrorIs(t, err, session.ErrNotFound, "ended session is removed")
}

// Callee never answers, caller marks the call missed
func TestUnansweredCallMarkedMissed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, bobConn.countEvent(domain.EventIncomingCall))

	missed, err := f.svc.UpdateStatus(ctx, aliceID, call.ID, domain.CallStatusMissed, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, missed.Status)
	assert.Nil(t, missed.Duration, "missed calls carry no duration")

	_, err = f.sessions.Get(call.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.Len(t, f.notifier.missed, 1)
	assert.Equal(t, []uuid.UUID{bobID}, f.notifier.missed[0])
}

// Offline invitee gets a push notification instead of a ring event
func TestInitiateOfflineCalleeGetsNotification(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID := f.addOfflineUser("bob")

	_, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	require.Len(t, f.notifier.incoming, 1)
	assert.Equal(t, []uuid.UUID{bobID}, f.notifier.incoming[0])
}

func TestInitiateInvalidTarget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	unknown := uuid.New()

	_, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &unknown,
		Caller:   profile(aliceID, "alice"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTarget))

	_, err = f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &aliceID,
		Caller:   profile(aliceID, "alice"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTarget), "self-call is invalid")
}

func TestInitiateGroupCallRequiresMembership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	outsiderID, _ := f.addUser("outsider")
	groupID := uuid.New()
	memberID := f.addOfflineUser("member")
	f.groups.members[groupID] = []uuid.UUID{memberID}

	_, err := f.svc.Initiate(ctx, outsiderID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		GroupID:  &groupID,
		Caller:   profile(outsiderID, "outsider"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTarget))
}

func TestGroupCallRingsAllMembers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")
	carolID, carolConn := f.addUser("carol")

	groupID := uuid.New()
	f.groups.members[groupID] = []uuid.UUID{aliceID, bobID, carolID}

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		GroupID:  &groupID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)
	assert.True(t, call.IsGroup)

	assert.Equal(t, 1, bobConn.countEvent(domain.EventIncomingGroupCall))
	assert.Equal(t, 1, carolConn.countEvent(domain.EventIncomingGroupCall))
}

// A declined one-to-one call is over for everyone
func TestDeclineEndsOneToOneCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, aliceConn := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	declined, err := f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID:    call.ID,
		Accept:    false,
		Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, declined.Status)
	assert.Equal(t, 1, aliceConn.countEvent(domain.EventCallDeclined))

	_, err = f.sessions.Get(call.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRespondUninvitedUserRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")
	eveID, _ := f.addUser("eve")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, eveID, &domain.CallResponsePayload{
		CallID:    call.ID,
		Accept:    true,
		Responder: profile(eveID, "eve"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

// The newcomer gets added-to-call; pre-existing participants except the
// actor get participant-joined
func TestAddParticipantFanout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, aliceConn := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")
	carolID, carolConn := f.addUser("carol")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID:    call.ID,
		Accept:    true,
		Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)

	_, err = f.svc.AddParticipant(ctx, aliceID, &domain.AddParticipantPayload{
		CallID:  call.ID,
		UserID:  carolID,
		Profile: profile(carolID, "carol"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, carolConn.countEvent(domain.EventAddedToCall))
	assert.Equal(t, 1, bobConn.countEvent(domain.EventParticipantJoined))
	assert.Equal(t, 0, aliceConn.countEvent(domain.EventParticipantJoined), "actor gets nothing")

	sess, err := f.sessions.Get(call.ID)
	require.NoError(t, err)
	assert.Len(t, sess.Participants(), 3)
}

func TestAddParticipantAlreadyPresentIsSoft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID: call.ID, Accept: true, Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)

	_, err = f.svc.AddParticipant(ctx, aliceID, &domain.AddParticipantPayload{
		CallID:  call.ID,
		UserID:  bobID,
		Profile: profile(bobID, "bob"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyPresent))

	sess, err := f.sessions.Get(call.ID)
	require.NoError(t, err)
	assert.Len(t, sess.Participants(), 2, "no duplicate participant")
}

// A transport drop in a three-party call leaves the session
// alive for the remaining two
func TestDisconnectLeavesGroupCallRunning(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, aliceConn := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")
	carolID, carolConn := f.addUser("carol")

	groupID := uuid.New()
	f.groups.members[groupID] = []uuid.UUID{aliceID, bobID, carolID}

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		GroupID:  &groupID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	for _, id := range []uuid.UUID{bobID, carolID} {
		_, err = f.svc.Respond(ctx, id, &domain.CallResponsePayload{
			CallID: call.ID, Accept: true, Responder: profile(id, "u"),
		})
		require.NoError(t, err)
	}

	f.svc.HandleDisconnect(ctx, carolID)

	assert.Equal(t, 1, aliceConn.countEvent(domain.EventParticipantDisconnected))
	assert.Equal(t, 1, bobConn.countEvent(domain.EventParticipantDisconnected))
	assert.Equal(t, 0, carolConn.countEvent(domain.EventParticipantDisconnected))

	sess, err := f.sessions.Get(call.ID)
	require.NoError(t, err, "session with remaining participants survives")
	assert.Len(t, sess.Participants(), 2)
}

// When the last participant drops, the session drains and the record is
// auto-finalized so it cannot dangle
func TestDisconnectDrainsSessionAndFinalizesRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID := f.addOfflineUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	f.svc.HandleDisconnect(ctx, aliceID)

	_, err = f.sessions.Get(call.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, record.Status, "never-active call drains to missed")
}

// Targeted signals reach only the target, with the
// sender stamped; offline targets drop silently
func TestRelaySignalTargeted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, aliceConn := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	err = f.svc.RelaySignal(ctx, aliceID, domain.EventWebRTCOffer, &domain.SignalPayload{
		CallID:   call.ID,
		TargetID: &bobID,
		Payload:  json.RawMessage(`{"sdp":"v=0"}`),
	})
	require.NoError(t, err)

	require.Equal(t, 1, bobConn.countEvent(domain.EventWebRTCOffer))
	assert.Equal(t, 0, aliceConn.countEvent(domain.EventWebRTCOffer))

	relayed := bobConn.events[len(bobConn.events)-1].payload.(*domain.SignalPayload)
	require.NotNil(t, relayed.SenderID)
	assert.Equal(t, aliceID, *relayed.SenderID, "relay stamps the sender")
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(relayed.Payload), "payload is opaque")
}

func TestRelaySignalOfflineTargetSilent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID := f.addOfflineUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	err = f.svc.RelaySignal(ctx, aliceID, domain.EventWebRTCICECandidate, &domain.SignalPayload{
		CallID:   call.ID,
		TargetID: &bobID,
		Payload:  json.RawMessage(`{"candidate":"..."}`),
	})
	assert.NoError(t, err, "offline target is not an error")
}

func TestRelaySignalOutsiderRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")
	eveID, _ := f.addUser("eve")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	err = f.svc.RelaySignal(ctx, eveID, domain.EventWebRTCOffer, &domain.SignalPayload{
		CallID:  call.ID,
		Payload: json.RawMessage(`{}`),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

// Terminal states are absorbing
func TestTerminalStatusIsMonotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.End(ctx, aliceID, call.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, aliceID, call.ID, domain.CallStatusMissed, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyTerminal))

	_, err = f.svc.UpdateStatus(ctx, aliceID, call.ID, domain.CallStatusActive, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyTerminal))

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, record.Status)
}

// The caller's ring timer firing after the callee accepted must not
// clobber the live call
func TestLateMissedTimerLosesToAccept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID:    call.ID,
		Accept:    true,
		Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, aliceID, call.ID, domain.CallStatusMissed, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, record.Status, "accept wins")

	_, err = f.sessions.Get(call.ID)
	assert.NoError(t, err, "live session survives the stale timer")
	assert.Equal(t, 0, bobConn.countEvent(domain.EventCallEnded))
}

// A call only moves forward through the lifecycle
func TestStatusNeverMovesBackward(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, bobID, &domain.CallResponsePayload{
		CallID: call.ID, Accept: true, Responder: profile(bobID, "bob"),
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, aliceID, call.ID, domain.CallStatusRinging, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, record.Status)
}

// Only a party to the call may drive its lifecycle over REST
func TestLifecycleTransitionsRequireParty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")
	eveID, _ := f.addUser("eve")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, eveID, call.ID, domain.CallStatusMissed, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, record.Status)

	// With no live session, End falls back to the durable record and must
	// still reject outsiders
	orphan := &domain.Call{
		ID:          uuid.New(),
		Type:        domain.CallTypeAudio,
		InitiatorID: aliceID,
		Status:      domain.CallStatusActive,
		StartedAt:   time.Now(),
	}
	require.NoError(t, f.repo.Create(ctx, orphan))

	_, err = f.svc.End(ctx, eveID, orphan.ID, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	ended, err := f.svc.End(ctx, aliceID, orphan.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status, "the initiator may close an orphaned record")
}

// Without a client-reported duration the server computes it
func TestEndComputesDurationWhenClientOmitsIt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeAudio,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, aliceID, call.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, ended.Duration)
	assert.GreaterOrEqual(t, *ended.Duration, int64(0))
}

func TestSweepStaleRinging(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, bobConn := f.addUser("bob")

	call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
		CallType: domain.CallTypeVideo,
		TargetID: &bobID,
		Caller:   profile(aliceID, "alice"),
	})
	require.NoError(t, err)

	sess, err := f.sessions.Get(call.ID)
	require.NoError(t, err)
	sess.CreatedAt = time.Now().Add(-2 * time.Minute)

	swept := f.svc.SweepStaleRinging(ctx, 45*time.Second)
	assert.Equal(t, 1, swept)

	record, err := f.repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, record.Status)
	assert.Equal(t, 1, bobConn.countEvent(domain.EventCallEnded), "ringing invitee told to stop")

	_, err = f.sessions.Get(call.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestReconcileStaleRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Orphan: non-terminal record with no session (simulated restart)
	orphan := &domain.Call{
		ID:          uuid.New(),
		Type:        domain.CallTypeVideo,
		InitiatorID: uuid.New(),
		Status:      domain.CallStatusActive,
		StartedAt:   time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, f.repo.Create(ctx, orphan))

	// Fresh record still inside the grace window
	fresh := &domain.Call{
		ID:          uuid.New(),
		Type:        domain.CallTypeAudio,
		InitiatorID: uuid.New(),
		Status:      domain.CallStatusRinging,
		StartedAt:   time.Now(),
	}
	require.NoError(t, f.repo.Create(ctx, fresh))

	reconciled := f.svc.ReconcileStaleRecords(ctx, 2*time.Minute)
	assert.Equal(t, 1, reconciled)

	record, err := f.repo.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, record.Status, "active orphan closes as ended")

	record, err = f.repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, record.Status, "fresh record untouched")
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	aliceID, _ := f.addUser("alice")
	bobID, _ := f.addUser("bob")

	for i := 0; i < 3; i++ {
		call, err := f.svc.Initiate(ctx, aliceID, &domain.InitiateCallPayload{
			CallType: domain.CallTypeAudio,
			TargetID: &bobID,
			Caller:   profile(aliceID, "alice"),
		})
		require.NoError(t, err)
		_, err = f.svc.End(ctx, aliceID, call.ID, nil)
		require.NoError(t, err)
	}

	calls, total, err := f.svc.History(ctx, aliceID, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, calls, 3)
}
