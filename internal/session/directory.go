// Package session holds the in-memory directory of live call sessions.
// Sessions exist only while a call is in progress; they are not persisted
// and do not survive a restart.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
)

var (
	// ErrNotFound indicates no live session exists for the call identity
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate indicates a session already exists for the call identity
	ErrDuplicate = errors.New("session already exists")
)

// State is the live state of a session
type State string

const (
	// StateRinging means no invitee has accepted yet
	StateRinging State = "ringing"
	// StateActive means at least one invitee accepted
	StateActive State = "active"
)

// Session is the live state of one call. All mutations for a given call
// identity go through its own mutex, so concurrent join/leave/disconnect
// events cannot lose updates.
type Session struct {
	ID          uuid.UUID
	Type        domain.CallType
	IsGroup     bool
	GroupID     *uuid.UUID
	InitiatorID uuid.UUID
	CreatedAt   time.Time

	mu           sync.Mutex
	state        State
	participants []uuid.UUID          // joined, in join order
	members      map[uuid.UUID]bool   // joined, for O(1) membership
	invited      map[uuid.UUID]bool   // invited but not yet joined
	deleted      bool
}

// State returns the session's live state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkActive transitions the session out of ringing. Idempotent.
func (s *Session) MarkActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateActive
}

// Participants returns a snapshot of joined participants in join order
func (s *Session) Participants() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uuid.UUID, len(s.participants))
	copy(out, s.participants)
	return out
}

// HasParticipant reports whether the user has joined the session
func (s *Session) HasParticipant(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[userID]
}

// IsInvited reports whether the user is invited but not yet joined
func (s *Session) IsInvited(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invited[userID]
}

// Invited returns a snapshot of users invited but not yet joined
func (s *Session) Invited() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uuid.UUID, 0, len(s.invited))
	for id := range s.invited {
		out = append(out, id)
	}
	return out
}

// CanSignal reports whether the user may relay signaling through this
// session (joined or still invited)
func (s *Session) CanSignal(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[userID] || s.invited[userID]
}

// Directory is the process-wide registry of live call sessions
type Directory struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewDirectory creates an empty Directory
func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create registers a new session with the initiator as its first joined
// participant and the given users invited. Returns ErrDuplicate if the
// call identity is already live.
func (d *Directory) Create(call *domain.Call, invited []uuid.UUID) (*Session, error) {
	s := &Session{
		ID:          call.ID,
		Type:        call.Type,
		IsGroup:     call.IsGroup,
		GroupID:     call.GroupID,
		InitiatorID: call.InitiatorID,
		CreatedAt:   time.Now(),
		state:       StateRinging,
		participants: []uuid.UUID{call.InitiatorID},
		members:      map[uuid.UUID]bool{call.InitiatorID: true},
		invited:      make(map[uuid.UUID]bool, len(invited)),
	}
	for _, userID := range invited {
		if userID != call.InitiatorID {
			s.invited[userID] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sessions[call.ID]; exists {
		return nil, ErrDuplicate
	}
	d.sessions[call.ID] = s
	return s, nil
}

// Get returns the live session for a call identity
func (d *Directory) Get(callID uuid.UUID) (*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// AddParticipant moves a user into the joined set. Returns false if the
// user was already a participant (soft no-op for callers).
func (d *Directory) AddParticipant(callID, userID uuid.UUID) (bool, error) {
	s, err := d.Get(callID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return false, ErrNotFound
	}
	if s.members[userID] {
		return false, nil
	}
	s.members[userID] = true
	s.participants = append(s.participants, userID)
	delete(s.invited, userID)
	return true, nil
}

// Invite adds a user to the invited set of a live session
func (d *Directory) Invite(callID, userID uuid.UUID) error {
	s, err := d.Get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return ErrNotFound
	}
	if !s.members[userID] {
		s.invited[userID] = true
	}
	return nil
}

// Uninvite drops a user from the invited set (declined or timed out)
func (d *Directory) Uninvite(callID, userID uuid.UUID) error {
	s, err := d.Get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invited, userID)
	return nil
}

// RemoveParticipant drops a user from the joined set and returns the
// remaining participant count. When the count reaches zero the session is
// deleted from the directory.
func (d *Directory) RemoveParticipant(callID, userID uuid.UUID) (int, error) {
	s, err := d.Get(callID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.deleted || !s.members[userID] {
		remaining := len(s.participants)
		s.mu.Unlock()
		return remaining, nil
	}

	delete(s.members, userID)
	for i, id := range s.participants {
		if id == userID {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			break
		}
	}
	remaining := len(s.participants)
	drained := remaining == 0
	if drained {
		s.deleted = true
	}
	s.mu.Unlock()

	if drained {
		d.mu.Lock()
		delete(d.sessions, callID)
		d.mu.Unlock()
	}

	return remaining, nil
}

// Delete removes a session outright (call ended for everyone)
func (d *Directory) Delete(callID uuid.UUID) {
	d.mu.Lock()
	s, ok := d.sessions[callID]
	if ok {
		delete(d.sessions, callID)
	}
	d.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.deleted = true
		s.mu.Unlock()
	}
}

// SessionsFor returns the call identities the user has joined. Used on
// transport disconnect to sweep the user out of every live call.
func (d *Directory) SessionsFor(userID uuid.UUID) []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []uuid.UUID
	for id, s := range d.sessions {
		s.mu.Lock()
		member := s.members[userID]
		s.mu.Unlock()
		if member {
			out = append(out, id)
		}
	}
	return out
}

// StaleRinging returns sessions still ringing after the given timeout.
// Guards against clients whose ring timers never fire.
func (d *Directory) StaleRinging(timeout time.Duration) []*Session {
	cutoff := time.Now().Add(-timeout)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Session
	for _, s := range d.sessions {
		s.mu.Lock()
		stale := s.state == StateRinging && s.CreatedAt.Before(cutoff)
		s.mu.Unlock()
		if stale {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live sessions
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// ActiveCallIDs returns the identities of all live sessions
func (d *Directory) ActiveCallIDs() []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(d.sessions))
	for id := range d.sessions {
		out = append(out, id)
	}
	return out
}
