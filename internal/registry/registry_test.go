package registry

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	userID uuid.UUID
	label  string
}

func (f *fakeConn) SendEvent(event string, payload any) error { return nil }
func (f *fakeConn) UserID() uuid.UUID                         { return f.userID }

func TestRegisterAndGet(t *testing.T) {
	r := New()
	userID := uuid.New()
	conn := &fakeConn{userID: userID}

	old := r.Register(userID, conn)
	assert.Nil(t, old)

	got, ok := r.Get(userID)
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.True(t, r.IsOnline(userID))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	r := New()
	userID := uuid.New()
	first := &fakeConn{userID: userID, label: "first"}
	second := &fakeConn{userID: userID, label: "second"}

	r.Register(userID, first)
	old := r.Register(userID, second)

	assert.Same(t, first, old)
	got, ok := r.Get(userID)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len(), "one user must hold at most one entry")
}

func TestUnregisterIgnoresStaleConnection(t *testing.T) {
	r := New()
	userID := uuid.New()
	stale := &fakeConn{userID: userID, label: "stale"}
	fresh := &fakeConn{userID: userID, label: "fresh"}

	r.Register(userID, stale)
	r.Register(userID, fresh)

	// Stale pump shutting down must not evict the new connection
	removed := r.Unregister(userID, stale)
	assert.False(t, removed)
	assert.True(t, r.IsOnline(userID))

	removed = r.Unregister(userID, fresh)
	assert.True(t, removed)
	assert.False(t, r.IsOnline(userID))
}

func TestUnregisterUnknownUser(t *testing.T) {
	r := New()
	assert.False(t, r.Unregister(uuid.New(), &fakeConn{}))
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	users := make([]uuid.UUID, 50)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			conn := &fakeConn{userID: id}
			r.Register(id, conn)
			r.Get(id)
			r.Unregister(id, conn)
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
