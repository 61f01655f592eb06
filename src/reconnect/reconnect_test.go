package reconnect

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/conn"
	"github.com/wsrelay/core/src/ids"
	"github.com/wsrelay/core/src/session"
)

type stubTransport struct{}

func (stubTransport) WriteMessage(data []byte) error { return nil }
func (stubTransport) ReadMessage() ([]byte, error)    { select {} }
func (stubTransport) Close(code int, reason string) error { return nil }

func newConnection(id string) *conn.Connection {
	return conn.New(id, stubTransport{}, codec.New("1.0", []string{"1.0"}, ""))
}

func newSessionRegistry() *session.Registry {
	return session.New(ids.New(), time.Minute, time.Minute, nil, zerolog.Nop())
}

type alwaysValid struct{}

func (alwaysValid) ValidateToken(string) bool { return true }

type alwaysInvalid struct{}

func (alwaysInvalid) ValidateToken(string) bool { return false }

func TestReconnectRestoresSessionWithRooms(t *testing.T) {
	sreg := newSessionRegistry()
	s := sreg.Create("user-1", newConnection("old"), map[string]any{"nickname": "ada"})
	s.AddRoom("general")
	sreg.Suspend(s.ID())

	r := New(sreg, nil, false, zerolog.Nop())
	newConn := newConnection("new")
	reply := r.Handle(newConn, s.ID(), "")

	require.NotNil(t, reply)
	assert.Equal(t, core.EventSessionRestored, reply.Event)
	assert.Equal(t, []string{"general"}, reply.Payload["rooms"])
	assert.Equal(t, "user-1", reply.Payload["userId"])
	assert.Equal(t, session.StateActive, s.State())
	assert.Same(t, newConn, s.Connection())
}

func TestReconnectUnknownSessionFails(t *testing.T) {
	sreg := newSessionRegistry()
	r := New(sreg, nil, false, zerolog.Nop())
	reply := r.Handle(newConnection("c"), "missing", "")
	require.NotNil(t, reply)
	assert.Equal(t, int(core.CodeSessionNotFound), reply.Payload["code"])
}

func TestReconnectTokenExpired(t *testing.T) {
	sreg := newSessionRegistry()
	s := sreg.Create("", newConnection("old"), nil)
	sreg.Suspend(s.ID())

	r := New(sreg, alwaysInvalid{}, true, zerolog.Nop())
	reply := r.Handle(newConnection("new"), s.ID(), "bad-token")
	require.NotNil(t, reply)
	assert.Equal(t, int(core.CodeTokenExpired), reply.Payload["code"])
}

func TestReconnectDisplacesLiveConnection(t *testing.T) {
	sreg := newSessionRegistry()
	oldConn := newConnection("old")
	s := sreg.Create("", oldConn, nil)

	r := New(sreg, alwaysValid{}, true, zerolog.Nop())
	newConn := newConnection("new")
	reply := r.Handle(newConn, s.ID(), "good-token")

	require.NotNil(t, reply)
	assert.Equal(t, core.EventSessionRestored, reply.Event)
	assert.False(t, oldConn.IsActive())
	assert.True(t, newConn.IsActive())
	assert.Same(t, newConn, s.Connection())
}

func TestReconnectEndsWithExactlyOneAttachedConnection(t *testing.T) {
	sreg := newSessionRegistry()
	s := sreg.Create("", newConnection("old"), nil)
	r := New(sreg, nil, false, zerolog.Nop())

	// Simulate a race: two reconnect attempts for the same session id.
	// Handle serializes internally, so run them sequentially here and
	// assert the invariant holds regardless of ordering.
	r.Handle(newConnection("a"), s.ID(), "")
	r.Handle(newConnection("b"), s.ID(), "")

	assert.NotNil(t, s.Connection())
	assert.Equal(t, "b", s.Connection().ID)
}
