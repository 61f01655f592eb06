package rooms

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/conn"
	"github.com/wsrelay/core/src/ids"
	"github.com/wsrelay/core/src/session"
)

func newTestSessionRegistry() *session.Registry {
	return session.New(ids.New(), time.Minute, time.Minute, nil, zerolog.Nop())
}

type stubTransport struct{}

func (stubTransport) WriteMessage(data []byte) error { return nil }
func (stubTransport) ReadMessage() ([]byte, error)    { select {} }
func (stubTransport) Close(code int, reason string) error { return nil }

func newStubConnection(id string) *conn.Connection {
	c := codec.New("1.0", []string{"1.0"}, "")
	return conn.New(id, stubTransport{}, c)
}

func TestJoinAutoCreatesAndLeaveAutoDeletes(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())

	s := sreg.Create("", nil, nil)
	ok := r.Join("general", s, 0)
	require.True(t, ok)

	room, found := r.Get("general")
	require.True(t, found)
	assert.Contains(t, room.Members(), s.ID())
	assert.Contains(t, s.Rooms(), "general")

	r.Leave("general", s)
	_, found = r.Get("general")
	assert.False(t, found, "room should auto-delete once empty")
	assert.NotContains(t, s.Rooms(), "general")
}

func TestJoinRespectsCapacity(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())

	s1 := sreg.Create("", nil, nil)
	s2 := sreg.Create("", nil, nil)

	require.True(t, r.Join("vip", s1, 1))
	ok := r.Join("vip", s2, 1)
	assert.False(t, ok)

	room, _ := r.Get("vip")
	assert.NotContains(t, room.Members(), s2.ID())
	assert.NotContains(t, s2.Rooms(), "vip")
}

func TestJoinDisabledAutoCreate(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, false, true, zerolog.Nop())
	s := sreg.Create("", nil, nil)

	ok := r.Join("nonexistent", s, 0)
	assert.False(t, ok)
}

func TestLeaveAllRemovesFromEveryRoom(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())
	s := sreg.Create("", nil, nil)

	r.Join("a", s, 0)
	r.Join("b", s, 0)
	r.LeaveAll(s.ID())

	assert.Empty(t, s.Rooms())
	_, aExists := r.Get("a")
	_, bExists := r.Get("b")
	assert.False(t, aExists)
	assert.False(t, bExists)
}

func TestBroadcastExcludesSessionAndSkipsInactive(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())

	c1 := newStubConnection("c1")
	c2 := newStubConnection("c2")
	s1 := sreg.Create("", c1, nil)
	s2 := sreg.Create("", c2, nil)
	s3 := sreg.Create("", nil, nil) // no connection, should be skipped

	r.Join("room", s1, 0)
	r.Join("room", s2, 0)
	r.Join("room", s3, 0)

	delivered := r.Broadcast("room", codec.Message{Event: "e"}, s1.ID())
	assert.Equal(t, 1, delivered) // only s2 has an active connection and isn't excluded
}

func TestBroadcastOnUnknownRoomReturnsZero(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())
	assert.Equal(t, 0, r.Broadcast("nope", codec.Message{Event: "e"}, ""))
}

func TestLeaveCallbacksFireBeforeAutoDelete(t *testing.T) {
	sreg := newTestSessionRegistry()
	r := New(sreg, true, true, zerolog.Nop())
	s := sreg.Create("", nil, nil)

	var leaveFiredBeforeDelete bool
	r.OnLeave(func(roomID, sessionID string) {
		_, stillExists := r.Get(roomID)
		leaveFiredBeforeDelete = stillExists
	})

	r.Join("solo", s, 0)
	r.Leave("solo", s)
	assert.True(t, leaveFiredBeforeDelete)
}
