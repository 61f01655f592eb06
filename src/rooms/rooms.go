// Package rooms implements logical fan-out groups keyed by room id.
// Rooms hold session-ids only, never connections, so that a
// reconnection automatically restores broadcast membership.
package rooms

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/session"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Room is a named set of session-ids used for fan-out.
type Room struct {
	ID         string
	MaxMembers int // 0 = unbounded
	Metadata   map[string]any
	CreatedAt  int64

	members map[string]bool
}

// Members returns a snapshot of the room's member session-ids.
func (r *Room) Members() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// SessionLookup is the subset of the session registry the rooms
// registry needs: resolving a session-id to its *session.Session so it
// can update bidirectional membership and find the attached connection
// to broadcast to.
type SessionLookup interface {
	Get(id string) (*session.Session, bool)
}

// Registry tracks rooms and their membership.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	autoCreate bool
	autoDelete bool

	sessions SessionLookup
	logger   zerolog.Logger

	onJoin  []func(roomID, sessionID string)
	onLeave []func(roomID, sessionID string)

	now func() int64
}

// New creates a room registry. autoCreate/autoDelete control whether
// Join auto-creates a missing room and whether Leave removes a room
// that becomes empty.
func New(sessions SessionLookup, autoCreate, autoDelete bool, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		autoCreate: autoCreate,
		autoDelete: autoDelete,
		sessions:   sessions,
		logger:     logger.With().Str("component", "rooms").Logger(),
		now:        nowMillis,
	}
}

// SetSessions wires the session lookup after construction, for callers
// that must build the rooms registry and the session registry as a
// pair (each needs the other: rooms needs SessionLookup, sessions needs
// RoomLeaver) and so cannot supply both at construction time.
func (r *Registry) SetSessions(sessions SessionLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sessions
}

func (r *Registry) OnJoin(cb func(roomID, sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoin = append(r.onJoin, cb)
}

func (r *Registry) OnLeave(cb func(roomID, sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = append(r.onLeave, cb)
}

// Get returns a room by id, if it exists.
func (r *Registry) Get(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Join adds sess to roomID, auto-creating the room if allowed. Returns
// false (leaving both sides unchanged) if the room is full.
func (r *Registry) Join(roomID string, sess *session.Session, maxMembers int) bool {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		if !r.autoCreate {
			r.mu.Unlock()
			return false
		}
		room = &Room{ID: roomID, MaxMembers: maxMembers, Metadata: map[string]any{}, CreatedAt: r.now(), members: make(map[string]bool)}
		r.rooms[roomID] = room
	}
	if room.members[sess.ID()] {
		r.mu.Unlock()
		return true
	}
	if room.MaxMembers > 0 && len(room.members) >= room.MaxMembers {
		r.mu.Unlock()
		return false
	}
	room.members[sess.ID()] = true
	callbacks := append([]func(string, string){}, r.onJoin...)
	r.mu.Unlock()

	sess.AddRoom(roomID)
	for _, cb := range callbacks {
		invokeSafely(cb, roomID, sess.ID())
	}
	return true
}

// Leave removes sess from roomID. If the room becomes empty and
// auto-delete is enabled, the room is removed after leave callbacks for
// the last departure have fired.
func (r *Registry) Leave(roomID string, sess *session.Session) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !room.members[sess.ID()] {
		r.mu.Unlock()
		return
	}
	delete(room.members, sess.ID())
	empty := len(room.members) == 0
	callbacks := append([]func(string, string){}, r.onLeave...)
	r.mu.Unlock()

	sess.RemoveRoom(roomID)
	for _, cb := range callbacks {
		invokeSafely(cb, roomID, sess.ID())
	}

	if empty && r.autoDelete {
		r.mu.Lock()
		// Re-check under lock: someone may have rejoined between the
		// unlock above and here.
		if room2, ok := r.rooms[roomID]; ok && len(room2.members) == 0 {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
}

// LeaveAll removes sessionID from every room it belongs to; used on
// session close.
func (r *Registry) LeaveAll(sessionID string) {
	r.mu.RLock()
	var roomIDs []string
	for id, room := range r.rooms {
		if room.members[sessionID] {
			roomIDs = append(roomIDs, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range roomIDs {
		r.leaveByID(id, sessionID)
	}
}

// leaveByID is Leave's logic keyed by session-id directly, for the
// session-close path where the *session.Session may already be gone
// from bookkeeping other than its room membership.
func (r *Registry) leaveByID(roomID, sessionID string) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok || !room.members[sessionID] {
		r.mu.Unlock()
		return
	}
	delete(room.members, sessionID)
	empty := len(room.members) == 0
	callbacks := append([]func(string, string){}, r.onLeave...)
	sessions := r.sessions
	r.mu.Unlock()

	if sessions != nil {
		if sess, ok := sessions.Get(sessionID); ok {
			sess.RemoveRoom(roomID)
		}
	}
	for _, cb := range callbacks {
		invokeSafely(cb, roomID, sessionID)
	}

	if empty && r.autoDelete {
		r.mu.Lock()
		if room2, ok := r.rooms[roomID]; ok && len(room2.members) == 0 {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
}

// Broadcast sends msg to every member of roomID with an attached active
// connection, except excludeSessionID. It snapshots the member set
// under a read lock before sending, then sends outside the lock: a
// member that joins or leaves mid-broadcast is resolved at the
// snapshot, not the delivery. Returns the count actually transmitted.
func (r *Registry) Broadcast(roomID string, msg codec.Message, excludeSessionID string) int {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return 0
	}
	members := make([]string, 0, len(room.members))
	for id := range room.members {
		members = append(members, id)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, id := range members {
		if id == excludeSessionID {
			continue
		}
		sess, ok := r.sessions.Get(id)
		if !ok {
			continue
		}
		c := sess.Connection()
		if c == nil || !c.IsActive() {
			continue
		}
		if err := c.Send(msg); err != nil {
			r.logger.Debug().Err(err).Str("session_id", id).Msg("broadcast send failed")
			continue
		}
		delivered++
	}
	return delivered
}

func invokeSafely(cb func(string, string), a, b string) {
	defer func() { _ = recover() }()
	cb(a, b)
}
