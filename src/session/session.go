// Package session implements the Session lifecycle (active/suspended/
// closed) and the session registry with its reaper.
package session

import (
	"sync"
	"time"

	"github.com/wsrelay/core/src/conn"
)

// State is a session's lifecycle state.
type State int

const (
	StateActive State = iota
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a logical identity surviving connection drops.
type Session struct {
	mu sync.RWMutex

	id     string
	userID string
	state  State

	connection *conn.Connection

	rooms    map[string]bool
	metadata map[string]any

	createdAt      time.Time
	lastActivityAt time.Time
	suspendedAt    time.Time
}

func newSession(id, userID string, c *conn.Connection, metadata map[string]any) *Session {
	now := time.Now()
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Session{
		id:             id,
		userID:         userID,
		state:          StateActive,
		connection:     c,
		rooms:          make(map[string]bool),
		metadata:       md,
		createdAt:      now,
		lastActivityAt: now,
	}
}

// ID returns the session's id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user id, or "" if anonymous.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connection returns the attached connection, or nil if none: a
// session has an attached connection iff state = active.
func (s *Session) Connection() *conn.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// Rooms returns a snapshot of the session's room membership.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// Metadata returns a snapshot of the session's metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// MergeMetadata merges additional key/value pairs into the session's
// existing metadata rather than replacing it.
func (s *Session) MergeMetadata(md map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range md {
		s.metadata[k] = v
	}
}

// Touch records activity now, used by the dispatcher on every inbound
// message.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// LastActivityAt returns the last recorded activity time.
func (s *Session) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// SuspendedAt returns the time the session entered suspended state; the
// zero time if not currently suspended.
func (s *Session) SuspendedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspendedAt
}

// AddRoom / RemoveRoom / ClearRooms are called by the rooms package to
// keep the bidirectional membership invariant in sync with the room
// registry's own member sets. Handler code should go through the rooms
// registry, not call these directly.
func (s *Session) AddRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = true
}

func (s *Session) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

func (s *Session) ClearRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	s.rooms = make(map[string]bool)
	return out
}
