package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/conn"
	"github.com/wsrelay/core/src/ids"
)

// RoomLeaver is the subset of the rooms registry the session registry
// needs on session close, to clear room membership. Kept as a narrow
// interface to avoid an import cycle between session and rooms.
type RoomLeaver interface {
	LeaveAll(sessionID string)
}

// Registry creates, finds, and closes sessions, and reaps suspended
// sessions that have aged past the suspend timeout.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]bool

	gen ids.Generator

	suspendTimeout  time.Duration
	cleanupInterval time.Duration

	rooms  RoomLeaver
	logger zerolog.Logger

	onCreated     []func(*Session)
	onReconnected []func(*Session)
	onSuspended   []func(*Session)
	onClosed      []func(*Session)

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// New creates a session registry. rooms may be nil if the rooms
// subsystem is not in use.
func New(gen ids.Generator, suspendTimeout, cleanupInterval time.Duration, rooms RoomLeaver, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		byUser:          make(map[string]map[string]bool),
		gen:             gen,
		suspendTimeout:  suspendTimeout,
		cleanupInterval: cleanupInterval,
		rooms:           rooms,
		logger:          logger.With().Str("component", "session-registry").Logger(),
		stopReaper:      make(chan struct{}),
	}
}

func (r *Registry) OnCreated(cb func(*Session))     { r.mu.Lock(); r.onCreated = append(r.onCreated, cb); r.mu.Unlock() }
func (r *Registry) OnReconnected(cb func(*Session))  { r.mu.Lock(); r.onReconnected = append(r.onReconnected, cb); r.mu.Unlock() }
func (r *Registry) OnSuspended(cb func(*Session))    { r.mu.Lock(); r.onSuspended = append(r.onSuspended, cb); r.mu.Unlock() }
func (r *Registry) OnClosed(cb func(*Session))       { r.mu.Lock(); r.onClosed = append(r.onClosed, cb); r.mu.Unlock() }

// Create allocates and registers a new active session, optionally
// indexed by user, firing `created` callbacks in registration order.
func (r *Registry) Create(userID string, c *conn.Connection, metadata map[string]any) *Session {
	s := newSession(r.gen.New(), userID, c, metadata)
	if c != nil {
		c.SetSessionID(s.id)
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	if userID != "" {
		if r.byUser[userID] == nil {
			r.byUser[userID] = make(map[string]bool)
		}
		r.byUser[userID][s.id] = true
	}
	callbacks := append([]func(*Session){}, r.onCreated...)
	r.mu.Unlock()

	fireAll(callbacks, s)
	return s
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ByUser returns every session belonging to a user id.
func (r *Registry) ByUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Reconnect atomically binds newConn to an existing session, detaching
// and returning any previously attached connection (the caller owns
// closing it). Returns (nil, nil, false) if the session is absent or
// already closed.
func (r *Registry) Reconnect(sessionID string, newConn *conn.Connection) (session *Session, previous *conn.Connection, ok bool) {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return nil, nil, false
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, nil, false
	}
	previous = s.connection
	s.connection = newConn
	s.state = StateActive
	s.suspendedAt = time.Time{}
	s.lastActivityAt = time.Now()
	s.mu.Unlock()

	if newConn != nil {
		newConn.SetSessionID(s.id)
	}

	r.mu.RLock()
	callbacks := append([]func(*Session){}, r.onReconnected...)
	r.mu.RUnlock()
	fireAll(callbacks, s)

	return s, previous, true
}

// Suspend transitions an active session to suspended, detaching (but
// not closing) its connection. No-op if the session is already closed.
func (r *Registry) Suspend(sessionID string) {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.connection = nil
	s.state = StateSuspended
	s.suspendedAt = time.Now()
	s.mu.Unlock()

	r.mu.RLock()
	callbacks := append([]func(*Session){}, r.onSuspended...)
	r.mu.RUnlock()
	fireAll(callbacks, s)
}

// Close transitions a session to closed: closes its attached connection
// (if any) with the given code/reason, clears room membership, removes
// it from the user index, and fires `closed` callbacks. Idempotent.
func (r *Registry) Close(sessionID string, code int, reason string) {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	c := s.connection
	s.connection = nil
	userID := s.userID
	s.mu.Unlock()

	s.ClearRooms()
	if r.rooms != nil {
		r.rooms.LeaveAll(sessionID)
	}

	if c != nil {
		c.Close(code, reason)
	}

	r.mu.Lock()
	if userID != "" {
		if set, ok := r.byUser[userID]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	callbacks := append([]func(*Session){}, r.onClosed...)
	r.mu.Unlock()

	fireAll(callbacks, s)
}

// Discard closes sessionID without touching any attached connection,
// for the interim session a handshake creates on a socket that turns
// out to be a reconnection to a different, pre-existing session: by
// the time the reconnect succeeds, the socket has already been
// reattached elsewhere, so closing it here would sever the restored
// session instead of the one being discarded.
func (r *Registry) Discard(sessionID string) {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.connection = nil
	userID := s.userID
	s.mu.Unlock()

	s.ClearRooms()
	if r.rooms != nil {
		r.rooms.LeaveAll(sessionID)
	}

	r.mu.Lock()
	if userID != "" {
		if set, ok := r.byUser[userID]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	callbacks := append([]func(*Session){}, r.onClosed...)
	r.mu.Unlock()

	fireAll(callbacks, s)
}

// StartReaper begins the periodic sweep that closes suspended sessions
// aged past the suspend timeout. Call in a goroutine; StopReaper ends
// the loop.
func (r *Registry) StartReaper() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopReaper:
			return
		}
	}
}

// StopReaper halts the reaper loop.
func (r *Registry) StopReaper() {
	r.reaperOnce.Do(func() { close(r.stopReaper) })
}

func (r *Registry) sweep() {
	now := time.Now()
	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.State() == StateSuspended && now.Sub(s.SuspendedAt()) >= r.suspendTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.logger.Info().Str("session_id", id).Msg("reaping expired suspended session")
		r.Close(id, core.CloseSessionExpired, "session expired")
	}
}

func fireAll(callbacks []func(*Session), s *Session) {
	for _, cb := range callbacks {
		invokeSafely(cb, s)
	}
}

func invokeSafely(cb func(*Session), s *Session) {
	defer func() { _ = recover() }()
	cb(s)
}
