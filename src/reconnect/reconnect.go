// Package reconnect implements the sys.reconnect.request handling path:
// binding a new connection to an existing session atomically, so that
// "one session ↔ at most one active connection" holds end-to-end.
package reconnect

import (
	"sync"

	"github.com/rs/zerolog"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/conn"
	"github.com/wsrelay/core/src/session"
)

// TokenValidator revalidates a reconnection token, mirroring the
// Authenticator's optional ValidateToken capability.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// SessionBinder is the subset of the session registry reconnect needs.
type SessionBinder interface {
	Get(id string) (*session.Session, bool)
	Reconnect(sessionID string, newConn *conn.Connection) (*session.Session, *conn.Connection, bool)
}

// Reconnector serializes reconnection attempts per session-id so two
// simultaneous requests for the same session never interleave: the later
// one displaces, and closes, the connection the earlier one attached
// (spec §4.6/§5).
type Reconnector struct {
	sessions SessionBinder
	tokens   TokenValidator // optional
	requireRevalidate bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	logger zerolog.Logger
}

// New creates a Reconnector. tokens may be nil if token revalidation is
// disabled.
func New(sessions SessionBinder, tokens TokenValidator, requireRevalidate bool, logger zerolog.Logger) *Reconnector {
	return &Reconnector{
		sessions:          sessions,
		tokens:            tokens,
		requireRevalidate: requireRevalidate,
		locks:             make(map[string]*sync.Mutex),
		logger:            logger.With().Str("component", "reconnect").Logger(),
	}
}

func (r *Reconnector) lockFor(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// Handle runs the reconnection algorithm — validate session, revalidate
// token, detach the old connection, attach the new one — and returns
// the sys.session.restored message to send on success, or a
// sys.error-shaped failure. Detach/attach are serialized per
// session-id.
func (r *Reconnector) Handle(newConn *conn.Connection, sessionID, token string) *codec.Message {
	lock := r.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := r.sessions.Get(sessionID)
	if !ok || sess.State() == session.StateClosed {
		return errorMessage(core.CodeSessionNotFound, "session not found")
	}

	if r.requireRevalidate && r.tokens != nil {
		if !r.tokens.ValidateToken(token) {
			return errorMessage(core.CodeTokenExpired, "token expired")
		}
	}

	_, previous, ok := r.sessions.Reconnect(sessionID, newConn)
	if !ok {
		return errorMessage(core.CodeSessionNotFound, "session not found")
	}

	if previous != nil {
		_ = previous.Send(codec.Message{Event: core.EventDisconnect, Payload: map[string]any{"reason": "replaced_by_reconnection"}})
		previous.Close(core.CloseSessionDuplicate, "session reconnected elsewhere")
	}

	restored, _ := r.sessions.Get(sessionID)
	payload := map[string]any{
		"sessionId": sessionID,
		"rooms":     restored.Rooms(),
		"metadata":  restored.Metadata(),
	}
	if uid := restored.UserID(); uid != "" {
		payload["userId"] = uid
	}
	return &codec.Message{Event: core.EventSessionRestored, Payload: payload}
}

func errorMessage(code core.Code, message string) *codec.Message {
	return &codec.Message{Event: core.EventError, Payload: map[string]any{"code": int(code), "message": message}}
}
