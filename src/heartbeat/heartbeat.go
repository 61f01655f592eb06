// Package heartbeat implements the periodic liveness-ping detector that
// suspends sessions on pong timeout.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/session"
)

type monitoredSession struct {
	sessionID string
	lastPing  time.Time
	lastPong  time.Time
	timer     *time.Timer
	missed    int
}

// Monitor arms a pong timer per monitored session and invokes a
// timeout callback (wired to session-registry.Suspend) when a pong
// does not arrive in time.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*monitoredSession

	sessionLookup func(id string) (*session.Session, bool)
	onTimeout     func(sessionID string)

	logger zerolog.Logger
	stop   chan struct{}
	once   sync.Once
}

// New creates a heartbeat monitor. sessionLookup resolves a session-id
// to its Session (to find the attached connection to ping);
// onTimeout fires on pong timeout or ping send failure.
func New(interval, timeout time.Duration, sessionLookup func(id string) (*session.Session, bool), onTimeout func(sessionID string), logger zerolog.Logger) *Monitor {
	return &Monitor{
		interval:      interval,
		timeout:       timeout,
		sessions:      make(map[string]*monitoredSession),
		sessionLookup: sessionLookup,
		onTimeout:     onTimeout,
		logger:        logger.With().Str("component", "heartbeat").Logger(),
		stop:          make(chan struct{}),
	}
}

// Monitor begins tracking sessionID. Call once per session, typically
// right after handshake.
func (m *Monitor) Monitor(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return
	}
	m.sessions[sessionID] = &monitoredSession{sessionID: sessionID, lastPong: time.Now()}
}

// StopMonitoring removes sessionID from tracking and cancels any
// pending pong timer, called on session close/suspend.
func (m *Monitor) StopMonitoring(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.sessions[sessionID]; ok {
		if ms.timer != nil {
			ms.timer.Stop()
		}
		delete(m.sessions, sessionID)
	}
}

// Pong records a pong for sessionID, canceling the pending timer and
// resetting the missed-pong count. A pong for an unmonitored session
// (e.g. after its timer already fired) has no effect.
func (m *Monitor) Pong(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if ms.timer != nil {
		ms.timer.Stop()
		ms.timer = nil
	}
	ms.lastPong = time.Now()
	ms.missed = 0
}

// Run drives the periodic ping sweep until Stop is called. Call in a
// goroutine.
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stop:
			return
		}
	}
}

// Stop ends the Run loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) tick() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.pingOne(id)
	}
}

func (m *Monitor) pingOne(sessionID string) {
	sess, ok := m.sessionLookup(sessionID)
	if !ok {
		m.StopMonitoring(sessionID)
		return
	}
	c := sess.Connection()
	if c == nil || !c.IsActive() {
		return
	}

	now := time.Now()
	msg := codec.Message{Event: "sys.ping", Payload: map[string]any{"t": now.UnixMilli()}, Timestamp: now.UnixMilli()}
	if err := c.Send(msg); err != nil {
		m.logger.Debug().Str("session_id", sessionID).Err(err).Msg("ping send failed, treating as timeout")
		m.fireTimeout(sessionID)
		return
	}

	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ms.lastPing = now
	// A pending pong timer is left running: a later ping does not push
	// its deadline back.
	if ms.timer == nil {
		ms.timer = time.AfterFunc(m.timeout, func() { m.fireTimeout(sessionID) })
	}
	m.mu.Unlock()
}

func (m *Monitor) fireTimeout(sessionID string) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if ok {
		ms.missed++
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if m.onTimeout != nil {
		m.onTimeout(sessionID)
	}
}
