// Package conn wraps a single WebSocket socket: inbound validated
// message stream, outbound send, error stream, and a done-future.
package conn

import (
	"sync"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/codec"
)

// State is the connection's lifecycle state.
type State int

const (
	StateActive State = iota
	StateClosed
)

// Transport abstracts the underlying socket so Connection is testable
// without a real network stack. Reads/writes are raw frames rather
// than JSON-typed values since the dispatcher needs pre-validation
// access to the raw bytes. Close takes the WebSocket close code/reason
// so a real transport can write an actual close control frame to the
// peer before tearing down the socket (spec §6/§4.10: the close codes
// the server uses must actually reach the client).
type Transport interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close(code int, reason string) error
}

// CloseResult carries the reason a connection's done-future completed.
type CloseResult struct {
	Code   int
	Reason string
}

// Connection wraps one socket for its lifetime.
type Connection struct {
	ID         string
	transport  Transport
	codec      *codec.Codec
	sessionID  string // attached session, empty if none
	connectedAt int64

	mu     sync.RWMutex
	state  State

	inbound chan codec.Message
	errs    chan error
	done    chan CloseResult
	closeOnce sync.Once
}

// New creates a Connection wrapping transport t.
func New(id string, t Transport, c *codec.Codec) *Connection {
	return &Connection{
		ID:        id,
		transport: t,
		codec:     c,
		state:     StateActive,
		inbound:   make(chan codec.Message, 64),
		errs:      make(chan error, 16),
		done:      make(chan CloseResult, 1),
	}
}

// Inbound returns the stream of validated messages. Frames that fail
// codec parsing are surfaced on Errors() instead, never here (spec
// §4.2).
func (c *Connection) Inbound() <-chan codec.Message { return c.inbound }

// Errors returns the stream of parse/transport errors.
func (c *Connection) Errors() <-chan error { return c.errs }

// Done completes exactly once, with the code/reason the connection
// closed with.
func (c *Connection) Done() <-chan CloseResult { return c.done }

// SessionID returns the session this connection is currently attached
// to, or "" if none.
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SetSessionID records the attached session id. Called by the session
// registry/reconnector under its own serialization; Connection does not
// itself enforce the one-session invariant.
func (c *Connection) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// IsActive reports whether the connection is still open.
func (c *Connection) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateActive
}

// Send serializes and writes a message. Fails with a typed connection
// error if the connection is closed.
func (c *Connection) Send(m codec.Message) error {
	if !c.IsActive() {
		return core.NewError(core.KindConnection, core.CodeInternal, "send on closed connection")
	}
	data, err := codec.Serialize(m)
	if err != nil {
		return core.NewError(core.KindInternal, core.CodeInternal, "serialize failed: "+err.Error())
	}
	return c.SendRaw(data)
}

// SendRaw writes pre-serialized bytes directly.
func (c *Connection) SendRaw(data []byte) error {
	if !c.IsActive() {
		return core.NewError(core.KindConnection, core.CodeInternal, "send on closed connection")
	}
	if err := c.transport.WriteMessage(data); err != nil {
		return core.NewError(core.KindConnection, core.CodeInternal, "write failed: "+err.Error())
	}
	return nil
}

// Close closes the socket exactly once, writing code/reason to the
// peer as a WebSocket close frame (via the transport), and completes
// Done() with the same code/reason.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		_ = c.transport.Close(code, reason)
		c.done <- CloseResult{Code: code, Reason: reason}
		close(c.done)
	})
}

// ReadPump reads frames until the transport errs, parsing each one and
// routing it to Inbound() or Errors(). A single bad frame never
// terminates the connection; the caller is responsible for calling
// Close when ReadPump returns.
func (c *Connection) ReadPump() {
	for {
		raw, err := c.transport.ReadMessage()
		if err != nil {
			return
		}
		msg, cerr := codec.Parse(c.codec, raw)
		if cerr != nil {
			select {
			case c.errs <- cerr:
			default:
			}
			continue
		}
		select {
		case c.inbound <- msg:
		default:
			// Backpressure: drop rather than block the socket reader
			// indefinitely; a slow consumer is a dispatcher-side
			// concern, not a transport one.
		}
	}
}
