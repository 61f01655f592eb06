package dispatcher

import (
	"encoding/json"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/session"
)

// RoomBroadcaster is the subset of the rooms registry a handler needs
// for BroadcastToRoom. Defined locally to avoid dispatcher depending on
// the concrete rooms package.
type RoomBroadcaster interface {
	Broadcast(roomID string, msg codec.Message, excludeSessionID string) int
}

// Deps bundles the collaborators a Context needs beyond the session and
// the inbound message.
type Deps struct {
	Rooms RoomBroadcaster
}

// Context is the union of session, connection, and message a handler
// receives, plus the §4.8 convenience operations.
type Context struct {
	Session *session.Session
	Message codec.Message

	deps Deps
}

// Reply sends a reply carrying the request's correlation-id, enabling
// request/response correlation on the client side.
func (c *Context) Reply(event string, payload map[string]any) error {
	conn := c.Session.Connection()
	if conn == nil {
		return core.NewError(core.KindConnection, core.CodeInternal, "no attached connection")
	}
	return conn.Send(codec.Message{
		Version:       c.Message.Version,
		Event:         event,
		Payload:       payload,
		CorrelationID: c.Message.CorrelationID,
	})
}

// Emit sends a message with no correlation-id.
func (c *Context) Emit(event string, payload map[string]any) error {
	conn := c.Session.Connection()
	if conn == nil {
		return core.NewError(core.KindConnection, core.CodeInternal, "no attached connection")
	}
	return conn.Send(codec.Message{
		Version: c.Message.Version,
		Event:   event,
		Payload: payload,
	})
}

// Error sends a sys.error reply carrying the request's correlation-id.
func (c *Context) Error(code core.Code, message string, details map[string]any) error {
	payload := map[string]any{"code": int(code), "message": message}
	if details != nil {
		payload["details"] = details
	}
	return c.Reply(core.EventError, payload)
}

// Send writes a fully-formed message verbatim.
func (c *Context) Send(msg codec.Message) error {
	conn := c.Session.Connection()
	if conn == nil {
		return core.NewError(core.KindConnection, core.CodeInternal, "no attached connection")
	}
	return conn.Send(msg)
}

// BroadcastToRoom fans a message out to roomID, auto-excluding the
// invoking session.
func (c *Context) BroadcastToRoom(roomID, event string, payload map[string]any) int {
	if c.deps.Rooms == nil {
		return 0
	}
	msg := codec.Message{Version: c.Message.Version, Event: event, Payload: payload}
	return c.deps.Rooms.Broadcast(roomID, msg, c.Session.ID())
}

// Bind decodes the message payload into a user-supplied domain type by
// round-tripping through JSON, reporting structural failures as a
// validation error.
func Bind[T any](c *Context) (T, error) {
	var out T
	data, err := json.Marshal(c.Message.Payload)
	if err != nil {
		return out, core.ValidationError("", "payload is not encodable: "+err.Error())
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, core.ValidationError("", "payload does not match expected shape: "+err.Error())
	}
	return out, nil
}
