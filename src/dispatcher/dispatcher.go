// Package dispatcher routes an inbound Message to a registered handler,
// applying middleware, auth gating, and schema validation, and turns
// the handler's return value into at most one auto-reply.
package dispatcher

import (
	"sync"

	"github.com/rs/zerolog"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/session"
)

// Handler processes one inbound message and optionally returns a reply.
// Returning (nil, nil, nil) means "no automatic reply". Returning a
// non-nil Message sends it verbatim. Returning a non-nil payload map
// wraps it as the `{event}.response` auto-reply.
type Handler func(ctx *Context) (*codec.Message, map[string]any, error)

// Middleware runs before handler resolution. Returning false blocks
// dispatch silently — the middleware is responsible for any reply it
// wants to send.
type Middleware func(ctx *Context) bool

// Predicate validates one payload field. Predicates are pure and
// untrusted: a panicking predicate is treated as validation failure.
type Predicate func(value any) bool

// Registration is one handler's full configuration.
type Registration struct {
	Event              string
	Handler            Handler
	SupportedVersions  map[string]bool // empty/nil = any version
	RequiresAuth       bool
	Schema             map[string]Predicate
}

// Dispatcher routes messages to registrations.
type Dispatcher struct {
	mu            sync.RWMutex
	registrations map[string][]*Registration
	middlewares   []Middleware

	notFoundHandler Handler
	errorHandler    func(ctx *Context, err error) (*codec.Message, map[string]any)

	logger zerolog.Logger
}

// New creates an empty Dispatcher.
func New(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registrations: make(map[string][]*Registration),
		logger:        logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Use appends a global middleware to the chain, run in registration
// order.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
}

// Register adds a handler registration for an event name.
func (d *Dispatcher) Register(reg *Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations[reg.Event] = append(d.registrations[reg.Event], reg)
}

// OnNotFound overrides the default handler-not-found auto-reply.
func (d *Dispatcher) OnNotFound(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notFoundHandler = h
}

// OnError overrides the default internal-error auto-reply for errors
// escaping a handler that are not validation errors.
func (d *Dispatcher) OnError(h func(ctx *Context, err error) (*codec.Message, map[string]any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorHandler = h
}

// Dispatch runs the full pipeline for one inbound message against sess,
// returning the Message to send as a reply (nil if none). Dispatch
// itself never panics or propagates a handler error to the caller: a
// handler error must never terminate the connection or the session.
func (d *Dispatcher) Dispatch(sess *session.Session, deps Deps, msg codec.Message) *codec.Message {
	ctx := &Context{Session: sess, Message: msg, deps: deps}

	d.mu.RLock()
	middlewares := append([]Middleware{}, d.middlewares...)
	d.mu.RUnlock()

	for _, mw := range middlewares {
		if !safeMiddleware(mw, ctx) {
			return nil
		}
	}

	reg := d.resolve(msg)
	if reg == nil {
		return d.replyNotFound(ctx)
	}

	if reg.RequiresAuth && sess.UserID() == "" {
		return errorReply(msg, core.CodeAuthRequired, "Authentication required")
	}

	if reg.Schema != nil {
		for field, pred := range reg.Schema {
			if !safePredicate(pred, msg.Payload[field]) {
				return errorReply(msg, core.CodeValidationFailed, "Validation failed for field: "+field)
			}
		}
	}

	reply, payload, err := safeInvoke(reg.Handler, ctx)
	if err != nil {
		return d.replyError(ctx, err)
	}
	if reply != nil {
		return reply
	}
	if payload != nil {
		return &codec.Message{
			Version:       msg.Version,
			Event:         msg.Event + ".response",
			Payload:       payload,
			CorrelationID: msg.CorrelationID,
		}
	}
	return nil
}

// resolve picks the registration whose supported-versions include the
// message's version, or the first registration if none is
// version-specific.
func (d *Dispatcher) resolve(msg codec.Message) *Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	regs := d.registrations[msg.Event]
	if len(regs) == 0 {
		return nil
	}
	for _, r := range regs {
		if len(r.SupportedVersions) > 0 && r.SupportedVersions[msg.Version] {
			return r
		}
	}
	return regs[0]
}

func (d *Dispatcher) replyNotFound(ctx *Context) *codec.Message {
	d.mu.RLock()
	nf := d.notFoundHandler
	d.mu.RUnlock()
	if nf != nil {
		reply, payload, err := safeInvoke(nf, ctx)
		if err == nil {
			if reply != nil {
				return reply
			}
			if payload != nil {
				return &codec.Message{Event: ctx.Message.Event + ".response", Version: ctx.Message.Version, Payload: payload, CorrelationID: ctx.Message.CorrelationID}
			}
			return nil
		}
	}
	return errorReply(ctx.Message, core.CodeHandlerNotFound, "Handler not found for event: "+ctx.Message.Event)
}

func (d *Dispatcher) replyError(ctx *Context, err error) *codec.Message {
	if verr, ok := err.(*core.Error); ok && verr.Kind == core.KindValidation {
		return errorReplyField(ctx.Message, core.CodeValidationFailed, verr.Message, verr.Field)
	}

	d.mu.RLock()
	eh := d.errorHandler
	d.mu.RUnlock()
	if eh != nil {
		reply, payload := eh(ctx, err)
		if reply != nil {
			return reply
		}
		if payload != nil {
			return &codec.Message{Event: core.EventError, Version: ctx.Message.Version, Payload: payload, CorrelationID: ctx.Message.CorrelationID}
		}
	}
	d.logger.Error().Err(err).Str("event", ctx.Message.Event).Msg("handler error")
	return errorReply(ctx.Message, core.CodeInternal, "Internal error")
}

func errorReply(req codec.Message, code core.Code, message string) *codec.Message {
	return &codec.Message{
		Version:       req.Version,
		Event:         core.EventError,
		Payload:       map[string]any{"code": int(code), "message": message},
		CorrelationID: req.CorrelationID,
	}
}

func errorReplyField(req codec.Message, code core.Code, message, field string) *codec.Message {
	m := errorReply(req, code, message)
	m.Payload["field"] = field
	return m
}

func safeMiddleware(mw Middleware, ctx *Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return mw(ctx)
}

func safePredicate(p Predicate, value any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return p(value)
}

func safeInvoke(h Handler, ctx *Context) (reply *codec.Message, payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError(core.KindInternal, core.CodeInternal, "handler panicked")
		}
	}()
	return h(ctx)
}
