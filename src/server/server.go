// Package server is the library's facade: it wires the codec,
// connection registry, session registry, rooms registry, heartbeat
// monitor, dispatcher, and reconnector into a single WebSocket
// endpoint, in either Bound mode (owns its own listener) or Detached
// mode (hands a raw fasthttp handler and a Fiber route to a host app).
package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/config"
	"github.com/wsrelay/core/src/auth"
	"github.com/wsrelay/core/src/bridge"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/conn"
	"github.com/wsrelay/core/src/dispatcher"
	"github.com/wsrelay/core/src/heartbeat"
	"github.com/wsrelay/core/src/ids"
	"github.com/wsrelay/core/src/metrics"
	"github.com/wsrelay/core/src/ratelimit"
	"github.com/wsrelay/core/src/reconnect"
	"github.com/wsrelay/core/src/rooms"
	"github.com/wsrelay/core/src/session"
)

// Options configures the optional collaborators a Server wires in
// beyond the core session/room/dispatch machinery.
type Options struct {
	Authenticator  auth.Authenticator  // optional; nil means every connection is anonymous
	TokenValidator auth.TokenValidator // optional; falls back to Authenticator if it implements ValidateToken
	Metrics        metrics.Metrics     // optional; defaults to metrics.Noop{}
	PubSub         bridge.PubSub       // optional; nil disables cross-node fan-out
	Logger         zerolog.Logger

	// RateLimitPerSecond/RateLimitBurst enable a per-session token-bucket
	// middleware when RateLimitPerSecond > 0.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server is the composed WebSocket endpoint.
type Server struct {
	cfg  *config.Config
	opts Options

	codec       *codec.Codec
	ids         ids.Generator
	conns       *conn.Registry
	sessions    *session.Registry
	rooms       *rooms.Registry
	heartbeat   *heartbeat.Monitor
	dispatcher  *dispatcher.Dispatcher
	reconnector *reconnect.Reconnector
	metrics     metrics.Metrics
	broadcaster dispatcher.RoomBroadcaster

	upgrader websocket.FastHTTPUpgrader
	info     *fiber.App

	httpServer *fasthttp.Server
	wg         sync.WaitGroup
}

// New composes every subsystem from cfg and opts. The returned Server
// has no handlers registered beyond the built-in sys.pong and
// sys.reconnect.request ones; callers add their own via Use/Register.
func New(cfg *config.Config, opts Options) *Server {
	logger := opts.Logger
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}

	idGen := ids.New()
	c := codec.New(cfg.CurrentVersion, cfg.SupportedVersions, cfg.MinimumVersion)
	conns := conn.NewRegistry()
	roomReg := rooms.New(nil, true, true, logger)

	srv := &Server{
		cfg:      cfg,
		opts:     opts,
		codec:    c,
		ids:      idGen,
		conns:    conns,
		rooms:    roomReg,
		metrics:  m,
		info:     fiber.New(),
		upgrader: websocket.FastHTTPUpgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, EnableCompression: cfg.EnableCompression},
	}

	sessions := session.New(idGen, cfg.SessionSuspendTimeout, cfg.SessionCleanupInterval, roomReg, logger)
	roomReg.SetSessions(sessions) // resolves the rooms<->session wiring cycle, see rooms.SetSessions
	srv.sessions = sessions

	hb := heartbeat.New(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, sessions.Get, func(sessionID string) {
		srv.sessions.Suspend(sessionID)
	}, logger)
	srv.heartbeat = hb

	var tv reconnect.TokenValidator
	if opts.TokenValidator != nil {
		tv = opts.TokenValidator
	} else if validator, ok := opts.Authenticator.(reconnect.TokenValidator); ok {
		tv = validator
	}
	srv.reconnector = reconnect.New(sessions, tv, tv != nil, logger)

	d := dispatcher.New(logger)
	d.Use(func(ctx *dispatcher.Context) bool {
		ctx.Session.Touch()
		m.MessageReceived(ctx.Message.Event)
		return true
	})
	srv.dispatcher = d
	srv.registerSystemHandlers()

	var limiter *ratelimit.Limiter
	if opts.RateLimitPerSecond > 0 {
		limiter = ratelimit.New(opts.RateLimitPerSecond, opts.RateLimitBurst)
		d.Use(limiter.Middleware())
	}

	sessions.OnCreated(func(s *session.Session) { hb.Monitor(s.ID()); m.SessionCreated() })
	sessions.OnReconnected(func(s *session.Session) { hb.Monitor(s.ID()); m.SessionReconnected() })
	sessions.OnSuspended(func(s *session.Session) { hb.StopMonitoring(s.ID()); m.SessionSuspended() })
	sessions.OnClosed(func(s *session.Session) {
		hb.StopMonitoring(s.ID())
		m.SessionClosed()
		if limiter != nil {
			limiter.Forget(s.ID())
		}
	})
	roomReg.OnJoin(func(string, string) { m.RoomJoined() })
	roomReg.OnLeave(func(string, string) { m.RoomLeft() })

	srv.broadcaster = &crossNodeBroadcaster{rooms: roomReg, pubsub: opts.PubSub}
	return srv
}

// Dispatcher exposes the dispatcher for registering application
// handlers and middleware.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Rooms exposes the room registry for application code that joins/
// leaves/broadcasts outside of a handler's Context.
func (s *Server) Rooms() *rooms.Registry { return s.rooms }

// Sessions exposes the session registry, e.g. for admin/introspection
// endpoints built on top of this library.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// Connections exposes the connection registry.
func (s *Server) Connections() *conn.Registry { return s.conns }

// registerSystemHandlers wires the two reserved events every session
// needs regardless of application-level handlers: the pong heartbeat
// reply and the reconnect handshake.
func (s *Server) registerSystemHandlers() {
	s.dispatcher.Register(&dispatcher.Registration{
		Event: core.EventPong,
		Handler: func(ctx *dispatcher.Context) (*codec.Message, map[string]any, error) {
			s.heartbeat.Pong(ctx.Session.ID())
			return nil, nil, nil
		},
	})

	s.dispatcher.Register(&dispatcher.Registration{
		Event: core.EventReconnectRequest,
		Handler: func(ctx *dispatcher.Context) (*codec.Message, map[string]any, error) {
			type reconnectRequest struct {
				SessionID string `json:"sessionId"`
				Token     string `json:"token"`
			}
			req, err := dispatcher.Bind[reconnectRequest](ctx)
			if err != nil {
				return nil, nil, err
			}

			liveConn := ctx.Session.Connection()
			result := s.reconnector.Handle(liveConn, req.SessionID, req.Token)
			if liveConn != nil {
				_ = liveConn.Send(*result)
			}
			if result.Event == core.EventSessionRestored {
				// The interim session created by this socket's own
				// handshake is no longer needed: the socket now belongs
				// to the restored session.
				s.sessions.Discard(ctx.Session.ID())
			}
			return nil, nil, nil
		},
	})
}

// authenticate runs the configured Authenticator with a deadline of
// cfg.AuthTimeout (spec §5: "Handshake authentication has a configured
// timeout; failure closes the connection"), so a hung authenticator
// (e.g. a slow remote token-introspection call) cannot block the
// per-connection goroutine forever. Returns timedOut=true if the
// authenticator did not answer in time; the caller treats that as an
// auth failure.
func (s *Server) authenticate(token string) (auth.Result, bool) {
	resultCh := make(chan auth.Result, 1)
	go func() { resultCh <- s.opts.Authenticator.Authenticate(token) }()

	timer := time.NewTimer(s.cfg.AuthTimeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return result, false
	case <-timer.C:
		return auth.Result{}, true
	}
}

// run is the per-connection loop shared by Bound and Detached mode:
// handshake, then pump inbound messages through the dispatcher until
// the connection's done-future completes.
func (s *Server) run(t conn.Transport, rawURL string, header http.Header) {
	token := auth.ExtractToken(rawURL, header)

	var userID string
	var authMeta map[string]any
	if s.cfg.RequireAuth && (s.opts.Authenticator == nil || token == "") {
		_ = t.Close(core.CloseAuthRequired, "authentication required")
		return
	}
	if s.opts.Authenticator != nil && token != "" {
		result, timedOut := s.authenticate(token)
		if timedOut {
			_ = t.Close(core.CloseAuthFailed, "authentication timed out")
			return
		}
		if !result.Success {
			_ = t.Close(core.CloseAuthFailed, result.Error)
			return
		}
		userID, authMeta = result.UserID, result.Metadata
	}

	connection := conn.New(s.ids.New(), t, s.codec)
	s.conns.Add(connection)
	s.metrics.ConnectionOpened()
	go func() {
		connection.ReadPump()
		// ReadPump returns once the transport read fails (peer went
		// away); Close completes Done() so the select loop below can
		// unblock and suspend the session (conn.Connection's contract:
		// the caller closes after ReadPump returns).
		connection.Close(core.CloseNormal, "connection read loop ended")
	}()

	sess := s.sessions.Create(userID, connection, authMeta)

	_ = connection.Send(codec.Message{
		Event: core.EventSessionCreated,
		Payload: map[string]any{
			"sessionId":         sess.ID(),
			"heartbeatInterval": s.cfg.HeartbeatInterval.Milliseconds(),
		},
	})

	deps := dispatcher.Deps{Rooms: s.broadcaster}

	for {
		select {
		case msg, ok := <-connection.Inbound():
			if !ok {
				goto drained
			}
			if reply := s.dispatcher.Dispatch(sess, deps, msg); reply != nil {
				if err := connection.Send(*reply); err == nil {
					s.metrics.MessageSent(reply.Event)
				}
			}
			// A sys.reconnect.request rebinds this connection to the
			// restored session; later messages are dispatched on it.
			if cur, ok := s.sessions.Get(connection.SessionID()); ok {
				sess = cur
			}
		case cerr, ok := <-connection.Errors():
			if !ok {
				goto drained
			}
			s.metrics.Error("protocol")
			if verr, ok := cerr.(*core.Error); ok {
				_ = connection.Send(codec.Message{Event: core.EventError, Payload: map[string]any{"code": int(verr.Code), "message": verr.Message}})
			}
		case <-connection.Done():
			goto drained
		}
	}

drained:
	s.conns.Remove(connection)
	// A connection displaced by a reconnection no longer belongs to the
	// session, so only the session's attached connection suspends it.
	if sess.Connection() == connection {
		s.sessions.Suspend(sess.ID())
	}
	s.metrics.ConnectionClosed()
}

func isWebsocketUpgrade(ctx *fasthttp.RequestCtx) bool {
	return strings.EqualFold(string(ctx.Request.Header.Peek("Upgrade")), "websocket")
}
