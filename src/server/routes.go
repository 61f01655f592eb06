package server

import (
	"context"
	"strconv"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	core "github.com/wsrelay/core"
)

// RegisterRoutes mounts the informational "/ws/info" route onto a host
// app's Fiber router (Detached mode).
func (s *Server) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", s.handleInfo)
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":   true,
		"path":        s.cfg.Path,
		"connections": s.conns.Count(),
		"protocol":    s.cfg.CurrentVersion,
	})
}

// FastHTTPHandler returns the raw fasthttp handler that performs the
// WebSocket upgrade, for a host app to mount at cfg.Path (Detached
// mode).
func (s *Server) FastHTTPHandler() fasthttp.RequestHandler {
	return s.handleUpgrade
}

func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx) {
	if !isWebsocketUpgrade(ctx) {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	for k, v := range s.cfg.CORSHeaders {
		ctx.Response.Header.Set(k, v)
	}

	rawURL := ctx.URI().String()
	header := headerFromFastHTTP(&ctx.Request.Header)

	err := s.upgrader.Upgrade(ctx, func(wsConn *websocket.Conn) {
		if s.cfg.MaxMessageSize > 0 {
			wsConn.SetReadLimit(s.cfg.MaxMessageSize)
		}
		s.run(&wsTransport{conn: wsConn}, rawURL, header)
	})
	if err != nil {
		s.opts.Logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// StartBackground launches the heartbeat monitor, the session reaper,
// and (if a PubSub bridge is configured) the cross-node room relay.
// ListenAndServe calls this for Bound mode; Detached-mode callers must
// call it themselves once after New before serving traffic.
func (s *Server) StartBackground() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeat.Run()
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sessions.StartReaper()
	}()
	s.relayFromBridge()
}

// ListenAndServe runs the server in Bound mode: it owns a fasthttp
// listener on cfg.Host:cfg.Port, routing cfg.Path to the WebSocket
// upgrade and everything else to the Fiber info app. Blocks until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.RegisterRoutes(s.info)

	s.httpServer = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) == s.cfg.Path {
				s.handleUpgrade(ctx)
				return
			}
			s.info.Handler()(ctx)
		},
	}

	s.StartBackground()

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	return s.httpServer.ListenAndServe(addr)
}

// Shutdown stops the accept loop (Bound mode only), closes every live
// connection, and halts the heartbeat monitor and session reaper (spec
// §5).
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.ShutdownWithContext(ctx)
	}
	s.conns.CloseAll(core.CloseGoingAway, "server shutting down")
	s.heartbeat.Stop()
	s.sessions.StopReaper()
	if s.opts.PubSub != nil {
		_ = s.opts.PubSub.Close()
	}
	s.wg.Wait()
	return err
}
