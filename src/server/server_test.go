package server

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/config"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/dispatcher"
	"github.com/wsrelay/core/src/session"
)

// fakeTransport is an in-memory conn.Transport: frames pushed onto in
// are delivered to ReadPump, frames written by the connection are
// captured for assertions, and closing in (or calling Close) ends the
// read loop the way a dropped socket would.
type fakeTransport struct {
	mu   sync.Mutex
	out  [][]byte
	in   chan []byte
	done chan struct{}
	once sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte{}, data...))
	return nil
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) push(frame string) { f.in <- []byte(frame) }

func (f *fakeTransport) frames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.out))
	for _, raw := range f.out {
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

func testServer() *Server {
	cfg := config.Default()
	cfg.SessionCleanupInterval = 10 * time.Millisecond
	return New(cfg, Options{Logger: zerolog.Nop()})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunSendsSessionCreatedOnConnect(t *testing.T) {
	srv := testServer()
	ft := newFakeTransport()

	go srv.run(ft, "ws://example.test/ws", nil)

	waitFor(t, func() bool { return len(ft.frames()) >= 1 })
	assert.Equal(t, core.EventSessionCreated, ft.frames()[0]["e"])
}

func TestRunDispatchesRegisteredHandler(t *testing.T) {
	srv := testServer()
	srv.Dispatcher().Register(&dispatcher.Registration{
		Event: "ping.custom",
		Handler: func(ctx *dispatcher.Context) (*codec.Message, map[string]any, error) {
			return nil, map[string]any{"ok": true}, nil
		},
	})
	ft := newFakeTransport()
	go srv.run(ft, "ws://example.test/ws", nil)

	waitFor(t, func() bool { return len(ft.frames()) >= 1 })
	ft.push(`{"e":"ping.custom"}`)

	waitFor(t, func() bool { return len(ft.frames()) >= 2 })
	reply := ft.frames()[1]
	assert.Equal(t, "ping.custom.response", reply["e"])
}

func TestRunSuspendsSessionWhenTransportCloses(t *testing.T) {
	srv := testServer()
	ft := newFakeTransport()
	done := make(chan struct{})
	go func() { srv.run(ft, "ws://example.test/ws", nil); close(done) }()

	waitFor(t, func() bool { return srv.Sessions() != nil && srv.Connections().Count() == 1 })
	waitFor(t, func() bool { return len(ft.frames()) >= 1 })
	payload, _ := ft.frames()[0]["p"].(map[string]any)
	sessionID, _ := payload["sessionId"].(string)
	ft.Close(1001, "simulated drop")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after transport close")
	}
	assert.Equal(t, 0, srv.Connections().Count())
	sess, ok := srv.Sessions().Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, session.StateSuspended, sess.State())
}

func TestRunHandlesPongEvent(t *testing.T) {
	srv := testServer()
	ft := newFakeTransport()
	go srv.run(ft, "ws://example.test/ws", nil)

	waitFor(t, func() bool { return len(ft.frames()) >= 1 })
	ft.push(`{"e":"sys.pong"}`)

	// sys.pong has no auto-reply; give the dispatcher a moment to run
	// and assert no extra frame (beyond session.created) was sent.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ft.frames(), 1)
}

func TestFastHTTPHandlerRejectsNonUpgradeRequests(t *testing.T) {
	h := testServer().FastHTTPHandler()
	require.NotNil(t, h)

	var ctx fasthttp.RequestCtx
	h(&ctx)
	assert.Equal(t, fasthttp.StatusUpgradeRequired, ctx.Response.StatusCode())
}
