package server

import (
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

// closeWriteDeadline bounds how long a close control frame write may
// block the caller before the underlying socket is torn down anyway.
const closeWriteDeadline = 2 * time.Second

// wsTransport adapts a fasthttp/websocket.Conn to conn.Transport, down
// to the raw-frame contract the codec layer validates against.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// Close writes a WebSocket close control frame carrying code/reason to
// the peer before tearing down the socket, so the server's close codes
// (spec §6) are actually observable by a real client rather than
// stopping at the local CloseResult.
func (t *wsTransport) Close(code int, reason string) error {
	deadline := time.Now().Add(closeWriteDeadline)
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}

// headerFromFastHTTP copies a fasthttp request's headers into a
// net/http.Header so the shared auth.ExtractToken helper can be reused
// verbatim against either transport.
func headerFromFastHTTP(h *fasthttp.RequestHeader) http.Header {
	out := make(http.Header, 4)
	h.VisitAll(func(k, v []byte) {
		out.Add(string(k), string(v))
	})
	return out
}
