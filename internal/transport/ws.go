package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
)

// DialWS connects over WebSocket and adapts the connection to Conn via
// websocket.NetConn, which presents the message-framed WebSocket as a plain
// byte stream — exactly what the wire codec expects.
func DialWS(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial websocket: %w", err)
	}
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}

// WSHandler upgrades inbound HTTP requests to WebSocket connections and
// hands each one to a waiting Accept call. Only the first connection is
// delivered; later upgrades are rejected — one bidirectional link per mount.
type WSHandler struct {
	ch    chan Conn
	taken atomic.Bool
}

// NewWSHandler creates a handler ready to be mounted at the chosen path on
// an http.ServeMux.
func NewWSHandler() *WSHandler {
	return &WSHandler{ch: make(chan Conn, 1)}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	if !h.taken.CompareAndSwap(false, true) {
		c.Close(websocket.StatusTryAgainLater, "listener already has a peer")
		return
	}
	h.ch <- websocket.NetConn(context.Background(), c, websocket.MessageBinary)
}

// Accept blocks until a peer connects or ctx is done.
func (h *WSHandler) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-h.ch:
		return c, nil
	}
}
