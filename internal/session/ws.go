package session

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// maxFrameBytes bounds inbound frame size. Media frames are a few KB of
// base64; anything near this limit is a protocol violation.
const maxFrameBytes = 1 << 20

// WSDialer is the production [Dialer] backed by a real websocket. The API
// key is offered as the websocket subprotocol; the server accepts the
// handshake only when it recognises the key.
type WSDialer struct{}

var _ Dialer = WSDialer{}

// Dial implements [Dialer].
func (WSDialer) Dial(ctx context.Context, url, apiKey string) (Conn, error) {
	opts := &websocket.DialOptions{}
	if apiKey != "" {
		opts.Subprotocols = []string{apiKey}
	}
	c, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

var _ Conn = (*wsConn)(nil)

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "session closed")
}
