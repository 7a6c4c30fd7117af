package feed

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Conn is one live duplex connection to the feed: the capability set
// Session actually needs from a transport, kept as an interface so the
// session can be driven by a fake in tests instead of a real socket.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Transport dials a fresh Conn. A FeedSession holds one Transport for its
// whole lifetime and calls Dial again on every reconnect.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// wsTransport is the production Transport, one TLS websocket per dial.
type wsTransport struct {
	url string
}

// NewWebsocketTransport builds a Transport that dials url fresh on every
// call to Dial.
func NewWebsocketTransport(url string) Transport {
	return &wsTransport{url: url}
}

func (t *wsTransport) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(-1)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	msgType, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if msgType != websocket.MessageText {
		return nil, fmt.Errorf("feed: unexpected websocket message type %d", msgType)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
