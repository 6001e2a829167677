package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/pulsechat/internal/proto"
)

// Transport is one established connection to the server.
type Transport interface {
	Read(ctx context.Context) (proto.Inbound, error)
	Write(ctx context.Context, frame proto.Inbound) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// WSDialer dials the server's websocket endpoint.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial connects to d.URL.
func (d WSDialer) Dial(ctx context.Context) (Transport, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) (proto.Inbound, error) {
	var frame proto.Inbound
	err := wsjson.Read(ctx, t.conn, &frame)
	return frame, err
}

func (t *wsTransport) Write(ctx context.Context, frame proto.Inbound) error {
	return wsjson.Write(ctx, t.conn, frame)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
