// Package wschannel implements the bridge channel over WebSocket using
// github.com/coder/websocket. It owns the read pump for each connection and
// delivers frames and the terminal close through the bridge's channel event
// callbacks.
package wschannel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/boringdata/termbridge/internal/bridge"
)

// sendTimeout bounds a single outbound write.
const sendTimeout = 10 * time.Second

// BuildURL derives the connection URL from a base endpoint and the session
// parameters. Zero-valued parameters are omitted from the query string.
func BuildURL(base string, p bridge.ConnectParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}
	q := u.Query()
	if p.SessionID != "" {
		q.Set("session_id", p.SessionID)
	}
	if p.Resume {
		q.Set("resume", "1")
	}
	if p.ForceNew {
		q.Set("force_new", "1")
	}
	if p.Provider != "" {
		q.Set("provider", string(p.Provider))
	}
	if p.SessionName != "" {
		q.Set("session_name", p.SessionName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dialer dials the terminal endpoint and wraps each connection as a
// bridge.Channel.
type Dialer struct {
	// Endpoint is the base WebSocket URL (ws:// or wss://).
	Endpoint string
}

// Dial opens a WebSocket to the endpoint with the session parameters in the
// query string. On success it starts the read pump and returns the channel;
// the events' OnClose fires exactly once when the pump exits.
func (d *Dialer) Dial(ctx context.Context, params bridge.ConnectParams, ev bridge.ChannelEvents) (bridge.Channel, error) {
	target, err := BuildURL(d.Endpoint, params)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1024 * 1024)

	readCtx, cancel := context.WithCancel(context.Background())
	ch := &wsChannel{conn: conn, cancel: cancel}
	go ch.readPump(readCtx, ev)
	return ch, nil
}

type wsChannel struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// readPump delivers inbound frames until the connection dies, then reports
// the close exactly once. A locally initiated Close suppresses the error.
func (c *wsChannel) readPump(ctx context.Context, ev bridge.ChannelEvents) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			closedLocally := c.closed
			c.mu.Unlock()
			if ev.OnClose != nil && !closedLocally {
				ev.OnClose(err)
			}
			return
		}
		if ev.OnMessage != nil {
			ev.OnMessage(data)
		}
	}
}

// Send writes one text frame.
func (c *wsChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel closed")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close shuts the connection down. The read pump will not report this as a
// remote close.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
