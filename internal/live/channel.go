// Package live implements the persistent push channel to the backend.
//
// A Channel carries JSON text frames over a websocket. Inbound frames are
// decoded into Events and delivered on Messages() in arrival order.
// Outbound frames are subscription control messages.
//
// The Channel itself never reconnects; lifecycle policy belongs to the
// connection manager.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send and Ping when no socket is open.
var ErrNotConnected = errors.New("live channel not connected")

// Settings holds websocket timeouts.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingTimeout      time.Duration
	MessageBuffer    int
}

// DefaultSettings returns the timeouts used in production.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingTimeout:      5 * time.Second,
		MessageBuffer:    64,
	}
}

// Channel is a websocket-backed live channel.
type Channel struct {
	settings *Settings
	header   http.Header
	dialer   *websocket.Dialer
	messages chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  chan struct{} // closed when conn is torn down
	writeMu sync.Mutex

	connected atomic.Bool
}

// NewChannel creates a disconnected channel. header is sent with every
// handshake (typically the Authorization bearer token).
func NewChannel(settings *Settings, header http.Header) *Channel {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Channel{
		settings: settings,
		header:   header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		messages: make(chan Event, settings.MessageBuffer),
	}
}

// Connect dials endpoint. It is a no-op if a socket is already open.
func (c *Channel) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.connected.Load() {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, c.header)
	if err != nil {
		return fmt.Errorf("dial live channel: %w", err)
	}

	closed := make(chan struct{})
	c.conn = conn
	c.closed = closed
	c.connected.Store(true)

	go c.readLoop(conn, closed)

	slog.Debug("live channel connected", "endpoint", endpoint)
	return nil
}

// Disconnect closes the socket. Safe to call when not connected.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.conn, c.closed = nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.teardown(closed)

	deadline := time.Now().Add(c.settings.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close live channel: %w", err)
	}
	return nil
}

// Send writes one outbound message as a JSON text frame.
func (c *Channel) Send(ctx context.Context, msg Outbound) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.settings.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		// A websocket write deadline cannot be recovered from.
		c.drop(conn)
		return fmt.Errorf("send %s %s %s: %w", msg.Action, msg.Kind, msg.ID, err)
	}
	return nil
}

// Ping writes a ping control frame. Failure closes the socket.
func (c *Channel) Ping(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.settings.PingTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		c.drop(conn)
		return fmt.Errorf("ping live channel: %w", err)
	}
	return nil
}

// IsConnected reports whether the socket is open.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Messages returns the inbound event stream. The same channel is reused
// across reconnects and is never closed.
func (c *Channel) Messages() <-chan Event {
	return c.messages
}

func (c *Channel) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected.Load() {
		return nil
	}
	return c.conn
}

// drop tears down conn if it is still the current socket.
func (c *Channel) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	closed := c.closed
	c.conn, c.closed = nil, nil
	c.mu.Unlock()

	c.teardown(closed)
	conn.Close()
}

func (c *Channel) teardown(closed chan struct{}) {
	c.connected.Store(false)
	select {
	case <-closed:
	default:
		close(closed)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer c.drop(conn)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("live channel read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := Decode(data)
		if err != nil {
			slog.Warn("dropping malformed live event", "error", err)
			continue
		}

		select {
		case c.messages <- event:
		case <-closed:
			return
		}
	}
}
