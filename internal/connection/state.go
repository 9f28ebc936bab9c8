package connection

import (
	"context"
	"time"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/notify"
)

// State is the connection manager's lifecycle state.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateReconnecting  State = "RECONNECTING"
	StateDisconnecting State = "DISCONNECTING"
	StateFailed        State = "FAILED"
)

// Channel is the live channel the manager drives.
// Implemented by *live.Channel.
type Channel interface {
	Connect(ctx context.Context, endpoint string) error
	Disconnect() error
	Send(ctx context.Context, msg live.Outbound) error
	IsConnected() bool
	Ping(ctx context.Context) error
	Messages() <-chan live.Event
}

// Handler consumes inbound events, one at a time, in arrival order.
type Handler func(ctx context.Context, e live.Event) error

// Notifier receives connection-lifecycle notifications.
// Implemented by *notify.FanOut.
type Notifier interface {
	EmitConnection(title, message string) notify.Notification
}

// Config tunes the manager's timers.
type Config struct {
	Endpoint          string
	MonitorInterval   time.Duration
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
}

// DefaultConfig returns production timings for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		MonitorInterval:   5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		BaseDelay:         time.Second,
		MaxAttempts:       5,
	}
}

// Delay returns how long reconnect attempt i (1-indexed) waits before dialing.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.BaseDelay << (attempt - 1)
}
