// Package connection owns the live channel's lifecycle.
//
// The Manager connects, watches liveness, reconnects with exponential
// backoff, replays subscriptions after every successful connect, and pumps
// inbound events to a handler on a single goroutine.
//
// Background goroutines:
//   - pump: reads Channel.Messages() and calls the handler in order
//   - monitor: every MonitorInterval, starts a reconnect if the channel dropped
//   - heartbeat: every HeartbeatInterval while CONNECTED, pings the channel
//   - reconnect: at most one; it alone owns the attempt counter while running
//
// All of them stop on Disconnect.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/rollcall/internal/broadcast"
	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
)

// Manager drives a Channel through the connection state machine.
type Manager struct {
	cfg         Config
	ch          Channel
	handler     Handler
	notifier    Notifier
	onConnected func(ctx context.Context)
	statuses    *broadcast.Broadcaster[State]
	group       singleflight.Group

	mu           sync.Mutex
	state        State
	attempts     int
	subs         []subscription
	runCtx       context.Context
	runCancel    context.CancelFunc
	reconnecting bool
	wg           sync.WaitGroup
}

type subscription struct {
	kind model.Kind
	id   string
}

// Option configures a Manager.
type Option func(*Manager)

// WithHandler sets the inbound event handler.
func WithHandler(h Handler) Option {
	return func(m *Manager) {
		m.handler = h
	}
}

// WithNotifier sets where lifecycle notifications go.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithOnConnected registers a hook run after every successful connect,
// on its own goroutine. Pending offline work is replayed from here.
func WithOnConnected(fn func(ctx context.Context)) Option {
	return func(m *Manager) {
		m.onConnected = fn
	}
}

// New creates a manager in DISCONNECTED. Zero timings in cfg fall back
// to DefaultConfig's.
func New(ch Channel, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig(cfg.Endpoint)
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	m := &Manager{
		cfg:      cfg,
		ch:       ch,
		statuses: broadcast.New[State](),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many dials the current connect cycle has made,
// counting a failed manual Connect as the first.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Statuses subscribes to state transitions.
func (m *Manager) Statuses() *broadcast.Subscription[State] {
	return m.statuses.Subscribe()
}

// Connect opens the channel. It is a no-op when already CONNECTED, and
// concurrent callers share one in-flight attempt. A manual Connect starts
// a new cycle: its own dial is attempt 1, and if it fails the reconnect
// loop makes the rest and the dial error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	_, err, _ := m.group.Do("connect", func() (any, error) {
		return nil, m.connect(ctx)
	})
	return err
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.attempts = 0
	m.startLocked()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if err := m.ch.Connect(ctx, m.cfg.Endpoint); err != nil {
		slog.Warn("live channel connect failed", "endpoint", m.cfg.Endpoint, "error", err)
		m.mu.Lock()
		// The failed dial is attempt 1; backoff continues from attempt 2.
		m.attempts = 1
		m.startReconnectLocked()
		m.mu.Unlock()
		return fmt.Errorf("connect live channel: %w", err)
	}

	m.established()
	return nil
}

// Disconnect stops every background task, closes the channel and forgets
// all subscriptions.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateDisconnected && m.runCancel == nil {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateDisconnecting)
	cancel := m.runCancel
	m.runCtx, m.runCancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	err := m.ch.Disconnect()

	m.mu.Lock()
	m.subs = nil
	m.attempts = 0
	m.reconnecting = false
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.emit("Disconnected", "Real-time updates stopped")

	if err != nil {
		return fmt.Errorf("disconnect live channel: %w", err)
	}
	return nil
}

// Close disconnects and ends the status stream.
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.statuses.Close()
	return err
}

// SubscribeChild records interest in a child. The subscribe message is
// sent now if connected and replayed after every reconnect.
func (m *Manager) SubscribeChild(ctx context.Context, id string) {
	m.subscribe(ctx, model.KindChild, id)
}

// SubscribeSession records interest in a session.
func (m *Manager) SubscribeSession(ctx context.Context, id string) {
	m.subscribe(ctx, model.KindSession, id)
}

// UnsubscribeChild forgets a child subscription.
func (m *Manager) UnsubscribeChild(ctx context.Context, id string) {
	m.unsubscribe(ctx, model.KindChild, id)
}

// UnsubscribeSession forgets a session subscription.
func (m *Manager) UnsubscribeSession(ctx context.Context, id string) {
	m.unsubscribe(ctx, model.KindSession, id)
}

// UnsubscribeAll forgets every subscription.
func (m *Manager) UnsubscribeAll(ctx context.Context) {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return
	}
	for _, s := range subs {
		m.send(ctx, live.Unsubscribe(s.kind, s.id))
	}
}

// Subscriptions returns the recorded subscriptions in the order they were made.
func (m *Manager) Subscriptions() []live.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]live.Outbound, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, live.Subscribe(s.kind, s.id))
	}
	return out
}

func (m *Manager) subscribe(ctx context.Context, kind model.Kind, id string) {
	m.mu.Lock()
	for _, s := range m.subs {
		if s.kind == kind && s.id == id {
			m.mu.Unlock()
			return
		}
	}
	m.subs = append(m.subs, subscription{kind: kind, id: id})
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		m.send(ctx, live.Subscribe(kind, id))
	}
}

func (m *Manager) unsubscribe(ctx context.Context, kind model.Kind, id string) {
	m.mu.Lock()
	found := false
	for i, s := range m.subs {
		if s.kind == kind && s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			found = true
			break
		}
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if found && connected {
		m.send(ctx, live.Unsubscribe(kind, id))
	}
}

func (m *Manager) send(ctx context.Context, msg live.Outbound) {
	if err := m.ch.Send(ctx, msg); err != nil {
		// Still recorded; the next connect replays it.
		slog.Warn("send subscription failed", "action", msg.Action, "kind", msg.Kind, "id", msg.ID, "error", err)
	}
}

// established moves to CONNECTED after a successful dial.
func (m *Manager) established() {
	m.mu.Lock()
	if m.runCtx == nil {
		// Disconnect won the race with an in-flight dial.
		m.mu.Unlock()
		if err := m.ch.Disconnect(); err != nil {
			slog.Debug("close after cancelled connect", "error", err)
		}
		return
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.setStateLocked(StateConnected)
	subs := append([]subscription(nil), m.subs...)
	ctx := m.runCtx
	hook := m.onConnected
	if hook != nil {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	for _, s := range subs {
		m.send(ctx, live.Subscribe(s.kind, s.id))
	}

	slog.Info("live channel connected", "endpoint", m.cfg.Endpoint, "subscriptions", len(subs))
	m.emit("Connection Established", "Real-time updates are active")

	if hook != nil {
		go func() {
			defer m.wg.Done()
			hook(ctx)
		}()
	}
}

// startLocked launches the pump, monitor and heartbeat if they are not
// already running. Caller holds m.mu.
func (m *Manager) startLocked() {
	if m.runCtx != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.runCtx, m.runCancel = ctx, cancel

	m.wg.Add(3)
	go m.pump(ctx)
	go m.monitor(ctx)
	go m.heartbeat(ctx)
}

// startReconnectLocked starts the reconnect loop unless one is running.
// Caller holds m.mu.
func (m *Manager) startReconnectLocked() {
	if m.reconnecting || m.runCtx == nil {
		return
	}
	m.reconnecting = true
	m.setStateLocked(StateReconnecting)
	m.wg.Add(1)
	go m.reconnect(m.runCtx)
}

func (m *Manager) reconnect(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.cfg.MaxAttempts {
			m.setStateLocked(StateFailed)
			attempts := m.attempts
			m.mu.Unlock()
			slog.Error("live channel reconnect gave up", "attempts", attempts)
			m.emit("Connection Failed", "Could not reach the server; working in offline mode")
			return
		}
		m.attempts++
		attempt := m.attempts
		m.setStateLocked(StateReconnecting)
		m.mu.Unlock()

		delay := m.cfg.Delay(attempt)
		slog.Debug("live channel reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		if err := m.ch.Connect(ctx, m.cfg.Endpoint); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("live channel reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		m.established()
		return
	}
}

func (m *Manager) pump(ctx context.Context) {
	defer m.wg.Done()
	messages := m.ch.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-messages:
			if m.handler == nil {
				continue
			}
			if err := m.handler(ctx, e); err != nil {
				slog.Warn("inbound event failed", "type", e.Type, "error", err)
			}
		}
	}
}

func (m *Manager) monitor(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		switch {
		case m.state == StateConnected && !m.ch.IsConnected():
			slog.Warn("live channel dropped; reconnecting")
			m.startReconnectLocked()
		case m.state == StateDisconnected:
			m.startReconnectLocked()
		}
		m.mu.Unlock()
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.State() != StateConnected {
			continue
		}
		if err := m.ch.Ping(ctx); err != nil {
			slog.Warn("live channel heartbeat failed", "error", err)
			if err := m.ch.Disconnect(); err != nil {
				slog.Debug("close after heartbeat failure", "error", err)
			}
			m.mu.Lock()
			if m.state == StateConnected {
				m.setStateLocked(StateDisconnected)
			}
			m.mu.Unlock()
		}
	}
}

// setStateLocked records a transition and publishes it. Caller holds m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	slog.Debug("connection state", "from", m.state, "to", s)
	m.state = s
	m.statuses.Publish(s)
}

func (m *Manager) emit(title, message string) {
	if m.notifier != nil {
		m.notifier.EmitConnection(title, message)
	}
}
