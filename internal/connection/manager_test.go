package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/notify"
)

// fakeChannel is an in-memory Channel whose failures tests switch on and off.
type fakeChannel struct {
	mu          sync.Mutex
	connected   bool
	failDial    bool
	failPing    bool
	dials       int
	disconnects int
	sent        []live.Outbound
	messages    chan live.Event
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{messages: make(chan live.Event, 16)}
}

func (f *fakeChannel) Connect(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failDial {
		return errors.New("dial refused")
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg live.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return live.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPing {
		return errors.New("no pong")
	}
	return nil
}

func (f *fakeChannel) Messages() <-chan live.Event {
	return f.messages
}

func (f *fakeChannel) set(fn func(f *fakeChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeChannel) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeChannel) sentMessages() []live.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]live.Outbound(nil), f.sent...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) EmitConnection(title, message string) notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return notify.Notification{Type: notify.TypeConnection, Title: title, Message: message}
}

func (n *fakeNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

// fastConfig keeps backoff short and leaves the monitor and heartbeat idle
// unless a test opts in.
func fastConfig() Config {
	return Config{
		Endpoint:          "ws://test/live",
		MonitorInterval:   time.Hour,
		HeartbeatInterval: time.Hour,
		BaseDelay:         time.Millisecond,
		MaxAttempts:       5,
	}
}

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

func TestConfig_Delay(t *testing.T) {
	cfg := DefaultConfig("ws://x")
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, cfg.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, cfg.Delay(0))
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	m := New(newFakeChannel(), Config{Endpoint: "ws://x"})
	assert.Equal(t, DefaultConfig("ws://x"), m.cfg)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnect_ReplaysSubscriptionsAndRunsHook(t *testing.T) {
	ch := newFakeChannel()
	n := &fakeNotifier{}
	hooked := make(chan struct{}, 1)
	m := New(ch, fastConfig(), WithNotifier(n), WithOnConnected(func(ctx context.Context) { hooked <- struct{}{} }))
	defer m.Close()

	ctx := context.Background()
	m.SubscribeChild(ctx, "c1")
	m.SubscribeSession(ctx, "s1")
	m.SubscribeChild(ctx, "c1") // duplicate
	assert.Empty(t, ch.sentMessages(), "nothing sent while disconnected")

	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []live.Outbound{
		live.Subscribe(model.KindChild, "c1"),
		live.Subscribe(model.KindSession, "s1"),
	}, ch.sentMessages())
	assert.Equal(t, []string{"Connection Established"}, n.seen())

	select {
	case <-hooked:
	case <-time.After(waitFor):
		t.Fatal("OnConnected hook never ran")
	}
}

func TestConnect_NoOpWhenConnected(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, fastConfig())
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, ch.dialCount())
}

func TestConnect_ConcurrentCallersShareOneDial(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, fastConfig())
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Connect(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ch.dialCount())
	assert.Equal(t, StateConnected, m.State())
}

func TestReconnect_FailsAfterMaxAttempts(t *testing.T) {
	ch := newFakeChannel()
	ch.failDial = true
	n := &fakeNotifier{}
	m := New(ch, fastConfig(), WithNotifier(n))
	defer m.Close()

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.GreaterOrEqual(t, m.Attempts(), 1, "the manual dial counts as attempt 1")

	require.Eventually(t, func() bool { return m.State() == StateFailed }, waitFor, tick)
	assert.Equal(t, 5, m.Attempts())
	assert.Equal(t, 5, ch.dialCount(), "manual dial plus four retries")

	require.Eventually(t, func() bool { return len(n.seen()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"Connection Failed"}, n.seen())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, ch.dialCount(), "no automatic attempts after FAILED")
	assert.Equal(t, StateFailed, m.State())
}

func TestReconnect_ManualConnectResetsCounter(t *testing.T) {
	ch := newFakeChannel()
	ch.failDial = true
	m := New(ch, fastConfig())
	defer m.Close()

	_ = m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateFailed }, waitFor, tick)
	require.Equal(t, 5, m.Attempts())

	ch.set(func(f *fakeChannel) { f.failDial = false })
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 0, m.Attempts())
}

func TestReconnect_RecoversBeforeExhaustion(t *testing.T) {
	ch := newFakeChannel()
	ch.failDial = true
	cfg := fastConfig()
	cfg.BaseDelay = 20 * time.Millisecond
	m := New(ch, cfg)
	defer m.Close()

	m.SubscribeSession(context.Background(), "s1")
	_ = m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.Attempts() >= 1 }, waitFor, tick)

	ch.set(func(f *fakeChannel) { f.failDial = false })
	require.Eventually(t, func() bool { return len(ch.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, []live.Outbound{live.Subscribe(model.KindSession, "s1")}, ch.sentMessages())
}

func TestMonitor_ReconnectsDroppedChannel(t *testing.T) {
	ch := newFakeChannel()
	cfg := fastConfig()
	cfg.MonitorInterval = 5 * time.Millisecond
	m := New(ch, cfg)
	defer m.Close()

	ctx := context.Background()
	m.SubscribeChild(ctx, "c1")
	require.NoError(t, m.Connect(ctx))

	ch.set(func(f *fakeChannel) { f.connected = false })

	require.Eventually(t, func() bool { return len(ch.sentMessages()) == 2 }, waitFor, tick)
	sent := ch.sentMessages()
	assert.Equal(t, sent[0], sent[1], "subscription replayed after reconnect")
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 2, ch.dialCount())
}

func TestHeartbeat_FailureDisconnects(t *testing.T) {
	ch := newFakeChannel()
	ch.failPing = true
	cfg := fastConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	m := New(ch, cfg)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)
	assert.False(t, ch.IsConnected())
}

func TestHeartbeat_LossLeadsToReconnect(t *testing.T) {
	ch := newFakeChannel()
	ch.failPing = true
	cfg := fastConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.MonitorInterval = 5 * time.Millisecond
	m := New(ch, cfg)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return ch.dialCount() >= 2 }, waitFor, tick)
}

func TestDisconnect_ClearsSubscriptionsAndStopsPump(t *testing.T) {
	ch := newFakeChannel()
	n := &fakeNotifier{}
	handled := make(chan live.Event, 4)
	m := New(ch, fastConfig(), WithNotifier(n), WithHandler(func(ctx context.Context, e live.Event) error {
		handled <- e
		return nil
	}))
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	m.SubscribeChild(ctx, "c1")

	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.Subscriptions())
	assert.False(t, ch.IsConnected())
	assert.Equal(t, []string{"Connection Established", "Disconnected"}, n.seen())

	ch.messages <- live.Event{Type: live.EventHeartbeat}
	select {
	case <-handled:
		t.Fatal("pump still running after Disconnect")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, m.Disconnect(), "second Disconnect is a no-op")
	assert.Equal(t, []string{"Connection Established", "Disconnected"}, n.seen())
}

func TestPump_PreservesArrivalOrder(t *testing.T) {
	ch := newFakeChannel()
	var mu sync.Mutex
	var got []string
	m := New(ch, fastConfig(), WithHandler(func(ctx context.Context, e live.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Message)
		if e.Message == "bad" {
			return errors.New("handler failed")
		}
		return nil
	}))
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	for _, msg := range []string{"1", "2", "bad", "3"} {
		ch.messages <- live.Event{Type: live.EventError, Message: msg}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, waitFor, tick)
	assert.Equal(t, []string{"1", "2", "bad", "3"}, got)
}

func TestSubscribe_SendsImmediatelyWhenConnected(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, fastConfig())
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	m.SubscribeSession(ctx, "s1")
	m.SubscribeChild(ctx, "c1")
	m.UnsubscribeSession(ctx, "s1")
	m.UnsubscribeSession(ctx, "never-subscribed")

	assert.Equal(t, []live.Outbound{
		live.Subscribe(model.KindSession, "s1"),
		live.Subscribe(model.KindChild, "c1"),
		live.Unsubscribe(model.KindSession, "s1"),
	}, ch.sentMessages())
	assert.Equal(t, []live.Outbound{live.Subscribe(model.KindChild, "c1")}, m.Subscriptions())

	m.UnsubscribeAll(ctx)
	assert.Empty(t, m.Subscriptions())
	assert.Equal(t, live.Unsubscribe(model.KindChild, "c1"), ch.sentMessages()[3])
}

func TestUnsubscribeChild_ForgetsAndSends(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, fastConfig())
	defer m.Close()

	ctx := context.Background()
	m.SubscribeChild(ctx, "c1")
	m.SubscribeChild(ctx, "c2")
	m.UnsubscribeChild(ctx, "c1")
	assert.Equal(t, []live.Outbound{live.Subscribe(model.KindChild, "c2")}, m.Subscriptions())
	assert.Empty(t, ch.sentMessages(), "nothing is sent while disconnected")

	require.NoError(t, m.Connect(ctx))
	m.UnsubscribeChild(ctx, "c2")
	assert.Empty(t, m.Subscriptions())
	assert.Contains(t, ch.sentMessages(), live.Unsubscribe(model.KindChild, "c2"))
	assert.NotContains(t, ch.sentMessages(), live.Unsubscribe(model.KindChild, "c1"))
}

func TestStatuses_StreamTransitions(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, fastConfig())

	sub := m.Statuses()
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())

	var got []State
	for s := range sub.C() {
		got = append(got, s)
	}
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}, got)
}
