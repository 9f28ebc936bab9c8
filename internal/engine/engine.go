package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/notify"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/store"
)

// LocalStore is the device's copy of children, sessions and records.
// Implemented by *store.Store. Lookups of missing entities return an
// error wrapping store.ErrNotFound.
type LocalStore interface {
	GetChild(ctx context.Context, id string) (model.Child, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	GetRecord(ctx context.Context, id string) (model.CheckInRecord, error)
	UpsertChild(ctx context.Context, c model.Child) error
	UpsertSession(ctx context.Context, s model.Session) error
	UpsertRecord(ctx context.Context, r model.CheckInRecord) error
	DeleteRecord(ctx context.Context, id string) error
	ListChildren(ctx context.Context, pred func(model.Child) bool) ([]model.Child, error)
	ListSessions(ctx context.Context, pred func(model.Session) bool) ([]model.Session, error)
	ListRecords(ctx context.Context, pred func(model.CheckInRecord) bool) ([]model.CheckInRecord, error)
	ActiveRecordForChild(ctx context.Context, childID string) (model.CheckInRecord, error)
	PendingRecords(ctx context.Context) ([]model.CheckInRecord, error)
	Apply(ctx context.Context, m store.Mutation) error
}

// Remote is the authoritative backend. Implemented by *remote.Client.
// Failures are *remote.RejectionError or *remote.TransportError.
type Remote interface {
	CheckIn(ctx context.Context, req remote.CheckInRequest) (remote.Result, error)
	CheckOut(ctx context.Context, req remote.CheckOutRequest) (remote.Result, error)
	FetchChild(ctx context.Context, id string) (model.Child, error)
	FetchSession(ctx context.Context, id string) (model.Session, error)
	FetchSessions(ctx context.Context) ([]model.Session, error)
	Register(ctx context.Context, reg model.Registration) (model.Child, error)
}

// Subscriber forwards entity subscriptions to the live channel.
// Implemented by *connection.Manager.
type Subscriber interface {
	SubscribeChild(ctx context.Context, id string)
	SubscribeSession(ctx context.Context, id string)
	UnsubscribeChild(ctx context.Context, id string)
	UnsubscribeSession(ctx context.Context, id string)
	UnsubscribeAll(ctx context.Context)
}

// Engine is the synchronization engine.
//
// Thread-safety model:
//   - CheckIn/CheckOut: safe from any goroutine; serialized per child
//   - ApplyInboundEvent: called from one pump goroutine; child and record
//     merges take the same per-child locks. Session merges need none since
//     local capacity changes are relative.
//   - SyncPending: safe from any goroutine; takes the same per-child locks
type Engine struct {
	store      LocalStore
	remote     Remote
	fanout     *notify.FanOut
	subscriber Subscriber
	ids        model.IDGenerator
	now        func() time.Time
	validate   *validator.Validate
	locks      *keyedMutex
}

// Option allows configuration of engine collaborators.
type Option func(*Engine)

// WithClock sets the wall clock used for timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator sets how local record ids are minted.
// Default: model.UUIDv7Generator.
func WithIDGenerator(ids model.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithFanOut sets the notification fan-out. Default: a private FanOut.
func WithFanOut(f *notify.FanOut) Option {
	return func(e *Engine) {
		e.fanout = f
	}
}

// WithSubscriber sets where entity subscriptions are forwarded.
func WithSubscriber(s Subscriber) Option {
	return func(e *Engine) {
		e.subscriber = s
	}
}

// New creates an Engine over a local store and a remote authority.
func New(s LocalStore, r Remote, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		remote:   r,
		ids:      model.UUIDv7Generator{},
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fanout == nil {
		e.fanout = notify.NewFanOut(nil, nil, e.now)
	}
	return e
}

// FanOut returns the engine's notification fan-out.
func (e *Engine) FanOut() *notify.FanOut {
	return e.fanout
}

// SetSubscriber attaches the live-channel subscriber after construction,
// for wiring where the connection manager itself depends on the engine.
func (e *Engine) SetSubscriber(s Subscriber) {
	e.subscriber = s
}

// SubscribeToChild registers fn for updates to a child and asks the live
// channel to deliver them. Once the last observer of the child
// unsubscribes, the live-channel subscription is dropped too.
func (e *Engine) SubscribeToChild(ctx context.Context, id string, fn notify.Observer) (unsubscribe func()) {
	drop := e.fanout.Registry().Subscribe(model.KindChild, id, fn)
	if e.subscriber == nil {
		return drop
	}
	e.subscriber.SubscribeChild(ctx, id)
	return e.releaser(ctx, model.KindChild, id, drop, e.subscriber.UnsubscribeChild)
}

// SubscribeToSession is SubscribeToChild for a session.
func (e *Engine) SubscribeToSession(ctx context.Context, id string, fn notify.Observer) (unsubscribe func()) {
	drop := e.fanout.Registry().Subscribe(model.KindSession, id, fn)
	if e.subscriber == nil {
		return drop
	}
	e.subscriber.SubscribeSession(ctx, id)
	return e.releaser(ctx, model.KindSession, id, drop, e.subscriber.UnsubscribeSession)
}

// releaser wraps a registry unsubscribe so the live channel forgets the
// entity when no local observer is left.
func (e *Engine) releaser(ctx context.Context, kind model.Kind, id string, drop func(), forget func(context.Context, string)) func() {
	ctx = context.WithoutCancel(ctx)
	var once sync.Once
	return func() {
		once.Do(func() {
			drop()
			if e.fanout.Registry().Count(kind, id) == 0 {
				forget(ctx, id)
			}
		})
	}
}

// UnsubscribeAll drops every observer and live-channel subscription.
func (e *Engine) UnsubscribeAll(ctx context.Context) {
	e.fanout.Registry().UnsubscribeAll()
	if e.subscriber != nil {
		e.subscriber.UnsubscribeAll(ctx)
	}
}

// Handler adapts ApplyInboundEvent to the connection manager's handler type.
func (e *Engine) Handler() func(ctx context.Context, ev live.Event) error {
	return e.ApplyInboundEvent
}
