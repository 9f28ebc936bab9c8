// Package notify turns inbound live events into per-entity updates and
// user-facing notifications.
//
// The Registry holds per-entity observers. The Generator maps an event to
// notifications. FanOut ties the two to a notification stream.
package notify

import (
	"time"

	"github.com/roach88/rollcall/internal/broadcast"
	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
)

// FanOut delivers events to observers and notifications to the stream.
type FanOut struct {
	registry *Registry
	gen      *Generator
	stream   *broadcast.Broadcaster[Notification]
	now      func() time.Time
}

// NewFanOut wires a registry and generator to a fresh notification stream.
// now defaults to time.Now.
func NewFanOut(registry *Registry, gen *Generator, now func() time.Time) *FanOut {
	if registry == nil {
		registry = NewRegistry()
	}
	if gen == nil {
		gen = NewGenerator(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &FanOut{
		registry: registry,
		gen:      gen,
		stream:   broadcast.New[Notification](),
		now:      now,
	}
}

// Registry returns the observer registry.
func (f *FanOut) Registry() *Registry {
	return f.registry
}

// Generator returns the notification generator.
func (f *FanOut) Generator() *Generator {
	return f.gen
}

// Publish delivers e to the observers of every entity it carries, then
// emits its notifications. It returns the notifications emitted.
func (f *FanOut) Publish(e live.Event) []Notification {
	u := Update{Event: e.Type, Child: e.Child, Session: e.Session, Record: e.Record}

	switch e.Type {
	case live.EventChildStatusChanged:
		f.registry.Deliver(model.KindChild, e.Child.ID, u)
	case live.EventSessionCapacityChanged:
		f.registry.Deliver(model.KindSession, e.Session.ID, u)
	case live.EventCheckedIn, live.EventCheckedOut:
		f.registry.Deliver(model.KindChild, e.Record.ChildID, u)
		f.registry.Deliver(model.KindSession, e.Record.SessionID, u)
	}

	notifications := f.gen.Generate(e, f.now())
	for _, n := range notifications {
		f.stream.Publish(n)
	}
	return notifications
}

// Emit publishes a notification that did not come from an inbound event.
func (f *FanOut) Emit(n Notification) {
	f.stream.Publish(n)
}

// EmitConnection builds and publishes a connection-lifecycle notification.
func (f *FanOut) EmitConnection(title, message string) Notification {
	n := f.gen.Connection(title, message, f.now())
	f.stream.Publish(n)
	return n
}

// Notifications subscribes to the notification stream.
func (f *FanOut) Notifications() *broadcast.Subscription[Notification] {
	return f.stream.Subscribe()
}

// Close ends every notification subscription.
func (f *FanOut) Close() {
	f.stream.Close()
}
