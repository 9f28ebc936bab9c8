package notify

import (
	"slices"
	"sync"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
)

// Update is the typed payload handed to a per-entity observer.
type Update struct {
	Kind    model.Kind
	Event   live.EventType
	Child   *model.Child
	Session *model.Session
	Record  *model.CheckInRecord
}

// Observer receives updates for one entity.
type Observer func(Update)

type entityKey struct {
	kind model.Kind
	id   string
}

// Registry tracks per-entity observers.
//
// Observers are called synchronously on the goroutine delivering the
// update, outside the registry lock, so an observer may subscribe or
// unsubscribe.
type Registry struct {
	mu        sync.Mutex
	next      uint64
	observers map[entityKey]map[uint64]Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{observers: make(map[entityKey]map[uint64]Observer)}
}

// Subscribe registers fn for updates to (kind, id). The returned func
// removes exactly this registration and is safe to call more than once.
func (r *Registry) Subscribe(kind model.Kind, id string, fn Observer) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entityKey{kind: kind, id: id}
	r.next++
	token := r.next

	if r.observers[key] == nil {
		r.observers[key] = make(map[uint64]Observer)
	}
	r.observers[key][token] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		obs := r.observers[key]
		delete(obs, token)
		if len(obs) == 0 {
			delete(r.observers, key)
		}
	}
}

// UnsubscribeAll removes every observer.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = make(map[entityKey]map[uint64]Observer)
}

// Count returns how many observers watch (kind, id).
func (r *Registry) Count(kind model.Kind, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers[entityKey{kind: kind, id: id}])
}

// Deliver hands u to every observer of (kind, id) in subscription order.
func (r *Registry) Deliver(kind model.Kind, id string, u Update) {
	r.mu.Lock()
	obs := r.observers[entityKey{kind: kind, id: id}]
	tokens := make([]uint64, 0, len(obs))
	for t := range obs {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)
	fns := make([]Observer, 0, len(tokens))
	for _, t := range tokens {
		fns = append(fns, obs[t])
	}
	r.mu.Unlock()

	u.Kind = kind
	for _, fn := range fns {
		fn(u)
	}
}
