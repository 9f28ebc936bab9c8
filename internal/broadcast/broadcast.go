// Package broadcast fans a stream of values out to any number of subscribers.
//
// Every subscriber sees every value published after it subscribed, in
// publish order. Delivery to one subscriber never waits on another.
package broadcast

import "sync"

// Broadcaster delivers published values to all current subscribers.
// The zero value is not usable; call New.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription[T any] struct {
	b    *Broadcaster[T]
	q    *queue[T]
	out  chan T
	done chan struct{}
	once sync.Once
}

// New creates an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new subscriber. The returned subscription's channel
// is closed when the subscription is cancelled or the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		b:    b,
		q:    newQueue[T](),
		out:  make(chan T),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		close(s.out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.drain()
	return s
}

// Publish delivers v to every current subscriber. It never blocks on a
// slow subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for s := range b.subs {
		s.q.push(v)
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Values already published are still
// delivered before each channel closes. Later Publish calls are dropped
// and later Subscribe calls return already-closed subscriptions.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.q.close()
	}
}

// C returns the channel values are delivered on.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Cancel unsubscribes. Values still queued are discarded.
func (s *Subscription[T]) Cancel() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
	s.stop()
}

func (s *Subscription[T]) stop() {
	s.once.Do(func() {
		s.q.close()
		close(s.done)
	})
}

// drain forwards queued values to out. It stops at once when cancelled,
// or after the backlog is delivered when the queue is closed.
func (s *Subscription[T]) drain() {
	defer close(s.out)
	for {
		if v, ok := s.q.tryPop(); ok {
			select {
			case s.out <- v:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case <-s.done:
			return
		case _, open := <-s.q.wait():
			if !open && s.q.len() == 0 {
				return
			}
		}
	}
}
