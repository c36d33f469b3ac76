// Package events fans player notifications out to any number of subscribers.
package events

import (
	"sync"

	"github.com/samber/mo"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Broadcaster is a one-producer, many-consumer channel. Delivery is
// non-blocking: a subscriber whose buffer is full misses the value. All
// methods are safe to call after Close.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	buffer int
	closed bool

	replay bool
	last   mo.Option[T]

	onDrop func()
}

// NewBroadcaster returns a broadcaster whose subscribers only see values
// published after they subscribed.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{subs: make(map[uint64]chan T), buffer: buffer}
}

// NewReplayBroadcaster returns a broadcaster that hands the latest value
// (initially initial) to every new subscriber.
func NewReplayBroadcaster[T any](buffer int, initial T) *Broadcaster[T] {
	b := NewBroadcaster[T](buffer)
	b.replay = true
	b.last = mo.Some(initial)
	return b
}

// OnDrop registers fn to be called whenever a value is not delivered to a
// subscriber because its buffer is full.
func (b *Broadcaster[T]) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a new consumer. The returned cancel func is idempotent.
// After Close the returned channel is already closed.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if v, ok := b.last.Get(); ok && b.replay {
		ch <- v
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

// Publish delivers v to every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.replay {
		b.last = mo.Some(v)
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Last returns the most recently published value of a replay broadcaster.
func (b *Broadcaster[T]) Last() mo.Option[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close completes every subscription and turns further calls into no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}
