// Package events fans state-change notifications out to subscribers.
package events

import "sync"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Broadcaster delivers values of type T to every current subscriber.
// Publishing never blocks: a subscriber whose buffer is full misses the value,
// so subscribers that need the latest state should re-read it from the source.
type Broadcaster[T any] struct {
	subs   map[int]chan T
	nextID int
	buffer int
	closed bool
	mu     sync.Mutex
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes the channel.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish sends v to every subscriber that has room for it.
// It returns the number of subscribers that dropped the value.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Close closes every subscriber channel. Later subscriptions receive a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
