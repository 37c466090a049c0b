package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans order and protection notifications out to subscribers. Delivery is
// best effort: a subscriber whose buffer is full misses the event instead of
// stalling the publisher, so order placement and the monitoring loop never
// block on a slow reader.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[Event]map[uint64]chan any
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Event]map[uint64]chan any)}
}

// Subscribe registers a listener for one event kind and returns its channel
// plus a function that removes the listener and closes the channel. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan any, buffer)
	if b.subs[e] == nil {
		b.subs[e] = make(map[uint64]chan any)
	}
	b.subs[e][id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[e][id]; ok {
			delete(b.subs[e], id)
			close(c)
		}
	}
	return ch, unsub
}

// Publish delivers the payload to every subscriber of e without blocking.
// Sends that would block are counted and discarded.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers reports the current listener count for an event kind.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}

// Dropped reports how many events have been discarded on full buffers since
// the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
