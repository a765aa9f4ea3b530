package pubsub

import (
	"context"
	"slices"
	"sync"
)

// Listener receives events published on a Bus.
type Listener func(ctx context.Context, event string, payload any)

// Subscription identifies one listener registration on a Bus.
type Subscription struct {
	id    uint64
	event string
}

// Event returns the event name the subscription listens to.
func (s Subscription) Event() string {
	return s.event
}

type busEntry struct {
	id       uint64
	listener Listener
}

// Bus is a synchronous, named-event bus. Unlike Broker it delivers on the
// publishing goroutine, in subscription order, to the listeners subscribed
// at publish time. Nothing is buffered or replayed.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]busEntry
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]busEntry)}
}

// Subscribe adds listener for event.
func (b *Bus) Subscribe(event string, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.listeners[event] = append(b.listeners[event], busEntry{id: b.nextID, listener: listener})
	return Subscription{id: b.nextID, event: event}
}

// Unsubscribe removes a subscription. It reports whether the subscription
// was still registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[sub.event]
	i := slices.IndexFunc(entries, func(e busEntry) bool { return e.id == sub.id })
	if i < 0 {
		return false
	}
	entries = slices.Delete(entries, i, i+1)
	if len(entries) == 0 {
		delete(b.listeners, sub.event)
	} else {
		b.listeners[sub.event] = entries
	}
	return true
}

// Publish delivers payload to the current listeners of event and returns how
// many were called. Listeners may subscribe or unsubscribe while being
// called; such changes apply to the next Publish.
func (b *Bus) Publish(ctx context.Context, event string, payload any) int {
	b.mu.RLock()
	entries := slices.Clone(b.listeners[event])
	b.mu.RUnlock()

	for _, e := range entries {
		e.listener(ctx, event, payload)
	}
	return len(entries)
}

// ListenerCount returns the number of listeners for event, or for every
// event when event is empty.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event != "" {
		return len(b.listeners[event])
	}
	n := 0
	for _, entries := range b.listeners {
		n += len(entries)
	}
	return n
}
