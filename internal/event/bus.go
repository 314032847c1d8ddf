// Package event defines event types for decoupling components in Conductor.
// These events carry plan lifecycle changes, step progress, and approval
// notifications between the executor, the permission gate, and external
// listeners (CLI output, notification transports) without requiring direct
// dependencies.
package event

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event.
type Handler func(Event)

// Bus is a simple synchronous pub-sub event bus.
// It allows components to communicate without direct dependencies.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler // eventType -> subID -> handler
	order  map[string][]uint64           // eventType -> subIDs in registration order
	nextID atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs:  make(map[string]map[uint64]Handler),
		order: make(map[string][]uint64),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]Handler)
	}
	b.subs[eventType][id] = handler
	b.order[eventType] = append(b.order[eventType], id)
	return fmt.Sprintf("sub-%d", id)
}

// SubscribeAll registers a handler for all event types.
// The handler will be called for every published event.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	var numeric uint64
	if _, err := fmt.Sscanf(id, "sub-%d", &numeric); err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.subs {
		if _, ok := handlers[numeric]; ok {
			delete(handlers, numeric)
			ids := b.order[eventType]
			for i, sid := range ids {
				if sid == numeric {
					b.order[eventType] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers (subscribed to this event type) are called first,
// followed by wildcard handlers (subscribed via SubscribeAll).
// Within each group, handlers are called in registration order.
// If a handler panics, the panic is logged, recovered, and publishing
// continues to remaining handlers.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	handlers := b.snapshot(eventType)
	handlers = append(handlers, b.snapshot("*")...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, event)
	}
}

// snapshot copies the handlers for an event type in registration order.
// The caller must hold at least a read lock.
func (b *Bus) snapshot(eventType string) []Handler {
	ids := b.order[eventType]
	if len(ids) == 0 {
		return nil
	}
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := b.subs[eventType][id]; ok {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

// safeCall invokes a handler and recovers from any panics.
// A misbehaving handler must not block event delivery to other handlers.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s",
				event.EventType(), r, debug.Stack())
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[uint64]Handler)
	b.order = make(map[string][]uint64)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, handlers := range b.subs {
		count += len(handlers)
	}
	return count
}
