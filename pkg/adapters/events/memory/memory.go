package memory

import (
	"context"
	"sync"

	"github.com/seralba/rpo/pkg/adapters/events"
)

// Bus implements events.Bus with in-process handlers.
// Used for tests and for runs without Redis.
type Bus struct {
	subscribers map[string][]events.Handler
	mu          sync.RWMutex
}

// NewBus creates a new in-memory event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]events.Handler),
	}
}

// Publish delivers an event to all subscribers of a topic.
// Handlers run synchronously; a handler error does not stop delivery
// to the remaining handlers.
func (b *Bus) Publish(ctx context.Context, topic string, event events.Event) error {
	b.mu.RLock()
	handlers := make([]events.Handler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = make(map[string][]events.Handler)
	return nil
}
