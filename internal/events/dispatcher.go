package events

import (
	"context"
	"sync"
)

// IdentityEventHandler handles one decoded identity event.
type IdentityEventHandler func(context.Context, IdentityEvent) error

// Dispatcher routes decoded identity events to registered handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event IdentityEvent) error
	Subscribe(eventType IdentityEventType, handler IdentityEventHandler)
	Handles(eventType IdentityEventType) bool
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[IdentityEventType][]IdentityEventHandler
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[IdentityEventType][]IdentityEventHandler),
	}
}

// Dispatch synchronously invokes handlers for the given event. Handler
// errors never stop delivery to the remaining handlers.
func (d *inMemoryDispatcher) Dispatch(ctx context.Context, event IdentityEvent) error {
	d.mu.RLock()
	handlers := append([]IdentityEventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			// continue processing other handlers despite errors
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType IdentityEventType, handler IdentityEventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// Handles reports whether any handler is registered for the type.
func (d *inMemoryDispatcher) Handles(eventType IdentityEventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[eventType]) > 0
}
