package service

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/Strob0t/agentopt/internal/domain/event"
)

// EventHandler receives orchestrator events.
type EventHandler interface {
	HandleEvent(ctx context.Context, e event.Event) error
}

// EventHandlerFunc adapts a function to EventHandler. Funcs are not
// comparable, so registering the same func twice delivers events twice.
type EventHandlerFunc func(ctx context.Context, e event.Event) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, e event.Event) error { return f(ctx, e) }

// EventBus dispatches events synchronously to handlers in registration order.
// A failing or panicking handler is logged and does not affect the others.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[event.Name][]EventHandler
	now      func() time.Time
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[event.Name][]EventHandler),
		now:      time.Now,
	}
}

// Subscribe registers h for name. Registering the same pointer handler
// twice for the same name is a no-op; other handler kinds are always
// added. It reports whether h was added.
func (b *EventBus) Subscribe(name event.Name, h EventHandler) bool {
	if h == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// A struct value holding a func or slice in an interface field would
	// panic on ==, so only pointers are compared.
	if reflect.TypeOf(h).Kind() == reflect.Pointer {
		for _, existing := range b.handlers[name] {
			if existing == h {
				return false
			}
		}
	}
	b.handlers[name] = append(b.handlers[name], h)
	return true
}

// SubscribeAll registers h for every event name.
func (b *EventBus) SubscribeAll(h EventHandler) {
	for _, name := range event.All {
		b.Subscribe(name, h)
	}
}

// HandlerCount returns the number of handlers registered for name.
func (b *EventBus) HandlerCount(name event.Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Emit delivers an event to every handler registered for name.
func (b *EventBus) Emit(ctx context.Context, name event.Name, payload map[string]any) {
	b.mu.RLock()
	hs := make([]EventHandler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}
	e := event.Event{Name: name, Payload: payload, Timestamp: b.now()}
	for _, h := range hs {
		if err := dispatch(ctx, h, e); err != nil {
			slog.WarnContext(ctx, "event handler failed", "event", string(name), "error", err)
		}
	}
}

func dispatch(ctx context.Context, h EventHandler, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleEvent(ctx, e)
}
