// ABOUTME: In-process fan-out bus for conversation domain events
// ABOUTME: Synchronous, sequential delivery; a failing subscriber never stops the rest

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/parley-gateway/internal/chat"
)

// Handler consumes one event. A returned error is logged and the next
// subscriber still runs.
type Handler func(ctx context.Context, event chat.Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers each published event to every subscriber registered for its
// kind, in subscription-registration order, synchronously with the
// publisher. It holds no queue: by the time Publish returns, every
// in-process subscriber has seen the event. Per-conversation ordering
// follows from publishers holding the conversation lock across Publish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chat.Kind][]subscription
	logger *slog.Logger
}

// New creates a bus. Pass nil logger for default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[chat.Kind][]subscription),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for one event kind. The name is only used in
// log lines when the handler fails.
func (b *Bus) Subscribe(kind chat.Kind, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], subscription{name: name, handler: h})
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(name string, h Handler) {
	for _, k := range chat.Kinds() {
		b.Subscribe(k, name, h)
	}
}

// Publish delivers the event to all subscribers of its kind. Subscriber
// errors and panics are logged and skipped; they never reach the publisher.
func (b *Bus) Publish(ctx context.Context, event chat.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, event chat.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"subscriber", sub.name,
				"event_id", event.ID,
				"kind", event.Kind,
				"panic", r,
			)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		b.logger.Error("subscriber failed",
			"subscriber", sub.name,
			"event_id", event.ID,
			"kind", event.Kind,
			"error", err,
		)
	}
}
