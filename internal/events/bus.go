package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Publisher delivers committed lifecycle events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler reacts to an event in-process.
type Handler func(ctx context.Context, e Event)

// Bus fans an event out to in-process handlers, in subscription order,
// and then to external sinks. Handlers run on the publishing goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	sinks    []Publisher
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// AddSink registers an external publisher (Kafka, RabbitMQ).
func (b *Bus) AddSink(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, p)
}

// Publish never fails the in-process handlers; sink failures are returned joined.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	sinks := append([]Publisher(nil), b.sinks...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, e)
	}

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", e.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", e.Type, "order_id", e.OrderID, "panic", r)
		}
	}()
	h(ctx, e)
}
