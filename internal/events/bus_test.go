package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aditya/ride-dispatch/internal/logging"
	"github.com/aditya/ride-dispatch/internal/models"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.events = append(s.events, e)
	return s.err
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(logging.Discard())

	var seen []string
	bus.Subscribe(func(_ context.Context, e Event) { seen = append(seen, "matching:"+string(e.Type)) })
	bus.Subscribe(func(_ context.Context, e Event) { seen = append(seen, "notifier:"+string(e.Type)) })

	if err := bus.Publish(context.Background(), Event{Type: OrderAccepted, OrderID: "o-1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	want := []string{"matching:order.accepted", "notifier:order.accepted"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("handlers saw %v, want %v", seen, want)
	}
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus(logging.Discard())

	called := false
	bus.Subscribe(func(context.Context, Event) { panic("boom") })
	bus.Subscribe(func(context.Context, Event) { called = true })

	bus.Publish(context.Background(), Event{Type: OrderCreated})
	if !called {
		t.Error("second handler was not called after the first panicked")
	}
}

func TestBusJoinsSinkErrors(t *testing.T) {
	bus := NewBus(logging.Discard())
	sinkErr := errors.New("broker down")
	ok := &recordingSink{}
	bad := &recordingSink{err: sinkErr}
	bus.AddSink(bad)
	bus.AddSink(ok)

	err := bus.Publish(context.Background(), Event{Type: OrderCancelled, OrderID: "o-2"})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Publish() error = %v, want %v", err, sinkErr)
	}
	if len(ok.events) != 1 {
		t.Errorf("healthy sink got %d events, want 1", len(ok.events))
	}
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     Type
	}{
		{"", models.OrderStatusPending, OrderCreated},
		{models.OrderStatusAccepted, models.OrderStatusPending, OrderRequeued},
		{models.OrderStatusPending, models.OrderStatusAccepted, OrderAccepted},
		{models.OrderStatusAccepted, models.OrderStatusArrived, OrderArrived},
		{models.OrderStatusArrived, models.OrderStatusInProgress, OrderStarted},
		{models.OrderStatusInProgress, models.OrderStatusCompleted, OrderCompleted},
		{models.OrderStatusPending, models.OrderStatusCancelled, OrderCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := TypeFor(tt.from, tt.to); got != tt.want {
				t.Errorf("TypeFor(%s, %s) = %s, want %s", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
