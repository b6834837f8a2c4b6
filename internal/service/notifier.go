package service

import (
	"context"
	"log/slog"

	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/session"
)

// Notifier forwards committed transitions to the parties of the order.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) HandleEvent(_ context.Context, e events.Event) {
	notice := models.StatusNotice{
		OrderID:        e.OrderID,
		Status:         e.Status,
		PreviousStatus: e.PreviousStatus,
		Reason:         e.Reason,
		Reconcile:      true,
	}

	for _, actorID := range []string{e.ClientID, e.DriverID} {
		if actorID == "" {
			continue
		}
		if !n.sender.Send(actorID, session.EventOrderStatusChanged, notice) {
			observability.PushesDropped.WithLabelValues(session.EventOrderStatusChanged).Inc()
			n.logger.Debug("status push not delivered", "order_id", e.OrderID, "actor_id", actorID, "status", e.Status)
		}
	}
}
