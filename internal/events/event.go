package events

import (
	"time"

	"github.com/aditya/ride-dispatch/internal/models"
)

type Type string

// Order lifecycle events
const (
	OrderCreated   Type = "order.created"
	OrderAccepted  Type = "order.accepted"
	OrderArrived   Type = "order.arrived"
	OrderStarted   Type = "order.started"
	OrderCompleted Type = "order.completed"
	OrderCancelled Type = "order.cancelled"
	OrderRequeued  Type = "order.requeued"
)

// Event is emitted after a transition has been committed.
type Event struct {
	Type           Type               `json:"type"`
	OrderID        string             `json:"order_id"`
	Status         models.OrderStatus `json:"status"`
	PreviousStatus models.OrderStatus `json:"previous_status,omitempty"`
	ClientID       string             `json:"client_id"`
	DriverID       string             `json:"driver_id,omitempty"`
	ActorID        string             `json:"actor_id,omitempty"`
	ActorRole      string             `json:"actor_role,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	FinalPrice     *float64           `json:"final_price,omitempty"`
	// ExcludeDriverIDs lists drivers that must not be offered this order again.
	ExcludeDriverIDs []string  `json:"exclude_driver_ids,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// TypeFor maps a committed target status onto its event type.
func TypeFor(from, to models.OrderStatus) Type {
	switch to {
	case models.OrderStatusPending:
		if from == "" {
			return OrderCreated
		}
		return OrderRequeued
	case models.OrderStatusAccepted:
		return OrderAccepted
	case models.OrderStatusArrived:
		return OrderArrived
	case models.OrderStatusInProgress:
		return OrderStarted
	case models.OrderStatusCompleted:
		return OrderCompleted
	default:
		return OrderCancelled
	}
}

// FromOrder builds the event describing o's current state.
func FromOrder(o *models.Order, from models.OrderStatus, actor models.Actor) Event {
	e := Event{
		Type:           TypeFor(from, o.Status),
		OrderID:        o.ID,
		Status:         o.Status,
		PreviousStatus: from,
		ClientID:       o.ClientID,
		DriverID:       o.DriverID(),
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		FinalPrice:     o.FinalPrice,
		OccurredAt:     o.StatusChangedAt,
	}
	if o.CancelReason != nil {
		e.Reason = *o.CancelReason
	}
	return e
}
