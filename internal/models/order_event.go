package models

import (
	"time"
)

// OrderEvent is one row of the order audit trail.
type OrderEvent struct {
	ID         int64        `db:"id" json:"id"`
	OrderID    string       `db:"order_id" json:"order_id"`
	FromStatus *OrderStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   OrderStatus  `db:"to_status" json:"to_status"`
	ActorID    string       `db:"actor_id" json:"actor_id"`
	ActorRole  string       `db:"actor_role" json:"actor_role"`
	Reason     *string      `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}
