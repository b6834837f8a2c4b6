package models

import (
	"time"
)

// Offer status constants
const (
	OfferStatusPending   = "pending"
	OfferStatusAccepted  = "accepted"
	OfferStatusDeclined  = "declined"
	OfferStatusExpired   = "expired"
	OfferStatusRetracted = "retracted"
)

// Retraction reasons pushed with offer.retracted
const (
	RetractReasonTaken     = "taken"
	RetractReasonExpired   = "expired"
	RetractReasonCancelled = "cancelled"
)

type Offer struct {
	ID          string     `db:"id" json:"id"`
	OrderID     string     `db:"order_id" json:"order_id"`
	DriverID    string     `db:"driver_id" json:"driver_id"`
	Status      string     `db:"status" json:"status"`
	Round       int        `db:"round" json:"round"`
	DistanceKm  float64    `db:"distance_km" json:"distance_km"`
	IssuedAt    time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	RespondedAt *time.Time `db:"responded_at" json:"responded_at,omitempty"`
}

type OfferResponse struct {
	ID         string         `json:"id"`
	OrderID    string         `json:"order_id"`
	Status     string         `json:"status"`
	DistanceKm float64        `json:"distance_km"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Order      *OrderResponse `json:"order,omitempty"`
}

func (o *Offer) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsLive reports whether the offer can still be claimed through.
func (o *Offer) IsLive(now time.Time) bool {
	return o.Status == OfferStatusPending && !o.IsExpired(now)
}

func (o *Offer) ToResponse() *OfferResponse {
	return &OfferResponse{
		ID:         o.ID,
		OrderID:    o.OrderID,
		Status:     o.Status,
		DistanceKm: o.DistanceKm,
		ExpiresAt:  o.ExpiresAt,
	}
}

// RetractNotice is pushed with offer.retracted.
type RetractNotice struct {
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	Reconcile bool   `json:"reconcile"`
}
