package models

import (
	"slices"
	"time"
)

type OrderStatus string

// Order status constants
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusAccepted   OrderStatus = "ACCEPTED"
	OrderStatusArrived    OrderStatus = "ARRIVED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderTransitions is the lifecycle graph. IN_PROGRESS -> CANCELLED is only
// reachable through the administrative override, see CanAdminCancel.
var OrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:   {OrderStatusArrived, OrderStatusCancelled, OrderStatusPending},
	OrderStatusArrived:    {OrderStatusInProgress, OrderStatusCancelled, OrderStatusPending},
	OrderStatusInProgress: {OrderStatusCompleted},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
}

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusArrived,
	OrderStatusInProgress,
}

// ClaimedStatuses are the non-terminal statuses in which a driver holds the order.
var ClaimedStatuses = []OrderStatus{
	OrderStatusAccepted,
	OrderStatusArrived,
	OrderStatusInProgress,
}

// Car classes
const (
	CarClassEconomy  = "ECONOMY"
	CarClassComfort  = "COMFORT"
	CarClassBusiness = "BUSINESS"
	CarClassXL       = "XL"
)

// Cancellation reasons
const (
	CancelReasonDriverDisconnected = "driver disconnected"
)

type Location struct {
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
	Address string  `json:"address" validate:"required"`
}

// Same reports whether two locations point at the same place.
func (l Location) Same(other Location) bool {
	return l.Lat == other.Lat && l.Lng == other.Lng
}

type Order struct {
	ID                   string      `db:"id" json:"id"`
	Status               OrderStatus `db:"status" json:"status"`
	ClientID             string      `db:"client_id" json:"client_id"`
	ClaimedDriverID      *string     `db:"claimed_driver_id" json:"claimed_driver_id,omitempty"`
	PickupLat            float64     `db:"pickup_lat" json:"-"`
	PickupLng            float64     `db:"pickup_lng" json:"-"`
	PickupAddress        string      `db:"pickup_address" json:"-"`
	DropoffLat           float64     `db:"dropoff_lat" json:"-"`
	DropoffLng           float64     `db:"dropoff_lng" json:"-"`
	DropoffAddress       string      `db:"dropoff_address" json:"-"`
	CarClass             string      `db:"car_class" json:"car_class"`
	EstimatedDistanceKm  float64     `db:"estimated_distance_km" json:"estimated_distance_km"`
	EstimatedDurationMin float64     `db:"estimated_duration_min" json:"estimated_duration_min"`
	EstimatedPrice       float64     `db:"estimated_price" json:"estimated_price"`
	SurgeFactor          float64     `db:"surge_factor" json:"surge_factor"`
	ActualDistanceKm     *float64    `db:"actual_distance_km" json:"actual_distance_km,omitempty"`
	ActualDurationMin    *float64    `db:"actual_duration_min" json:"actual_duration_min,omitempty"`
	FinalPrice           *float64    `db:"final_price" json:"final_price,omitempty"`
	CancelReason         *string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy          *string     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt            time.Time   `db:"created_at" json:"created_at"`
	StatusChangedAt      time.Time   `db:"status_changed_at" json:"status_changed_at"`
}

type CreateOrderRequest struct {
	Pickup   *Location `json:"pickup" validate:"required"`
	Dropoff  *Location `json:"dropoff" validate:"required"`
	CarClass string    `json:"car_class" validate:"required,oneof=ECONOMY COMFORT BUSINESS XL"`
}

type CompleteOrderRequest struct {
	ActualDistanceKm  float64 `json:"actual_distance_km" validate:"gte=0"`
	ActualDurationMin float64 `json:"actual_duration_min" validate:"gte=0"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type EstimateRequest struct {
	Pickup   Location `json:"pickup" validate:"required"`
	Dropoff  Location `json:"dropoff" validate:"required"`
	CarClass string   `json:"car_class" validate:"required,oneof=ECONOMY COMFORT BUSINESS XL"`
}

type OrderResponse struct {
	ID                   string      `json:"id"`
	Status               OrderStatus `json:"status"`
	ClientID             string      `json:"client_id"`
	DriverID             *string     `json:"driver_id,omitempty"`
	Pickup               Location    `json:"pickup"`
	Dropoff              Location    `json:"dropoff"`
	CarClass             string      `json:"car_class"`
	EstimatedDistanceKm  float64     `json:"estimated_distance_km"`
	EstimatedDurationMin float64     `json:"estimated_duration_min"`
	EstimatedPrice       float64     `json:"estimated_price"`
	SurgeFactor          float64     `json:"surge_factor"`
	FinalPrice           *float64    `json:"final_price,omitempty"`
	CancelReason         *string     `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	StatusChangedAt      time.Time   `json:"status_changed_at"`
}

func (o *Order) Pickup() Location {
	return Location{Lat: o.PickupLat, Lng: o.PickupLng, Address: o.PickupAddress}
}

func (o *Order) Dropoff() Location {
	return Location{Lat: o.DropoffLat, Lng: o.DropoffLng, Address: o.DropoffAddress}
}

func (o *Order) ToResponse() *OrderResponse {
	return &OrderResponse{
		ID:                   o.ID,
		Status:               o.Status,
		ClientID:             o.ClientID,
		DriverID:             o.ClaimedDriverID,
		Pickup:               o.Pickup(),
		Dropoff:              o.Dropoff(),
		CarClass:             o.CarClass,
		EstimatedDistanceKm:  o.EstimatedDistanceKm,
		EstimatedDurationMin: o.EstimatedDurationMin,
		EstimatedPrice:       o.EstimatedPrice,
		SurgeFactor:          o.SurgeFactor,
		FinalPrice:           o.FinalPrice,
		CancelReason:         o.CancelReason,
		CreatedAt:            o.CreatedAt,
		StatusChangedAt:      o.StatusChangedAt,
	}
}

// CanTransitionTo checks if an order can move to newStatus along the lifecycle graph
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	return CanTransition(o.Status, newStatus)
}

func CanTransition(from, to OrderStatus) bool {
	validNextStates, exists := OrderTransitions[from]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == to {
			return true
		}
	}
	return false
}

// CanAdminCancel includes the override path out of IN_PROGRESS.
func (o *Order) CanAdminCancel() bool {
	return o.Status == OrderStatusInProgress || o.CanTransitionTo(OrderStatusCancelled)
}

// IsActive returns true if the order is not in a terminal state
func (o *Order) IsActive() bool {
	return slices.Contains(ActiveStatuses, o.Status)
}

// IsParty reports whether actorID is the client or the claimed driver.
func (o *Order) IsParty(actorID string) bool {
	return o.ClientID == actorID || o.HeldBy(actorID)
}

// HeldBy reports whether driverID is the claimed driver.
func (o *Order) HeldBy(driverID string) bool {
	return o.ClaimedDriverID != nil && *o.ClaimedDriverID == driverID
}

// DriverID returns the claimed driver or "".
func (o *Order) DriverID() string {
	if o.ClaimedDriverID == nil {
		return ""
	}
	return *o.ClaimedDriverID
}

func IsValidCarClass(c string) bool {
	return c == CarClassEconomy || c == CarClassComfort || c == CarClassBusiness || c == CarClassXL
}
