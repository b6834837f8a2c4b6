package models

import (
	"time"
)

// Driver status constants
const (
	DriverStatusOffline = "OFFLINE"
	DriverStatusOnline  = "ONLINE"
	DriverStatusBusy    = "BUSY"
	DriverStatusBreak   = "BREAK"
)

// DriverPresence is the live, rebuildable view of one driver.
type DriverPresence struct {
	DriverID       string    `json:"driver_id"`
	Status         string    `json:"status"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	LastLocationAt time.Time `json:"last_location_at"`
	CarClass       string    `json:"car_class"`
	ActiveOrderID  string    `json:"active_order_id,omitempty"`
	ActiveClientID string    `json:"active_client_id,omitempty"`
}

type GoOnlineRequest struct {
	Lat      float64 `json:"lat" validate:"latitude"`
	Lng      float64 `json:"lng" validate:"longitude"`
	CarClass string  `json:"car_class" validate:"required,oneof=ECONOMY COMFORT BUSINESS XL"`
}

type UpdateDriverLocationRequest struct {
	Lat     float64  `json:"lat" validate:"latitude"`
	Lng     float64  `json:"lng" validate:"longitude"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

type SetDriverStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ONLINE BREAK"`
}

// DriverDistance is one Nearby result.
type DriverDistance struct {
	DriverID string  `json:"driver_id"`
	Distance float64 `json:"distance_km"`
}

// IsEligible reports whether the driver may receive new offers.
func (p *DriverPresence) IsEligible() bool {
	return p.Status == DriverStatusOnline
}
