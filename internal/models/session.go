package models

// StatusNotice is pushed with order.statusChanged. It names the order and
// its new status; the receiver re-reads the order for anything else.
type StatusNotice struct {
	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Reconcile      bool        `json:"reconcile"`
}

// LocationNotice is pushed with driver.locationUpdate to the client of the
// driver's active order.
type LocationNotice struct {
	OrderID  string   `json:"order_id"`
	DriverID string   `json:"driver_id"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Heading  *float64 `json:"heading,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

// SessionSnapshot is pushed on every connect and mirrors what the actor
// would read over HTTP.
type SessionSnapshot struct {
	Actor       Actor            `json:"actor"`
	ActiveOrder *OrderResponse   `json:"active_order"`
	Offers      []*OfferResponse `json:"offers,omitempty"`
	Presence    *DriverPresence  `json:"presence,omitempty"`
}
