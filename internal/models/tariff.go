package models

// Tariff is the pricing row for one car class.
type Tariff struct {
	CarClass    string  `json:"car_class"`
	BaseFare    float64 `json:"base_fare"`
	PerKm       float64 `json:"per_km"`
	PerMinute   float64 `json:"per_minute"`
	MinFare     float64 `json:"min_fare"`
	SurgeFactor float64 `json:"surge_factor"`
}

type FareBreakdown struct {
	BaseFare       float64 `json:"base_fare"`
	DistanceFare   float64 `json:"distance_fare"`
	TimeFare       float64 `json:"time_fare"`
	MinFareApplied bool    `json:"min_fare_applied"`
	SurgeFactor    float64 `json:"surge_factor"`
	SurgeAmount    float64 `json:"surge_amount"`
	Total          float64 `json:"total"`
}

// RouteEstimate is what the mapping collaborator returns for a pickup/dropoff pair.
type RouteEstimate struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

type EstimateResponse struct {
	CarClass    string         `json:"car_class"`
	DistanceKm  float64        `json:"distance_km"`
	DurationMin float64        `json:"duration_min"`
	Fare        *FareBreakdown `json:"fare"`
}
