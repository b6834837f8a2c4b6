package maps

import (
	"context"
	"math"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
)

// RouteEstimator returns the expected driving distance and duration between two points.
type RouteEstimator interface {
	Estimate(ctx context.Context, from, to models.Location) (*models.RouteEstimate, error)
}

const (
	// straight line to road distance
	roadFactor = 1.3
	// average city speed
	avgSpeedKmh    = 25.0
	minDurationMin = 5.0
)

type haversineEstimator struct{}

// NewHaversineEstimator estimates from the great-circle distance. It needs no
// network and backs the Google estimator when that fails.
func NewHaversineEstimator() RouteEstimator {
	return haversineEstimator{}
}

func (haversineEstimator) Estimate(_ context.Context, from, to models.Location) (*models.RouteEstimate, error) {
	distance := utils.Round2(utils.HaversineKm(from.Lat, from.Lng, to.Lat, to.Lng) * roadFactor)

	duration := math.Ceil(distance / avgSpeedKmh * 60)
	if duration < minDurationMin {
		duration = minDurationMin
	}

	return &models.RouteEstimate{DistanceKm: distance, DurationMin: duration}, nil
}
