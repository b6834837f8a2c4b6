package maps

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"googlemaps.github.io/maps"
)

// GoogleEstimator asks the Directions API for a driving route and falls back
// to another estimator when the API errors or finds no route.
type GoogleEstimator struct {
	client   *maps.Client
	fallback RouteEstimator
	logger   *slog.Logger
}

func NewGoogleEstimator(apiKey string, fallback RouteEstimator, logger *slog.Logger) (*GoogleEstimator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleEstimator{client: client, fallback: fallback, logger: logger}, nil
}

func (g *GoogleEstimator) Estimate(ctx context.Context, from, to models.Location) (*models.RouteEstimate, error) {
	est, err := g.directions(ctx, from, to)
	if err == nil {
		return est, nil
	}

	g.logger.Warn("maps estimate failed, using fallback", "error", err)
	return g.fallback.Estimate(ctx, from, to)
}

func (g *GoogleEstimator) directions(ctx context.Context, from, to models.Location) (*models.RouteEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return &models.RouteEstimate{
		DistanceKm:  utils.Round2(float64(leg.Distance.Meters) / 1000),
		DurationMin: math.Ceil(leg.Duration.Minutes()),
	}, nil
}

func latLng(l models.Location) string {
	return fmt.Sprintf("%f,%f", l.Lat, l.Lng)
}
