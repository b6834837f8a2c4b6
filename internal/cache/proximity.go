package cache

import (
	"context"
	"sort"

	"github.com/aditya/ride-dispatch/internal/models"
)

// ProximityIndex tracks live driver positions and answers radius queries.
// Entries are rebuildable from driver pings and are not durable.
type ProximityIndex interface {
	// UpsertPosition is last-write-wins per driver. An empty status or car
	// class keeps the stored value.
	UpsertPosition(ctx context.Context, driverID string, lat, lng float64, status, carClass string) error
	SetStatus(ctx context.Context, driverID, status string) error
	// BindOrder marks the driver BUSY with the given order.
	BindOrder(ctx context.Context, driverID, orderID, clientID string) error
	// ReleaseOrder clears the order binding and sets status.
	ReleaseOrder(ctx context.Context, driverID, status string) error
	Get(ctx context.Context, driverID string) (*models.DriverPresence, error)
	// Nearby returns ONLINE drivers of carClass within radiusKm, nearest first.
	// limit <= 0 means no limit.
	Nearby(ctx context.Context, lat, lng, radiusKm float64, carClass string, limit int) ([]models.DriverDistance, error)
	CountOnline(ctx context.Context) (int, error)
}

func sortByDistance(out []models.DriverDistance) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].DriverID < out[j].DriverID
		}
		return out[i].Distance < out[j].Distance
	})
}

func truncate(out []models.DriverDistance, limit int) []models.DriverDistance {
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}
