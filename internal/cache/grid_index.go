package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
)

const (
	DefaultCellDegrees = 0.01
	kmPerDegreeLat     = 111.32
)

type cellKey struct {
	class string
	row   int
	col   int
}

// GridIndex is an in-process ProximityIndex over a uniform lat/lng grid.
// Each car class has its own cells, so a query only touches candidates of
// the requested class. Columns wrap at the antimeridian.
type GridIndex struct {
	cellDeg float64
	cols    int

	mu      sync.RWMutex
	drivers map[string]*models.DriverPresence
	cells   map[cellKey]map[string]struct{}
}

func NewGridIndex(cellDegrees float64) *GridIndex {
	if cellDegrees <= 0 {
		cellDegrees = DefaultCellDegrees
	}
	// Snap the cell size so a whole number of columns spans 360 degrees.
	cols := int(math.Max(1, math.Round(360/cellDegrees)))
	return &GridIndex{
		cellDeg: 360 / float64(cols),
		cols:    cols,
		drivers: make(map[string]*models.DriverPresence),
		cells:   make(map[cellKey]map[string]struct{}),
	}
}

func (g *GridIndex) cellFor(class string, lat, lng float64) cellKey {
	return cellKey{
		class: class,
		row:   int(math.Floor(lat / g.cellDeg)),
		col:   g.wrapCol(int(math.Floor(lng / g.cellDeg))),
	}
}

// wrapCol maps a column index onto [0, cols), so lng 180 and -180 share a column.
func (g *GridIndex) wrapCol(col int) int {
	col %= g.cols
	if col < 0 {
		col += g.cols
	}
	return col
}

func (g *GridIndex) UpsertPosition(_ context.Context, driverID string, lat, lng float64, status, carClass string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.drivers[driverID]
	if !ok {
		p = &models.DriverPresence{DriverID: driverID, Status: models.DriverStatusOffline}
		g.drivers[driverID] = p
	} else {
		g.removeFromCell(p)
	}

	if status != "" {
		p.Status = status
	}
	if carClass != "" {
		p.CarClass = carClass
	}
	p.Lat = lat
	p.Lng = lng
	p.LastLocationAt = time.Now()

	g.addToCell(p)
	return nil
}

func (g *GridIndex) SetStatus(_ context.Context, driverID, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.drivers[driverID]
	if !ok {
		g.drivers[driverID] = &models.DriverPresence{DriverID: driverID, Status: status}
		return nil
	}
	p.Status = status
	return nil
}

func (g *GridIndex) BindOrder(_ context.Context, driverID, orderID, clientID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.drivers[driverID]
	if !ok {
		p = &models.DriverPresence{DriverID: driverID}
		g.drivers[driverID] = p
	}
	p.Status = models.DriverStatusBusy
	p.ActiveOrderID = orderID
	p.ActiveClientID = clientID
	return nil
}

func (g *GridIndex) ReleaseOrder(_ context.Context, driverID, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.drivers[driverID]
	if !ok {
		return nil
	}
	p.Status = status
	p.ActiveOrderID = ""
	p.ActiveClientID = ""
	return nil
}

func (g *GridIndex) Get(_ context.Context, driverID string) (*models.DriverPresence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.drivers[driverID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (g *GridIndex) Nearby(_ context.Context, lat, lng, radiusKm float64, carClass string, limit int) ([]models.DriverDistance, error) {
	latSpan := radiusKm / kmPerDegreeLat
	cosLat := math.Cos(lat * math.Pi / 180)
	lngSpan := 360.0
	if cosLat > 1e-6 {
		lngSpan = math.Min(360, radiusKm/(kmPerDegreeLat*cosLat))
	}

	minRow := int(math.Floor((lat - latSpan) / g.cellDeg))
	maxRow := int(math.Floor((lat + latSpan) / g.cellDeg))
	firstCol := int(math.Floor((lng - lngSpan) / g.cellDeg))
	span := int(math.Floor((lng+lngSpan)/g.cellDeg)) - firstCol + 1
	if span > g.cols {
		span = g.cols
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []models.DriverDistance
	for row := minRow; row <= maxRow; row++ {
		for i := 0; i < span; i++ {
			col := g.wrapCol(firstCol + i)
			for driverID := range g.cells[cellKey{class: carClass, row: row, col: col}] {
				p := g.drivers[driverID]
				if !p.IsEligible() {
					continue
				}
				d := utils.HaversineKm(lat, lng, p.Lat, p.Lng)
				if d > radiusKm {
					continue
				}
				out = append(out, models.DriverDistance{DriverID: driverID, Distance: d})
			}
		}
	}

	sortByDistance(out)
	return truncate(out, limit), nil
}

func (g *GridIndex) CountOnline(_ context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, p := range g.drivers {
		if p.IsEligible() {
			n++
		}
	}
	return n, nil
}

// caller holds g.mu
func (g *GridIndex) addToCell(p *models.DriverPresence) {
	if p.CarClass == "" {
		return
	}
	key := g.cellFor(p.CarClass, p.Lat, p.Lng)
	cell, ok := g.cells[key]
	if !ok {
		cell = make(map[string]struct{})
		g.cells[key] = cell
	}
	cell[p.DriverID] = struct{}{}
}

// caller holds g.mu
func (g *GridIndex) removeFromCell(p *models.DriverPresence) {
	if p.CarClass == "" {
		return
	}
	key := g.cellFor(p.CarClass, p.Lat, p.Lng)
	if cell, ok := g.cells[key]; ok {
		delete(cell, p.DriverID)
		if len(cell) == 0 {
			delete(g.cells, key)
		}
	}
}
