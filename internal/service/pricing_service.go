package service

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
)

var defaultTariffs = map[string]models.Tariff{
	models.CarClassEconomy:  {CarClass: models.CarClassEconomy, BaseFare: 100, PerKm: 15, PerMinute: 5, MinFare: 150, SurgeFactor: 1.0},
	models.CarClassComfort:  {CarClass: models.CarClassComfort, BaseFare: 140, PerKm: 20, PerMinute: 6, MinFare: 200, SurgeFactor: 1.0},
	models.CarClassBusiness: {CarClass: models.CarClassBusiness, BaseFare: 250, PerKm: 32, PerMinute: 9, MinFare: 400, SurgeFactor: 1.0},
	models.CarClassXL:       {CarClass: models.CarClassXL, BaseFare: 180, PerKm: 24, PerMinute: 7, MinFare: 260, SurgeFactor: 1.0},
}

// CalculateFare applies
//
//	price = max(minFare, baseFare + perKm*distance + perMinute*duration) * surgeFactor
//
// A zero surge factor means none is configured and prices at 1.
func CalculateFare(t models.Tariff, distanceKm, durationMin float64) *models.FareBreakdown {
	surge := surgeOf(t)

	distanceFare := distanceKm * t.PerKm
	timeFare := durationMin * t.PerMinute

	subtotal := t.BaseFare + distanceFare + timeFare
	minApplied := false
	if subtotal < t.MinFare {
		subtotal = t.MinFare
		minApplied = true
	}
	total := subtotal * surge

	return &models.FareBreakdown{
		BaseFare:       utils.Round2(t.BaseFare),
		DistanceFare:   utils.Round2(distanceFare),
		TimeFare:       utils.Round2(timeFare),
		MinFareApplied: minApplied,
		SurgeFactor:    surge,
		SurgeAmount:    utils.Round2(total - subtotal),
		Total:          utils.Round2(total),
	}
}

func surgeOf(t models.Tariff) float64 {
	if t.SurgeFactor == 0 {
		return 1
	}
	return t.SurgeFactor
}

// TariffProvider serves the read-only tariff table.
type TariffProvider interface {
	Tariff(carClass string) (models.Tariff, error)
}

type staticTariffs struct {
	tariffs map[string]models.Tariff
}

// NewStaticTariffProvider serves the built-in table with surge applied to every class.
func NewStaticTariffProvider(surge float64) TariffProvider {
	tariffs := make(map[string]models.Tariff, len(defaultTariffs))
	for class, t := range defaultTariffs {
		if surge > 0 {
			t.SurgeFactor = surge
		}
		tariffs[class] = t
	}
	return &staticTariffs{tariffs: tariffs}
}

// LoadTariffs reads a JSON array of tariffs. Classes missing from the file
// keep their built-in values.
func LoadTariffs(path string, surge float64) (TariffProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tariffs: %w", err)
	}

	var rows []models.Tariff
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse tariffs: %w", err)
	}

	p := NewStaticTariffProvider(surge).(*staticTariffs)
	for _, t := range rows {
		if !models.IsValidCarClass(t.CarClass) {
			return nil, fmt.Errorf("tariff for unknown car class %q", t.CarClass)
		}
		if t.BaseFare < 0 || t.PerKm < 0 || t.PerMinute < 0 || t.MinFare < 0 {
			return nil, fmt.Errorf("tariff for %s has negative rates", t.CarClass)
		}
		if t.SurgeFactor < 0 {
			return nil, fmt.Errorf("tariff for %s has negative surge factor %v", t.CarClass, t.SurgeFactor)
		}
		if t.SurgeFactor == 0 {
			t.SurgeFactor = 1
		}
		p.tariffs[t.CarClass] = t
	}
	return p, nil
}

func (p *staticTariffs) Tariff(carClass string) (models.Tariff, error) {
	t, ok := p.tariffs[carClass]
	if !ok {
		return models.Tariff{}, apperrors.InvalidRequest("unknown car class %q", carClass)
	}
	return t, nil
}

type PricingService interface {
	// Estimate prices a route at the current surge and returns the factor to snapshot.
	Estimate(carClass string, route *models.RouteEstimate, demandSurge float64) (*models.FareBreakdown, error)
	// Final prices a completed order with the surge snapshotted at creation.
	Final(order *models.Order, distanceKm, durationMin float64) (*models.FareBreakdown, error)
	CalculateSurge(demandCount, supplyCount int) float64
}

type pricingService struct {
	tariffs TariffProvider
}

func NewPricingService(tariffs TariffProvider) PricingService {
	return &pricingService{tariffs: tariffs}
}

func (s *pricingService) Estimate(carClass string, route *models.RouteEstimate, demandSurge float64) (*models.FareBreakdown, error) {
	t, err := s.tariffs.Tariff(carClass)
	if err != nil {
		return nil, err
	}
	if demandSurge > 1 {
		t.SurgeFactor = utils.Round2(surgeOf(t) * demandSurge)
	}
	return CalculateFare(t, route.DistanceKm, route.DurationMin), nil
}

func (s *pricingService) Final(order *models.Order, distanceKm, durationMin float64) (*models.FareBreakdown, error) {
	t, err := s.tariffs.Tariff(order.CarClass)
	if err != nil {
		return nil, err
	}
	t.SurgeFactor = order.SurgeFactor
	return CalculateFare(t, distanceKm, durationMin), nil
}

// CalculateSurge derives a demand multiplier from pending orders vs online drivers.
func (s *pricingService) CalculateSurge(demandCount, supplyCount int) float64 {
	if demandCount == 0 {
		return 1.0
	}
	if supplyCount == 0 {
		return 2.0
	}

	ratio := float64(demandCount) / float64(supplyCount)

	switch {
	case ratio < 1.0:
		return 1.0
	case ratio < 1.5:
		return 1.2
	case ratio < 2.0:
		return 1.5
	case ratio < 3.0:
		return 1.8
	default:
		return 2.0
	}
}
