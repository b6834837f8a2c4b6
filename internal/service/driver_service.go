package service

import (
	"context"
	"log/slog"

	"github.com/aditya/ride-dispatch/internal/cache"
	"github.com/aditya/ride-dispatch/internal/config"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/repository"
	"github.com/aditya/ride-dispatch/internal/session"
)

type DriverService interface {
	GoOnline(ctx context.Context, driverID string, req *models.GoOnlineRequest) (*models.DriverPresence, error)
	GoOffline(ctx context.Context, driverID string) error
	SetAvailability(ctx context.Context, driverID, status string) (*models.DriverPresence, error)
	UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error
	Presence(ctx context.Context, driverID string) (*models.DriverPresence, error)
	// HandleEvent keeps the BUSY binding in the index in step with claims.
	HandleEvent(ctx context.Context, e events.Event)
	// OnGraceExpired applies the disconnect policy to a driver that did not
	// reconnect in time.
	OnGraceExpired(ctx context.Context, actor models.Actor)
}

type driverService struct {
	index            cache.ProximityIndex
	orderRepo        repository.OrderRepository
	orders           OrderService
	sender           Sender
	disconnectPolicy string
	logger           *slog.Logger
}

func NewDriverService(
	index cache.ProximityIndex,
	orderRepo repository.OrderRepository,
	orders OrderService,
	sender Sender,
	disconnectPolicy string,
	logger *slog.Logger,
) DriverService {
	if disconnectPolicy == "" {
		disconnectPolicy = config.PolicyKeep
	}
	return &driverService{
		index:            index,
		orderRepo:        orderRepo,
		orders:           orders,
		sender:           sender,
		disconnectPolicy: disconnectPolicy,
		logger:           logger,
	}
}

func (s *driverService) GoOnline(ctx context.Context, driverID string, req *models.GoOnlineRequest) (*models.DriverPresence, error) {
	if !models.IsValidCarClass(req.CarClass) {
		return nil, apperrors.InvalidRequest("unknown car class %q", req.CarClass)
	}

	active, err := s.orderRepo.GetActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	status := models.DriverStatusOnline
	if active != nil {
		status = models.DriverStatusBusy
	}
	if err := s.index.UpsertPosition(ctx, driverID, req.Lat, req.Lng, status, req.CarClass); err != nil {
		return nil, err
	}
	if active != nil {
		if err := s.index.BindOrder(ctx, driverID, active.ID, active.ClientID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("driver online", "driver_id", driverID, "car_class", req.CarClass, "busy", active != nil)
	s.refreshOnline(ctx)
	return s.index.Get(ctx, driverID)
}

func (s *driverService) GoOffline(ctx context.Context, driverID string) error {
	p, err := s.index.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if p == nil || p.Status == models.DriverStatusOffline {
		return nil
	}
	if p.Status == models.DriverStatusBusy {
		return apperrors.ErrDriverBusy
	}

	active, err := s.orderRepo.GetActiveByDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if active != nil {
		return apperrors.ErrDriverBusy
	}

	if err := s.index.SetStatus(ctx, driverID, models.DriverStatusOffline); err != nil {
		return err
	}
	s.logger.Info("driver offline", "driver_id", driverID)
	s.refreshOnline(ctx)
	return nil
}

// SetAvailability toggles an online driver between ONLINE and BREAK.
func (s *driverService) SetAvailability(ctx context.Context, driverID, status string) (*models.DriverPresence, error) {
	if status != models.DriverStatusOnline && status != models.DriverStatusBreak {
		return nil, apperrors.InvalidRequest("status must be ONLINE or BREAK")
	}

	p, err := s.index.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status == models.DriverStatusOffline {
		return nil, apperrors.InvalidRequest("driver is offline, go online first")
	}
	if p.Status == models.DriverStatusBusy {
		return nil, apperrors.ErrDriverBusy
	}

	if err := s.index.SetStatus(ctx, driverID, status); err != nil {
		return nil, err
	}
	s.refreshOnline(ctx)
	p.Status = status
	return p, nil
}

func (s *driverService) UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error {
	p, err := s.index.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if p == nil || p.Status == models.DriverStatusOffline {
		return apperrors.InvalidRequest("driver is offline, go online first")
	}

	if err := s.index.UpsertPosition(ctx, driverID, req.Lat, req.Lng, "", ""); err != nil {
		return err
	}

	if p.ActiveClientID != "" {
		s.sender.Send(p.ActiveClientID, session.EventDriverLocationUpdate, models.LocationNotice{
			OrderID:  p.ActiveOrderID,
			DriverID: driverID,
			Lat:      req.Lat,
			Lng:      req.Lng,
			Heading:  req.Heading,
			Speed:    req.Speed,
		})
	}
	return nil
}

func (s *driverService) Presence(ctx context.Context, driverID string) (*models.DriverPresence, error) {
	p, err := s.index.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &models.DriverPresence{DriverID: driverID, Status: models.DriverStatusOffline}, nil
	}
	return p, nil
}

func (s *driverService) HandleEvent(ctx context.Context, e events.Event) {
	if e.DriverID == "" {
		return
	}

	switch e.Type {
	case events.OrderAccepted:
		if err := s.index.BindOrder(ctx, e.DriverID, e.OrderID, e.ClientID); err != nil {
			s.logger.Error("bind driver to order", "driver_id", e.DriverID, "order_id", e.OrderID, "error", err)
		}
	case events.OrderCompleted, events.OrderCancelled, events.OrderRequeued:
		p, err := s.index.Get(ctx, e.DriverID)
		if err != nil {
			s.logger.Error("load driver presence", "driver_id", e.DriverID, "error", err)
			return
		}
		if p == nil || p.ActiveOrderID != e.OrderID {
			return
		}

		status := models.DriverStatusOffline
		if s.sender.IsConnected(e.DriverID) {
			status = models.DriverStatusOnline
		}
		if err := s.index.ReleaseOrder(ctx, e.DriverID, status); err != nil {
			s.logger.Error("release driver", "driver_id", e.DriverID, "order_id", e.OrderID, "error", err)
		}
	default:
		return
	}
	s.refreshOnline(ctx)
}

func (s *driverService) OnGraceExpired(ctx context.Context, actor models.Actor) {
	order, err := s.orderRepo.GetActiveByDriver(ctx, actor.ID)
	if err != nil {
		s.logger.Error("load active order after disconnect", "driver_id", actor.ID, "error", err)
		return
	}

	unstarted := order != nil &&
		(order.Status == models.OrderStatusAccepted || order.Status == models.OrderStatusArrived)
	if unstarted && s.disconnectPolicy != config.PolicyKeep {
		requeue := s.disconnectPolicy == config.PolicyRequeue
		if _, err := s.orders.DriverLost(ctx, order.ID, actor.ID, requeue); err != nil {
			s.logger.Error("apply disconnect policy",
				"driver_id", actor.ID, "order_id", order.ID, "policy", s.disconnectPolicy, "error", err)
		} else {
			order = nil
		}
	}

	if order != nil {
		s.logger.Info("disconnected driver keeps order",
			"driver_id", actor.ID, "order_id", order.ID, "status", order.Status)
		return
	}

	if err := s.index.SetStatus(ctx, actor.ID, models.DriverStatusOffline); err != nil {
		s.logger.Error("mark driver offline", "driver_id", actor.ID, "error", err)
		return
	}
	s.logger.Info("driver marked offline after disconnect", "driver_id", actor.ID)
	s.refreshOnline(ctx)
}

func (s *driverService) refreshOnline(ctx context.Context) {
	n, err := s.index.CountOnline(ctx)
	if err != nil {
		s.logger.Warn("count online drivers", "error", err)
		return
	}
	observability.DriversOnline.Set(float64(n))
}
