package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aditya/ride-dispatch/internal/config"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/maps"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/repository"
)

// SurgeFunc returns the demand multiplier for a new order at pickup.
type SurgeFunc func(ctx context.Context, carClass string, pickup models.Location) float64

type OrderService interface {
	CreateOrder(ctx context.Context, clientID string, req *models.CreateOrderRequest) (*models.Order, error)
	Estimate(ctx context.Context, req *models.EstimateRequest) (*models.EstimateResponse, error)
	Claim(ctx context.Context, orderID, driverID string) (*models.Order, error)
	MarkArrived(ctx context.Context, orderID, driverID string) (*models.Order, error)
	Start(ctx context.Context, orderID, driverID string) (*models.Order, error)
	Complete(ctx context.Context, orderID, driverID string, req *models.CompleteOrderRequest) (*models.Order, error)
	Cancel(ctx context.Context, orderID string, actor models.Actor, reason string) (*models.Order, error)
	AdminCancel(ctx context.Context, orderID, adminID, reason string) (*models.Order, error)
	CancelUnmatched(ctx context.Context, orderID string) (*models.Order, error)
	DriverLost(ctx context.Context, orderID, driverID string, requeue bool) (*models.Order, error)
	Get(ctx context.Context, orderID string, actor models.Actor) (*models.Order, error)
	ActiveOrderFor(ctx context.Context, actor models.Actor) (*models.Order, error)
	History(ctx context.Context, orderID string, actor models.Actor) ([]*models.OrderEvent, error)
}

type orderService struct {
	orders       repository.OrderRepository
	offers       repository.OfferRepository
	pricing      PricingService
	routes       maps.RouteEstimator
	publisher    events.Publisher
	cancelPolicy string
	surge        SurgeFunc
	logger       *slog.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	offers repository.OfferRepository,
	pricing PricingService,
	routes maps.RouteEstimator,
	publisher events.Publisher,
	driverCancelPolicy string,
	surge SurgeFunc,
	logger *slog.Logger,
) OrderService {
	if driverCancelPolicy == "" {
		driverCancelPolicy = config.PolicyRequeue
	}
	return &orderService{
		orders:       orders,
		offers:       offers,
		pricing:      pricing,
		routes:       routes,
		publisher:    publisher,
		cancelPolicy: driverCancelPolicy,
		surge:        surge,
		logger:       logger,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, clientID string, req *models.CreateOrderRequest) (*models.Order, error) {
	if req.Pickup == nil || req.Dropoff == nil {
		return nil, apperrors.InvalidRequest("pickup and dropoff are required")
	}
	if req.Pickup.Same(*req.Dropoff) {
		return nil, apperrors.InvalidRequest("pickup and dropoff must differ")
	}

	quote, err := s.quote(ctx, req.CarClass, *req.Pickup, *req.Dropoff)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		Status:               models.OrderStatusPending,
		ClientID:             clientID,
		PickupLat:            req.Pickup.Lat,
		PickupLng:            req.Pickup.Lng,
		PickupAddress:        req.Pickup.Address,
		DropoffLat:           req.Dropoff.Lat,
		DropoffLng:           req.Dropoff.Lng,
		DropoffAddress:       req.Dropoff.Address,
		CarClass:             req.CarClass,
		EstimatedDistanceKm:  quote.DistanceKm,
		EstimatedDurationMin: quote.DurationMin,
		EstimatedPrice:       quote.Fare.Total,
		SurgeFactor:          quote.Fare.SurgeFactor,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	observability.OrdersCreated.Inc()
	s.logger.Info("order created",
		"order_id", order.ID, "client_id", clientID, "car_class", order.CarClass,
		"estimated_price", order.EstimatedPrice, "surge_factor", order.SurgeFactor)

	s.commit(ctx, order, "", models.Actor{ID: clientID, Role: models.RoleClient}, "")
	return order, nil
}

func (s *orderService) Estimate(ctx context.Context, req *models.EstimateRequest) (*models.EstimateResponse, error) {
	if req.Pickup.Same(req.Dropoff) {
		return nil, apperrors.InvalidRequest("pickup and dropoff must differ")
	}
	return s.quote(ctx, req.CarClass, req.Pickup, req.Dropoff)
}

func (s *orderService) quote(ctx context.Context, carClass string, pickup, dropoff models.Location) (*models.EstimateResponse, error) {
	if !models.IsValidCarClass(carClass) {
		return nil, apperrors.InvalidRequest("unknown car class %q", carClass)
	}

	route, err := s.routes.Estimate(ctx, pickup, dropoff)
	if err != nil {
		return nil, fmt.Errorf("estimate route: %w", err)
	}

	demand := 1.0
	if s.surge != nil {
		demand = s.surge(ctx, carClass, pickup)
	}

	fare, err := s.pricing.Estimate(carClass, route, demand)
	if err != nil {
		return nil, err
	}
	return &models.EstimateResponse{
		CarClass:    carClass,
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
		Fare:        fare,
	}, nil
}

// Claim requires a live offer to driverID. Of concurrent claims exactly one
// passes the store's compare-and-set; the rest see ErrAlreadyClaimed.
func (s *orderService) Claim(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	offer, err := s.offers.GetLatest(ctx, orderID, driverID)
	if err != nil {
		return nil, err
	}
	if offer == nil || !offer.IsLive(time.Now()) {
		order, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		switch {
		case order.ClaimedDriverID != nil:
			s.claimLost(order, driverID)
			return nil, apperrors.ErrAlreadyClaimed
		case order.Status != models.OrderStatusPending:
			return nil, apperrors.InvalidTransition(string(order.Status), string(models.OrderStatusAccepted))
		default:
			return nil, fmt.Errorf("%w: no live offer for this driver", apperrors.ErrForbidden)
		}
	}

	order, err := s.orders.Claim(ctx, orderID, driverID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		current, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.ClaimedDriverID != nil {
			s.claimLost(current, driverID)
			return nil, apperrors.ErrAlreadyClaimed
		}
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusAccepted))
	}

	observability.MatchLatency.Observe(order.StatusChangedAt.Sub(order.CreatedAt).Seconds())
	s.logger.Info("order claimed", "order_id", orderID, "driver_id", driverID)
	s.commit(ctx, order, models.OrderStatusPending, models.Actor{ID: driverID, Role: models.RoleDriver}, "")
	return order, nil
}

func (s *orderService) claimLost(order *models.Order, driverID string) {
	observability.ClaimConflicts.Inc()
	s.logger.Debug("claim lost", "order_id", order.ID, "driver_id", driverID, "winner", order.DriverID())
}

func (s *orderService) MarkArrived(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	return s.advance(ctx, orderID, driverID, models.OrderStatusAccepted, models.OrderStatusArrived)
}

func (s *orderService) Start(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	return s.advance(ctx, orderID, driverID, models.OrderStatusArrived, models.OrderStatusInProgress)
}

func (s *orderService) advance(ctx context.Context, orderID, driverID string, from, to models.OrderStatus) (*models.Order, error) {
	current, err := s.checkDriverStep(ctx, orderID, driverID, from, to)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Transition(ctx, orderID, driverID, from, to)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, s.explainMiss(ctx, current, driverID, to)
	}

	s.logger.Info("order advanced", "order_id", orderID, "driver_id", driverID, "from", from, "to", to)
	s.commit(ctx, order, from, models.Actor{ID: driverID, Role: models.RoleDriver}, "")
	return order, nil
}

func (s *orderService) Complete(ctx context.Context, orderID, driverID string, req *models.CompleteOrderRequest) (*models.Order, error) {
	if req.ActualDistanceKm < 0 || req.ActualDurationMin < 0 {
		return nil, apperrors.InvalidRequest("actual distance and duration must not be negative")
	}

	current, err := s.checkDriverStep(ctx, orderID, driverID, models.OrderStatusInProgress, models.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}

	fare, err := s.pricing.Final(current, req.ActualDistanceKm, req.ActualDurationMin)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Complete(ctx, orderID, driverID, req.ActualDistanceKm, req.ActualDurationMin, fare.Total)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, s.explainMiss(ctx, current, driverID, models.OrderStatusCompleted)
	}

	s.logger.Info("order completed", "order_id", orderID, "driver_id", driverID, "final_price", fare.Total)
	s.commit(ctx, order, models.OrderStatusInProgress, models.Actor{ID: driverID, Role: models.RoleDriver}, "")
	return order, nil
}

// checkDriverStep reports why driverID cannot move the order from -> to.
// Terminal orders answer InvalidTransition before the holder check.
func (s *orderService) checkDriverStep(ctx context.Context, orderID, driverID string, from, to models.OrderStatus) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsActive() {
		return nil, apperrors.InvalidTransition(string(order.Status), string(to))
	}
	if !order.HeldBy(driverID) {
		return nil, fmt.Errorf("%w: order is not held by this driver", apperrors.ErrForbidden)
	}
	if order.Status != from {
		return nil, apperrors.InvalidTransition(string(order.Status), string(to))
	}
	return order, nil
}

// explainMiss turns a guarded update that matched nothing into an error.
func (s *orderService) explainMiss(ctx context.Context, observed *models.Order, driverID string, to models.OrderStatus) error {
	current, err := s.orders.GetByID(ctx, observed.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return apperrors.NotFound("order")
	}
	if current.IsActive() && driverID != "" && !current.HeldBy(driverID) {
		return fmt.Errorf("%w: order is not held by this driver", apperrors.ErrForbidden)
	}
	return apperrors.InvalidTransition(string(current.Status), string(to))
}

func (s *orderService) Cancel(ctx context.Context, orderID string, actor models.Actor, reason string) (*models.Order, error) {
	if actor.IsAdmin() {
		return s.AdminCancel(ctx, orderID, actor.ID, reason)
	}

	current, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Terminal before party: a cancelled order no longer names its driver.
	if !current.IsActive() {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusCancelled))
	}
	if !current.IsParty(actor.ID) {
		return nil, apperrors.ErrForbidden
	}
	if !current.CanTransitionTo(models.OrderStatusCancelled) {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusCancelled))
	}

	holder := ""
	if current.HeldBy(actor.ID) {
		holder = actor.ID
		if s.cancelPolicy == config.PolicyRequeue {
			return s.requeue(ctx, current, actor, strings.TrimSpace(reason))
		}
	}

	return s.cancel(ctx, current, repository.CancelParams{
		OrderID:     orderID,
		From:        current.Status,
		HeldBy:      holder,
		CancelledBy: actor.Role,
		Reason:      cancelReason(reason, actor.Role),
	}, actor)
}

func (s *orderService) AdminCancel(ctx context.Context, orderID, adminID, reason string) (*models.Order, error) {
	current, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.CanAdminCancel() {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusCancelled))
	}
	return s.cancel(ctx, current, repository.CancelParams{
		OrderID:     orderID,
		From:        current.Status,
		CancelledBy: models.RoleAdmin,
		Reason:      cancelReason(reason, models.RoleAdmin),
	}, models.Actor{ID: adminID, Role: models.RoleAdmin})
}

// CancelUnmatched gives up on an order nobody claimed before the deadline.
func (s *orderService) CancelUnmatched(ctx context.Context, orderID string) (*models.Order, error) {
	current, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.OrderStatusPending {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusCancelled))
	}
	return s.cancel(ctx, current, repository.CancelParams{
		OrderID:     orderID,
		From:        models.OrderStatusPending,
		CancelledBy: models.RoleSystem,
		Reason:      apperrors.ErrNoDriversAvailable.Error(),
	}, models.SystemActor)
}

// DriverLost applies the disconnect policy to an order the driver held but
// had not started.
func (s *orderService) DriverLost(ctx context.Context, orderID, driverID string, requeue bool) (*models.Order, error) {
	current, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.HeldBy(driverID) {
		return nil, fmt.Errorf("%w: order is not held by this driver", apperrors.ErrForbidden)
	}
	if current.Status != models.OrderStatusAccepted && current.Status != models.OrderStatusArrived {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.OrderStatusPending))
	}

	if requeue {
		return s.requeue(ctx, current, models.SystemActor, models.CancelReasonDriverDisconnected)
	}
	return s.cancel(ctx, current, repository.CancelParams{
		OrderID:     orderID,
		From:        current.Status,
		HeldBy:      driverID,
		CancelledBy: models.RoleSystem,
		Reason:      models.CancelReasonDriverDisconnected,
	}, models.SystemActor)
}

func (s *orderService) cancel(ctx context.Context, current *models.Order, p repository.CancelParams, actor models.Actor) (*models.Order, error) {
	order, err := s.orders.Cancel(ctx, p)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, s.explainMiss(ctx, current, p.HeldBy, models.OrderStatusCancelled)
	}

	s.logger.Info("order cancelled",
		"order_id", order.ID, "from", p.From, "cancelled_by", p.CancelledBy, "reason", p.Reason)
	s.commit(ctx, order, p.From, actor, current.DriverID())
	return order, nil
}

func (s *orderService) requeue(ctx context.Context, current *models.Order, actor models.Actor, reason string) (*models.Order, error) {
	driverID := current.DriverID()
	order, err := s.orders.Requeue(ctx, current.ID, driverID, current.Status)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, s.explainMiss(ctx, current, driverID, models.OrderStatusPending)
	}

	s.logger.Info("order requeued", "order_id", order.ID, "from", current.Status, "driver_id", driverID, "reason", reason)
	s.commitWith(ctx, order, current.Status, actor, driverID, reason, []string{driverID})
	return order, nil
}

// Get lets admins, both parties and any driver that was offered the order read it.
func (s *orderService) Get(ctx context.Context, orderID string, actor models.Actor) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || order.IsParty(actor.ID) {
		return order, nil
	}
	if actor.IsDriver() {
		offer, err := s.offers.GetLatest(ctx, orderID, actor.ID)
		if err != nil {
			return nil, err
		}
		if offer != nil {
			return order, nil
		}
	}
	return nil, apperrors.ErrForbidden
}

func (s *orderService) ActiveOrderFor(ctx context.Context, actor models.Actor) (*models.Order, error) {
	switch actor.Role {
	case models.RoleClient:
		return s.orders.GetActiveByClient(ctx, actor.ID)
	case models.RoleDriver:
		return s.orders.GetActiveByDriver(ctx, actor.ID)
	default:
		return nil, nil
	}
}

func (s *orderService) History(ctx context.Context, orderID string, actor models.Actor) ([]*models.OrderEvent, error) {
	if _, err := s.Get(ctx, orderID, actor); err != nil {
		return nil, err
	}
	return s.orders.ListEvents(ctx, orderID)
}

func (s *orderService) load(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.NotFound("order")
	}
	return order, nil
}

func (s *orderService) commit(ctx context.Context, order *models.Order, from models.OrderStatus, actor models.Actor, prevDriver string) {
	reason := ""
	if order.CancelReason != nil && order.Status == models.OrderStatusCancelled {
		reason = *order.CancelReason
	}
	s.commitWith(ctx, order, from, actor, prevDriver, reason, nil)
}

// commitWith records and announces a transition that is already durable.
// Audit and sink failures are logged; the transition stands either way.
func (s *orderService) commitWith(ctx context.Context, order *models.Order, from models.OrderStatus, actor models.Actor, prevDriver, reason string, exclude []string) {
	observability.OrderTransitions.WithLabelValues(string(order.Status)).Inc()

	audit := &models.OrderEvent{
		OrderID:   order.ID,
		ToStatus:  order.Status,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		CreatedAt: time.Now(),
	}
	if from != "" {
		audit.FromStatus = &from
	}
	if reason != "" {
		audit.Reason = &reason
	}
	if err := s.orders.AppendEvent(ctx, audit); err != nil {
		s.logger.Error("append order event", "order_id", order.ID, "status", order.Status, "error", err)
	}

	e := events.FromOrder(order, from, actor)
	if e.DriverID == "" {
		e.DriverID = prevDriver
	}
	e.Reason = reason
	e.ExcludeDriverIDs = exclude
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publish order event", "order_id", order.ID, "type", e.Type, "error", err)
	}
}

func cancelReason(reason, role string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return "cancelled by " + role
}

// IsRetryable reports whether err left the order untouched because the store
// was unreachable.
func IsRetryable(err error) bool {
	return errors.Is(err, apperrors.ErrStorageUnavailable)
}
