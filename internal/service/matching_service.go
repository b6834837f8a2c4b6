package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aditya/ride-dispatch/internal/cache"
	"github.com/aditya/ride-dispatch/internal/config"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/repository"
	"github.com/aditya/ride-dispatch/internal/scheduler"
	"github.com/aditya/ride-dispatch/internal/session"
)

const callbackTimeout = 10 * time.Second

// Sender pushes best-effort messages to connected actors.
type Sender interface {
	Send(actorID, event string, payload any) bool
	IsConnected(actorID string) bool
}

type MatchingService interface {
	// HandleEvent drives dispatch from committed order transitions.
	HandleEvent(ctx context.Context, e events.Event)
	Decline(ctx context.Context, orderID, driverID string) error
	PendingOffers(ctx context.Context, driverID string) ([]*models.OfferResponse, error)
	ActiveDispatches() int
	Stop()
}

// dispatch is the in-flight matching state of one PENDING order.
type dispatch struct {
	order    *models.OrderResponse
	radius   float64
	round    int
	expanded bool
	offered  map[string]bool
	excluded map[string]bool
}

type matchingService struct {
	orders    OrderService
	orderRepo repository.OrderRepository
	offerRepo repository.OfferRepository
	index     cache.ProximityIndex
	sender    Sender
	settings  config.MatchingSettings
	timers    *scheduler.Scheduler
	logger    *slog.Logger

	mu         sync.Mutex
	dispatches map[string]*dispatch
}

func NewMatchingService(
	orders OrderService,
	orderRepo repository.OrderRepository,
	offerRepo repository.OfferRepository,
	index cache.ProximityIndex,
	sender Sender,
	settings config.MatchingSettings,
	logger *slog.Logger,
) MatchingService {
	return &matchingService{
		orders:     orders,
		orderRepo:  orderRepo,
		offerRepo:  offerRepo,
		index:      index,
		sender:     sender,
		settings:   settings,
		timers:     scheduler.New(),
		logger:     logger,
		dispatches: make(map[string]*dispatch),
	}
}

func (m *matchingService) HandleEvent(ctx context.Context, e events.Event) {
	switch e.Type {
	case events.OrderCreated, events.OrderRequeued:
		m.start(ctx, e.OrderID, e.ExcludeDriverIDs)
	case events.OrderAccepted:
		m.settle(ctx, e.OrderID, e.DriverID)
	case events.OrderCancelled:
		m.abort(ctx, e.OrderID)
	}
}

func (m *matchingService) start(ctx context.Context, orderID string, exclude []string) {
	order, err := m.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		m.logger.Error("load order for dispatch", "order_id", orderID, "error", err)
		return
	}
	if order == nil || order.Status != models.OrderStatusPending {
		return
	}

	d := &dispatch{
		order:    order.ToResponse(),
		radius:   m.settings.SearchRadiusKM,
		offered:  make(map[string]bool),
		excluded: make(map[string]bool, len(exclude)),
	}
	for _, id := range exclude {
		d.excluded[id] = true
	}

	m.mu.Lock()
	if _, running := m.dispatches[orderID]; running {
		m.mu.Unlock()
		return
	}
	m.dispatches[orderID] = d
	m.mu.Unlock()
	observability.ActiveDispatches.Inc()

	m.logger.Info("dispatch started",
		"order_id", orderID, "car_class", order.CarClass, "radius_km", d.radius, "excluded", len(exclude))

	m.timers.Schedule(deadlineKey(orderID), m.settings.MaxOrderWait, func() { m.onDeadline(orderID) })
	m.runRound(ctx, orderID)
}

// runRound offers the order to eligible drivers not offered before and arms
// the round timer.
func (m *matchingService) runRound(ctx context.Context, orderID string) {
	m.mu.Lock()
	d, ok := m.dispatches[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	round, radius, order := d.round, d.radius, d.order
	d.round++
	m.mu.Unlock()

	candidates, err := m.index.Nearby(ctx, order.Pickup.Lat, order.Pickup.Lng, radius, order.CarClass, 0)
	if err != nil {
		m.logger.Error("proximity query failed", "order_id", orderID, "round", round, "error", err)
		candidates = nil
	}

	issued := 0
	expiresAt := time.Now().Add(m.settings.OfferTimeout)
	for _, c := range candidates {
		if m.settings.MaxOffersPerRound > 0 && issued >= m.settings.MaxOffersPerRound {
			break
		}
		if !m.reserve(orderID, c.DriverID) {
			continue
		}

		offer := &models.Offer{
			OrderID:    orderID,
			DriverID:   c.DriverID,
			Status:     models.OfferStatusPending,
			Round:      round,
			DistanceKm: c.Distance,
			ExpiresAt:  expiresAt,
		}
		if err := m.offerRepo.Create(ctx, offer); err != nil {
			m.logger.Error("create offer", "order_id", orderID, "driver_id", c.DriverID, "error", err)
			m.unreserve(orderID, c.DriverID)
			continue
		}

		// The order may have been claimed or cancelled while this offer was
		// being written; settle/abort will not have seen it.
		if !m.active(orderID) {
			if _, err := m.offerRepo.Respond(ctx, offer.ID, models.OfferStatusRetracted); err != nil {
				m.logger.Error("retract late offer", "order_id", orderID, "offer_id", offer.ID, "error", err)
			}
			return
		}

		issued++
		observability.OffersIssued.Inc()
		resp := offer.ToResponse()
		resp.Order = order
		m.push(c.DriverID, session.EventOfferIssued, resp)
	}

	m.logger.Info("offer round",
		"order_id", orderID, "round", round, "radius_km", radius,
		"candidates", len(candidates), "issued", issued)

	m.timers.Schedule(roundKey(orderID), m.settings.OfferTimeout, func() { m.onRoundEnd(orderID) })
	if !m.active(orderID) {
		m.timers.Cancel(roundKey(orderID))
	}
}

// onRoundEnd expires the window's unanswered offers and widens the search once.
func (m *matchingService) onRoundEnd(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	if !m.active(orderID) || !m.stillPending(ctx, orderID) {
		return
	}

	drivers, err := m.offerRepo.ResolvePending(ctx, orderID, "", models.OfferStatusExpired)
	if err != nil {
		m.logger.Error("expire offers", "order_id", orderID, "error", err)
	}

	// A claim may have committed while the offers were expiring. The winner
	// gets no expiry notice and settle closes the dispatch.
	order, err := m.orderRepo.GetByID(ctx, orderID)
	if err == nil && order != nil && order.Status != models.OrderStatusPending {
		winner := order.DriverID()
		drivers = slices.DeleteFunc(drivers, func(id string) bool { return id == winner })
		m.retractAll(orderID, drivers, models.RetractReasonExpired)
		return
	}
	m.retractAll(orderID, drivers, models.RetractReasonExpired)

	m.mu.Lock()
	if d, ok := m.dispatches[orderID]; ok && !d.expanded {
		d.radius *= 1 + m.settings.RadiusExpansion
		d.expanded = true
		m.logger.Info("search radius expanded", "order_id", orderID, "radius_km", d.radius)
	}
	m.mu.Unlock()

	m.runRound(ctx, orderID)
}

func (m *matchingService) onDeadline(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	if !m.active(orderID) {
		return
	}

	_, err := m.orders.CancelUnmatched(ctx, orderID)
	switch {
	case err == nil:
		// abort runs from the order.cancelled event.
	case IsRetryable(err):
		m.logger.Warn("cancel unmatched order failed, retrying", "order_id", orderID, "error", err)
		m.timers.Schedule(deadlineKey(orderID), m.settings.OfferTimeout, func() { m.onDeadline(orderID) })
	default:
		m.logger.Info("deadline reached after order left PENDING", "order_id", orderID, "error", err)
		m.finish(orderID)
	}
}

// settle closes the dispatch of a claimed order and retracts the other offers.
func (m *matchingService) settle(ctx context.Context, orderID, winnerID string) {
	m.finish(orderID)

	if winnerID != "" {
		offer, err := m.offerRepo.GetLatest(ctx, orderID, winnerID)
		if err != nil {
			m.logger.Error("load winning offer", "order_id", orderID, "driver_id", winnerID, "error", err)
		} else if offer != nil {
			if _, err := m.offerRepo.Accept(ctx, offer.ID); err != nil {
				m.logger.Error("accept offer", "order_id", orderID, "offer_id", offer.ID, "error", err)
			}
		}
	}

	drivers, err := m.offerRepo.ResolvePending(ctx, orderID, winnerID, models.OfferStatusRetracted)
	if err != nil {
		m.logger.Error("retract offers", "order_id", orderID, "error", err)
	}
	m.retractAll(orderID, drivers, models.RetractReasonTaken)
}

func (m *matchingService) abort(ctx context.Context, orderID string) {
	m.finish(orderID)

	drivers, err := m.offerRepo.ResolvePending(ctx, orderID, "", models.OfferStatusRetracted)
	if err != nil {
		m.logger.Error("retract offers", "order_id", orderID, "error", err)
	}
	m.retractAll(orderID, drivers, models.RetractReasonCancelled)
}

func (m *matchingService) retractAll(orderID string, drivers []string, reason string) {
	for _, driverID := range drivers {
		observability.OffersRetracted.WithLabelValues(reason).Inc()
		m.push(driverID, session.EventOfferRetracted, models.RetractNotice{
			OrderID:   orderID,
			Reason:    reason,
			Reconcile: true,
		})
	}
	if len(drivers) > 0 {
		m.logger.Info("offers retracted", "order_id", orderID, "reason", reason, "count", len(drivers))
	}
}

func (m *matchingService) Decline(ctx context.Context, orderID, driverID string) error {
	offer, err := m.offerRepo.GetLatest(ctx, orderID, driverID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperrors.ErrOfferNotFound
	}
	if offer.Status != models.OfferStatusPending {
		return apperrors.InvalidTransition(offer.Status, models.OfferStatusDeclined)
	}

	ok, err := m.offerRepo.Respond(ctx, offer.ID, models.OfferStatusDeclined)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: offer is no longer pending", apperrors.ErrInvalidTransition)
	}
	m.logger.Info("offer declined", "order_id", orderID, "driver_id", driverID)
	return nil
}

// PendingOffers lists the offers driverID can still claim, each with its order.
func (m *matchingService) PendingOffers(ctx context.Context, driverID string) ([]*models.OfferResponse, error) {
	offers, err := m.offerRepo.ListLiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]*models.OfferResponse, 0, len(offers))
	for _, offer := range offers {
		if !offer.IsLive(now) {
			continue
		}
		order, err := m.orderRepo.GetByID(ctx, offer.OrderID)
		if err != nil {
			return nil, err
		}
		if order == nil || order.Status != models.OrderStatusPending {
			continue
		}
		resp := offer.ToResponse()
		resp.Order = order.ToResponse()
		out = append(out, resp)
	}
	return out, nil
}

func (m *matchingService) ActiveDispatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatches)
}

func (m *matchingService) Stop() {
	m.timers.Stop()
}

// reserve marks driverID as offered for this order. It fails when the
// dispatch is gone or the driver was already offered or excluded.
func (m *matchingService) reserve(orderID, driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.dispatches[orderID]
	if !ok || d.offered[driverID] || d.excluded[driverID] {
		return false
	}
	d.offered[driverID] = true
	return true
}

func (m *matchingService) unreserve(orderID, driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.dispatches[orderID]; ok {
		delete(d.offered, driverID)
	}
}

// stillPending reports whether the order can take another round. Once it has
// left PENDING, settle or abort owns the remaining offers. A failed lookup
// keeps the round going.
func (m *matchingService) stillPending(ctx context.Context, orderID string) bool {
	order, err := m.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		m.logger.Error("load order for round end", "order_id", orderID, "error", err)
		return true
	}
	return order != nil && order.Status == models.OrderStatusPending
}

func (m *matchingService) active(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dispatches[orderID]
	return ok
}

// finish drops the dispatch and its timers.
func (m *matchingService) finish(orderID string) {
	m.mu.Lock()
	_, ok := m.dispatches[orderID]
	delete(m.dispatches, orderID)
	m.mu.Unlock()

	m.timers.Cancel(roundKey(orderID))
	m.timers.Cancel(deadlineKey(orderID))
	if ok {
		observability.ActiveDispatches.Dec()
		m.logger.Debug("dispatch finished", "order_id", orderID)
	}
}

func (m *matchingService) push(actorID, event string, payload any) {
	if !m.sender.Send(actorID, event, payload) {
		observability.PushesDropped.WithLabelValues(event).Inc()
	}
}

func roundKey(orderID string) string    { return "round:" + orderID }
func deadlineKey(orderID string) string { return "deadline:" + orderID }
