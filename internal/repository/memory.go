package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/google/uuid"
)

// memoryOrderRepository keeps the same guarded-update semantics as the
// Postgres store, with the row lock replaced by one mutex.
type memoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	events []*models.OrderEvent
	nextID int64
}

func NewMemoryOrderRepository() OrderRepository {
	return &memoryOrderRepository{orders: make(map[string]*models.Order)}
}

func (r *memoryOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.ClientID == order.ClientID && o.IsActive() {
			return apperrors.ErrActiveOrderExists
		}
	}

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.StatusChangedAt = now
	order.Status = models.OrderStatusPending
	order.ClaimedDriverID = nil

	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memoryOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) Claim(_ context.Context, orderID, driverID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending || o.ClaimedDriverID != nil {
		return nil, nil
	}
	if r.driverHoldsActive(driverID) {
		return nil, apperrors.ErrDriverBusy
	}

	o.ClaimedDriverID = &driverID
	r.setStatus(o, models.OrderStatusAccepted)
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) Transition(_ context.Context, orderID, driverID string, from, to models.OrderStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok || o.Status != from || !o.HeldBy(driverID) {
		return nil, nil
	}
	r.setStatus(o, to)
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) Complete(_ context.Context, orderID, driverID string, distanceKm, durationMin, finalPrice float64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok || o.Status != models.OrderStatusInProgress || !o.HeldBy(driverID) {
		return nil, nil
	}
	o.ActualDistanceKm = &distanceKm
	o.ActualDurationMin = &durationMin
	o.FinalPrice = &finalPrice
	r.setStatus(o, models.OrderStatusCompleted)
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) Cancel(_ context.Context, p CancelParams) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[p.OrderID]
	if !ok || o.Status != p.From {
		return nil, nil
	}
	if p.HeldBy != "" && !o.HeldBy(p.HeldBy) {
		return nil, nil
	}

	by, reason := p.CancelledBy, p.Reason
	o.ClaimedDriverID = nil
	o.CancelledBy = &by
	o.CancelReason = &reason
	r.setStatus(o, models.OrderStatusCancelled)
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) Requeue(_ context.Context, orderID, driverID string, from models.OrderStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok || o.Status != from || !o.HeldBy(driverID) {
		return nil, nil
	}
	o.ClaimedDriverID = nil
	r.setStatus(o, models.OrderStatusPending)
	return cloneOrder(o), nil
}

func (r *memoryOrderRepository) GetActiveByClient(_ context.Context, clientID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.ClientID == clientID && o.IsActive() {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memoryOrderRepository) GetActiveByDriver(_ context.Context, driverID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.HeldBy(driverID) && slices.Contains(models.ClaimedStatuses, o.Status) {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memoryOrderRepository) AppendEvent(_ context.Context, event *models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	e := *event
	r.events = append(r.events, &e)
	return nil
}

func (r *memoryOrderRepository) ListEvents(_ context.Context, orderID string) ([]*models.OrderEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.OrderEvent
	for _, e := range r.events {
		if e.OrderID == orderID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memoryOrderRepository) driverHoldsActive(driverID string) bool {
	for _, o := range r.orders {
		if o.HeldBy(driverID) && slices.Contains(models.ClaimedStatuses, o.Status) {
			return true
		}
	}
	return false
}

func (r *memoryOrderRepository) setStatus(o *models.Order, status models.OrderStatus) {
	o.Status = status
	o.StatusChangedAt = time.Now()
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.ClaimedDriverID != nil {
		id := *o.ClaimedDriverID
		c.ClaimedDriverID = &id
	}
	return &c
}

type memoryOfferRepository struct {
	mu     sync.Mutex
	offers map[string]*models.Offer
}

func NewMemoryOfferRepository() OfferRepository {
	return &memoryOfferRepository{offers: make(map[string]*models.Offer)}
}

func (r *memoryOfferRepository) Create(_ context.Context, offer *models.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	if offer.IssuedAt.IsZero() {
		offer.IssuedAt = time.Now()
	}
	offer.Status = models.OfferStatusPending

	c := *offer
	r.offers[offer.ID] = &c
	return nil
}

func (r *memoryOfferRepository) GetLatest(_ context.Context, orderID, driverID string) (*models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.Offer
	for _, o := range r.offers {
		if o.OrderID != orderID || o.DriverID != driverID {
			continue
		}
		if latest == nil || o.IssuedAt.After(latest.IssuedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (r *memoryOfferRepository) ListLiveByOrder(_ context.Context, orderID string) ([]*models.Offer, error) {
	return r.list(func(o *models.Offer) bool { return o.OrderID == orderID }), nil
}

func (r *memoryOfferRepository) ListLiveByDriver(_ context.Context, driverID string) ([]*models.Offer, error) {
	return r.list(func(o *models.Offer) bool { return o.DriverID == driverID }), nil
}

func (r *memoryOfferRepository) list(match func(*models.Offer) bool) []*models.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []*models.Offer
	for _, o := range r.offers {
		if match(o) && o.IsLive(now) {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (r *memoryOfferRepository) Respond(_ context.Context, offerID, status string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.offers[offerID]
	if !ok || o.Status != models.OfferStatusPending {
		return false, nil
	}
	now := time.Now()
	o.Status = status
	o.RespondedAt = &now
	return true, nil
}

func (r *memoryOfferRepository) Accept(_ context.Context, offerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.offers[offerID]
	if !ok || (o.Status != models.OfferStatusPending && o.Status != models.OfferStatusExpired) {
		return false, nil
	}
	now := time.Now()
	o.Status = models.OfferStatusAccepted
	o.RespondedAt = &now
	return true, nil
}

func (r *memoryOfferRepository) ResolvePending(_ context.Context, orderID, exceptDriverID, status string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var driverIDs []string
	for _, o := range r.offers {
		if o.OrderID != orderID || o.Status != models.OfferStatusPending || o.DriverID == exceptDriverID {
			continue
		}
		o.Status = status
		o.RespondedAt = &now
		driverIDs = append(driverIDs, o.DriverID)
	}
	sort.Strings(driverIDs)
	return driverIDs, nil
}
