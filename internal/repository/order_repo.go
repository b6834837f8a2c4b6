package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Unique index names from migrations/001_init.sql
const (
	constraintActivePerClient = "orders_one_active_per_client"
	constraintActivePerDriver = "orders_one_active_per_driver"
)

// OrderRepository persists orders. Every status change is a single guarded
// UPDATE; when the guard does not match, the method returns (nil, nil) and
// leaves the row untouched.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Claim(ctx context.Context, orderID, driverID string) (*models.Order, error)
	Transition(ctx context.Context, orderID, driverID string, from, to models.OrderStatus) (*models.Order, error)
	Complete(ctx context.Context, orderID, driverID string, distanceKm, durationMin, finalPrice float64) (*models.Order, error)
	Cancel(ctx context.Context, params CancelParams) (*models.Order, error)
	Requeue(ctx context.Context, orderID, driverID string, from models.OrderStatus) (*models.Order, error)
	GetActiveByClient(ctx context.Context, clientID string) (*models.Order, error)
	GetActiveByDriver(ctx context.Context, driverID string) (*models.Order, error)
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
	ListEvents(ctx context.Context, orderID string) ([]*models.OrderEvent, error)
}

// CancelParams guards a cancellation on the status the caller observed.
// HeldBy, when set, additionally requires that driver to hold the order.
type CancelParams struct {
	OrderID     string
	From        models.OrderStatus
	HeldBy      string
	CancelledBy string
	Reason      string
}

type orderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.StatusChangedAt = now
	order.Status = models.OrderStatusPending
	order.ClaimedDriverID = nil

	query := `
		INSERT INTO orders (id, status, client_id, pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address, car_class, estimated_distance_km,
			estimated_duration_min, estimated_price, surge_factor, created_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.Status, order.ClientID, order.PickupLat, order.PickupLng, order.PickupAddress,
		order.DropoffLat, order.DropoffLng, order.DropoffAddress, order.CarClass, order.EstimatedDistanceKm,
		order.EstimatedDurationMin, order.EstimatedPrice, order.SurgeFactor, order.CreatedAt, order.StatusChangedAt)
	return mapWriteError(err)
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	query := `SELECT * FROM orders WHERE id = $1`
	err := r.db.GetContext(ctx, &order, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return &order, nil
}

// Claim is the compare-and-set that resolves the first-accept race.
func (r *orderRepository) Claim(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	query := `
		UPDATE orders
		SET claimed_driver_id = $1, status = $2, status_changed_at = $3
		WHERE id = $4 AND status = $5 AND claimed_driver_id IS NULL
		RETURNING *
	`
	return r.updateReturning(ctx, query,
		driverID, models.OrderStatusAccepted, time.Now(), orderID, models.OrderStatusPending)
}

func (r *orderRepository) Transition(ctx context.Context, orderID, driverID string, from, to models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1, status_changed_at = $2
		WHERE id = $3 AND status = $4 AND claimed_driver_id = $5
		RETURNING *
	`
	return r.updateReturning(ctx, query, to, time.Now(), orderID, from, driverID)
}

func (r *orderRepository) Complete(ctx context.Context, orderID, driverID string, distanceKm, durationMin, finalPrice float64) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1, status_changed_at = $2, actual_distance_km = $3,
			actual_duration_min = $4, final_price = $5
		WHERE id = $6 AND status = $7 AND claimed_driver_id = $8
		RETURNING *
	`
	return r.updateReturning(ctx, query,
		models.OrderStatusCompleted, time.Now(), distanceKm, durationMin, finalPrice,
		orderID, models.OrderStatusInProgress, driverID)
}

func (r *orderRepository) Cancel(ctx context.Context, p CancelParams) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1, status_changed_at = $2, claimed_driver_id = NULL,
			cancelled_by = $3, cancel_reason = $4
		WHERE id = $5 AND status = $6
	`
	args := []interface{}{
		models.OrderStatusCancelled, time.Now(), p.CancelledBy, p.Reason, p.OrderID, p.From,
	}
	if p.HeldBy != "" {
		query += ` AND claimed_driver_id = $7`
		args = append(args, p.HeldBy)
	}
	query += ` RETURNING *`
	return r.updateReturning(ctx, query, args...)
}

// Requeue hands a claimed order back to matching.
func (r *orderRepository) Requeue(ctx context.Context, orderID, driverID string, from models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1, status_changed_at = $2, claimed_driver_id = NULL
		WHERE id = $3 AND status = $4 AND claimed_driver_id = $5
		RETURNING *
	`
	return r.updateReturning(ctx, query, models.OrderStatusPending, time.Now(), orderID, from, driverID)
}

func (r *orderRepository) GetActiveByClient(ctx context.Context, clientID string) (*models.Order, error) {
	query := `
		SELECT * FROM orders
		WHERE client_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, clientID, statusArray(models.ActiveStatuses))
}

func (r *orderRepository) GetActiveByDriver(ctx context.Context, driverID string) (*models.Order, error) {
	query := `
		SELECT * FROM orders
		WHERE claimed_driver_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, driverID, statusArray(models.ClaimedStatuses))
}

func statusArray(statuses []models.OrderStatus) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *orderRepository) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO order_events (order_id, from_status, to_status, actor_id, actor_role, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		event.OrderID, event.FromStatus, event.ToStatus, event.ActorID, event.ActorRole,
		event.Reason, event.CreatedAt).Scan(&event.ID)
	return apperrors.Storage(err)
}

func (r *orderRepository) ListEvents(ctx context.Context, orderID string) ([]*models.OrderEvent, error) {
	var events []*models.OrderEvent
	query := `SELECT * FROM order_events WHERE order_id = $1 ORDER BY id ASC`
	if err := r.db.SelectContext(ctx, &events, query, orderID); err != nil {
		return nil, apperrors.Storage(err)
	}
	return events, nil
}

func (r *orderRepository) updateReturning(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.GetContext(ctx, &order, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &order, nil
}

func (r *orderRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.GetContext(ctx, &order, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return &order, nil
}

// mapWriteError turns the active-order unique violations into business errors.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case constraintActivePerClient:
			return apperrors.ErrActiveOrderExists
		case constraintActivePerDriver:
			return apperrors.ErrDriverBusy
		}
	}
	return apperrors.Storage(err)
}
