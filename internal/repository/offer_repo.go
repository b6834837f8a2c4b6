package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OfferRepository interface {
	Create(ctx context.Context, offer *models.Offer) error
	GetLatest(ctx context.Context, orderID, driverID string) (*models.Offer, error)
	ListLiveByOrder(ctx context.Context, orderID string) ([]*models.Offer, error)
	ListLiveByDriver(ctx context.Context, driverID string) ([]*models.Offer, error)
	// Respond moves one pending offer to status. It reports false when the
	// offer was no longer pending.
	Respond(ctx context.Context, offerID, status string) (bool, error)
	// Accept marks the winning offer ACCEPTED. An offer expired by a round
	// that ended while the claim was committing is accepted too.
	Accept(ctx context.Context, offerID string) (bool, error)
	// ResolvePending moves every pending offer of the order, except the one
	// held by exceptDriverID, to status and returns the affected drivers.
	ResolvePending(ctx context.Context, orderID, exceptDriverID, status string) ([]string, error)
}

type offerRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) OfferRepository {
	return &offerRepository{db: db}
}

func (r *offerRepository) Create(ctx context.Context, offer *models.Offer) error {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	if offer.IssuedAt.IsZero() {
		offer.IssuedAt = time.Now()
	}
	offer.Status = models.OfferStatusPending

	query := `
		INSERT INTO offers (id, order_id, driver_id, status, round, distance_km, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		offer.ID, offer.OrderID, offer.DriverID, offer.Status, offer.Round, offer.DistanceKm,
		offer.IssuedAt, offer.ExpiresAt)
	return apperrors.Storage(err)
}

func (r *offerRepository) GetLatest(ctx context.Context, orderID, driverID string) (*models.Offer, error) {
	var offer models.Offer
	query := `
		SELECT * FROM offers
		WHERE order_id = $1 AND driver_id = $2
		ORDER BY issued_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &offer, query, orderID, driverID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return &offer, nil
}

func (r *offerRepository) ListLiveByOrder(ctx context.Context, orderID string) ([]*models.Offer, error) {
	var offers []*models.Offer
	query := `
		SELECT * FROM offers
		WHERE order_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY issued_at ASC
	`
	if err := r.db.SelectContext(ctx, &offers, query, orderID, models.OfferStatusPending, time.Now()); err != nil {
		return nil, apperrors.Storage(err)
	}
	return offers, nil
}

func (r *offerRepository) ListLiveByDriver(ctx context.Context, driverID string) ([]*models.Offer, error) {
	var offers []*models.Offer
	query := `
		SELECT * FROM offers
		WHERE driver_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY issued_at ASC
	`
	if err := r.db.SelectContext(ctx, &offers, query, driverID, models.OfferStatusPending, time.Now()); err != nil {
		return nil, apperrors.Storage(err)
	}
	return offers, nil
}

func (r *offerRepository) Respond(ctx context.Context, offerID, status string) (bool, error) {
	query := `UPDATE offers SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, status, time.Now(), offerID, models.OfferStatusPending)
	if err != nil {
		return false, apperrors.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Storage(err)
	}
	return n == 1, nil
}

func (r *offerRepository) Accept(ctx context.Context, offerID string) (bool, error) {
	query := `UPDATE offers SET status = $1, responded_at = $2 WHERE id = $3 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, models.OfferStatusAccepted, time.Now(), offerID,
		models.OfferStatusPending, models.OfferStatusExpired)
	if err != nil {
		return false, apperrors.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Storage(err)
	}
	return n == 1, nil
}

func (r *offerRepository) ResolvePending(ctx context.Context, orderID, exceptDriverID, status string) ([]string, error) {
	var driverIDs []string
	query := `
		UPDATE offers
		SET status = $1, responded_at = $2
		WHERE order_id = $3 AND status = $4 AND driver_id <> $5
		RETURNING driver_id
	`
	err := r.db.SelectContext(ctx, &driverIDs, query,
		status, time.Now(), orderID, models.OfferStatusPending, exceptDriverID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return driverIDs, nil
}
