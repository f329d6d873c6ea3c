package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
)

type BidRepository interface {
	Create(ctx context.Context, bid *models.Bid) error
	GetByID(ctx context.Context, id string) (*models.Bid, error)
	// GetLiveByRequestAndDriver returns the driver's non-withdrawn bid on the request.
	GetLiveByRequestAndDriver(ctx context.Context, tripRequestID, driverID string) (*models.Bid, error)
	ListByRequest(ctx context.Context, tripRequestID string) ([]*models.Bid, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Bid, error)
	// MarkAccepted accepts a bid that is still pending and unexpired at now.
	// It returns ErrDuplicate when another bid on the request is already accepted.
	MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error)
	// CloseOthers moves every other pending bid on the request to status.
	CloseOthers(ctx context.Context, tripRequestID, exceptID, status string, now time.Time) ([]*models.Bid, error)
	TransitionStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error)
	// Withdraw moves a pending bid that has not lapsed at now to withdrawn.
	Withdraw(ctx context.Context, id string, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) ([]*models.Bid, error)
}

type bidRepository struct {
	db *sqlx.DB
}

func NewBidRepository(db *sqlx.DB) BidRepository {
	return &bidRepository{db: db}
}

func (r *bidRepository) Create(ctx context.Context, bid *models.Bid) error {
	bid.Status = models.BidStatusPending

	query := `
		INSERT INTO bids (id, trip_request_id, driver_id, amount, eta_minutes, message, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		bid.ID, bid.TripRequestID, bid.DriverID, bid.Amount, bid.EtaMinutes, bid.Message,
		bid.Status, bid.CreatedAt, bid.ExpiresAt)
	return mapInsertErr(err)
}

func (r *bidRepository) GetByID(ctx context.Context, id string) (*models.Bid, error) {
	var bid models.Bid
	query := `SELECT * FROM bids WHERE id = $1`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &bid, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &bid, err
}

func (r *bidRepository) GetLiveByRequestAndDriver(ctx context.Context, tripRequestID, driverID string) (*models.Bid, error) {
	var bid models.Bid
	query := `
		SELECT * FROM bids
		WHERE trip_request_id = $1 AND driver_id = $2 AND status <> $3
	`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &bid, query,
		tripRequestID, driverID, models.BidStatusWithdrawn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &bid, err
}

func (r *bidRepository) ListByRequest(ctx context.Context, tripRequestID string) ([]*models.Bid, error) {
	var bids []*models.Bid
	query := `
		SELECT * FROM bids
		WHERE trip_request_id = $1
		ORDER BY created_at ASC
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &bids, query, tripRequestID)
	return bids, err
}

func (r *bidRepository) ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Bid, error) {
	var bids []*models.Bid
	query := `
		SELECT * FROM bids
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &bids, query, driverID, limit)
	return bids, err
}

func (r *bidRepository) MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE bids
		SET status = $1, responded_at = $2
		WHERE id = $3 AND status = $4 AND expires_at > $2
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		models.BidStatusAccepted, now, id, models.BidStatusPending)
	if err != nil {
		// Another bid on the request already holds the accepted slot.
		return false, mapInsertErr(err)
	}
	return affectedOne(res)
}

func (r *bidRepository) CloseOthers(ctx context.Context, tripRequestID, exceptID, status string, now time.Time) ([]*models.Bid, error) {
	var closed []*models.Bid
	query := `
		UPDATE bids
		SET status = $1, responded_at = $2
		WHERE trip_request_id = $3 AND id <> $4 AND status = $5
		RETURNING *
	`
	// exceptID may be empty when every pending bid should close
	except := exceptID
	if except == "" {
		except = "00000000-0000-0000-0000-000000000000"
	}
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &closed, query,
		status, now, tripRequestID, except, models.BidStatusPending)
	return closed, err
}

func (r *bidRepository) TransitionStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	query := `UPDATE bids SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *bidRepository) Withdraw(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE bids SET status = $1, responded_at = $2
		WHERE id = $3 AND status = $4 AND expires_at > $2
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		models.BidStatusWithdrawn, now, id, models.BidStatusPending)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *bidRepository) ExpireStale(ctx context.Context, now time.Time) ([]*models.Bid, error) {
	var expired []*models.Bid
	query := `
		UPDATE bids
		SET status = $1, responded_at = $2
		WHERE status = $3 AND expires_at <= $2
		RETURNING *
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &expired, query,
		models.BidStatusExpired, now, models.BidStatusPending)
	return expired, err
}
