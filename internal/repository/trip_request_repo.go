package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type TripRequestRepository interface {
	Create(ctx context.Context, req *models.TripRequest) error
	GetByID(ctx context.Context, id string) (*models.TripRequest, error)
	// GetByIDForShare takes a shared row lock when called inside a transaction,
	// so a concurrent status change waits for the caller to finish.
	GetByIDForShare(ctx context.Context, id string) (*models.TripRequest, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*models.TripRequest, error)
	ListOpen(ctx context.Context, serviceTypes []string, now time.Time) ([]*models.TripRequest, error)
	// TransitionStatus moves the request from one status to another only if
	// both status and version still match what the caller read.
	TransitionStatus(ctx context.Context, id string, version int, from, to string, reason *string) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) ([]*models.TripRequest, error)
}

type tripRequestRepository struct {
	db *sqlx.DB
}

func NewTripRequestRepository(db *sqlx.DB) TripRequestRepository {
	return &tripRequestRepository{db: db}
}

func (r *tripRequestRepository) Create(ctx context.Context, req *models.TripRequest) error {
	req.Status = models.RequestStatusPending
	req.Version = 1
	req.UpdatedAt = req.CreatedAt

	query := `
		INSERT INTO trip_requests (id, client_id, service_type, origin_lat, origin_lng, origin_address,
			destination_lat, destination_lng, destination_address, max_offer, suggested_fare,
			estimated_distance_km, estimated_duration_mins, notes, status, version,
			created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		req.ID, req.ClientID, req.ServiceType, req.OriginLat, req.OriginLng, req.OriginAddress,
		req.DestinationLat, req.DestinationLng, req.DestinationAddress, req.MaxOffer, req.SuggestedFare,
		req.EstimatedDistanceKm, req.EstimatedDurationMin, req.Notes, req.Status, req.Version,
		req.CreatedAt, req.ExpiresAt, req.UpdatedAt)
	return mapInsertErr(err)
}

func (r *tripRequestRepository) GetByID(ctx context.Context, id string) (*models.TripRequest, error) {
	return r.get(ctx, `SELECT * FROM trip_requests WHERE id = $1`, id)
}

func (r *tripRequestRepository) GetByIDForShare(ctx context.Context, id string) (*models.TripRequest, error) {
	return r.get(ctx, `SELECT * FROM trip_requests WHERE id = $1`+lockClause(ctx, "FOR SHARE"), id)
}

func (r *tripRequestRepository) get(ctx context.Context, query string, id string) (*models.TripRequest, error) {
	var req models.TripRequest
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &req, err
}

func (r *tripRequestRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.TripRequest, error) {
	var reqs []*models.TripRequest
	query := `
		SELECT * FROM trip_requests
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &reqs, query, clientID, limit)
	return reqs, err
}

func (r *tripRequestRepository) ListOpen(ctx context.Context, serviceTypes []string, now time.Time) ([]*models.TripRequest, error) {
	var reqs []*models.TripRequest
	query := `
		SELECT * FROM trip_requests
		WHERE status = $1 AND expires_at > $2 AND service_type = ANY($3)
		ORDER BY created_at ASC
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &reqs, query,
		models.RequestStatusPending, now, pq.Array(serviceTypes))
	return reqs, err
}

func (r *tripRequestRepository) TransitionStatus(ctx context.Context, id string, version int, from, to string, reason *string) (bool, error) {
	query := `
		UPDATE trip_requests
		SET status = $1, version = version + 1, updated_at = $2,
			cancellation_reason = COALESCE($3, cancellation_reason)
		WHERE id = $4 AND status = $5 AND version = $6
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, to, time.Now(), reason, id, from, version)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *tripRequestRepository) ExpireStale(ctx context.Context, now time.Time) ([]*models.TripRequest, error) {
	var expired []*models.TripRequest
	query := `
		UPDATE trip_requests
		SET status = $1, version = version + 1, updated_at = $2
		WHERE status = $3 AND expires_at <= $2
		RETURNING *
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &expired, query,
		models.RequestStatusExpired, now, models.RequestStatusPending)
	return expired, err
}
