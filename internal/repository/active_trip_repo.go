package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
)

type ActiveTripRepository interface {
	Create(ctx context.Context, trip *models.ActiveTrip) error
	GetByID(ctx context.Context, id string) (*models.ActiveTrip, error)
	GetByTripRequestID(ctx context.Context, tripRequestID string) (*models.ActiveTrip, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*models.ActiveTrip, error)
	// TransitionStatus applies from -> to only if the trip is still in from.
	TransitionStatus(ctx context.Context, id, from, to string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id, from string, by models.Actor, reason *string, at time.Time) (bool, error)
	SetClientRating(ctx context.Context, id string, rating int, feedback *string) (bool, error)
	SetDriverRating(ctx context.Context, id string, rating int, feedback *string) (bool, error)
}

type activeTripRepository struct {
	db *sqlx.DB
}

func NewActiveTripRepository(db *sqlx.DB) ActiveTripRepository {
	return &activeTripRepository{db: db}
}

func (r *activeTripRepository) Create(ctx context.Context, trip *models.ActiveTrip) error {
	trip.Status = models.TripStatusConfirmed
	trip.UpdatedAt = trip.CreatedAt

	query := `
		INSERT INTO active_trips (id, trip_request_id, bid_id, driver_id, client_id, final_price,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		trip.ID, trip.TripRequestID, trip.BidID, trip.DriverID, trip.ClientID, trip.FinalPrice,
		trip.Status, trip.CreatedAt, trip.UpdatedAt)
	return mapInsertErr(err)
}

func (r *activeTripRepository) GetByID(ctx context.Context, id string) (*models.ActiveTrip, error) {
	var trip models.ActiveTrip
	query := `SELECT * FROM active_trips WHERE id = $1`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &trip, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &trip, err
}

func (r *activeTripRepository) GetByTripRequestID(ctx context.Context, tripRequestID string) (*models.ActiveTrip, error) {
	var trip models.ActiveTrip
	query := `SELECT * FROM active_trips WHERE trip_request_id = $1`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &trip, query, tripRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &trip, err
}

func (r *activeTripRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*models.ActiveTrip, error) {
	var trips []*models.ActiveTrip
	query := `
		SELECT * FROM active_trips
		WHERE driver_id = $1 OR client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &trips, query, userID, limit)
	return trips, err
}

func (r *activeTripRepository) TransitionStatus(ctx context.Context, id, from, to string, at time.Time) (bool, error) {
	query := `
		UPDATE active_trips
		SET status = $1,
			started_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE started_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *activeTripRepository) Cancel(ctx context.Context, id, from string, by models.Actor, reason *string, at time.Time) (bool, error) {
	query := `
		UPDATE active_trips
		SET status = $1, cancelled_at = $2, cancelled_by = $3, cancelled_by_role = $4,
		    cancellation_reason = $5, updated_at = $2
		WHERE id = $6 AND status = $7
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		models.TripStatusCancelled, at, by.UserID, by.Role, reason, id, from)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *activeTripRepository) SetClientRating(ctx context.Context, id string, rating int, feedback *string) (bool, error) {
	query := `
		UPDATE active_trips
		SET client_rating = $1, client_feedback = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND client_rating IS NULL
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		rating, feedback, time.Now(), id, models.TripStatusCompleted)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *activeTripRepository) SetDriverRating(ctx context.Context, id string, rating int, feedback *string) (bool, error) {
	query := `
		UPDATE active_trips
		SET driver_rating = $1, driver_feedback = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND driver_rating IS NULL
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		rating, feedback, time.Now(), id, models.TripStatusCompleted)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
