package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
)

type DriverRepository interface {
	Create(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	UpdateLocation(ctx context.Context, id string, lat, lng float64) error
	AddRating(ctx context.Context, id string, rating int) error
	IncrementTotalTrips(ctx context.Context, id string) error
	ListOnlineWithLocation(ctx context.Context) ([]*models.Driver, error)
}

type driverRepository struct {
	db *sqlx.DB
}

func NewDriverRepository(db *sqlx.DB) DriverRepository {
	return &driverRepository{db: db}
}

func (r *driverRepository) Create(ctx context.Context, driver *models.Driver) error {
	driver.CreatedAt = time.Now()
	driver.UpdatedAt = driver.CreatedAt
	driver.Rating = 5.0
	driver.TotalTrips = 0
	driver.Status = models.DriverStatusOffline

	query := `
		INSERT INTO drivers (id, vehicle_number, specialties, status, rating, total_trips, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		driver.ID, driver.VehicleNumber, driver.Specialties, driver.Status, driver.Rating,
		driver.TotalTrips, driver.CreatedAt, driver.UpdatedAt)
	return mapInsertErr(err)
}

func (r *driverRepository) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	var driver models.Driver
	query := `SELECT * FROM drivers WHERE id = $1`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &driver, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &driver, err
}

func (r *driverRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, status, time.Now(), id)
	return err
}

func (r *driverRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	query := `UPDATE drivers SET current_lat = $1, current_lng = $2, updated_at = $3 WHERE id = $4`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, lat, lng, time.Now(), id)
	return err
}

// AddRating folds one client rating into the running average.
func (r *driverRepository) AddRating(ctx context.Context, id string, rating int) error {
	query := `
		UPDATE drivers
		SET rating = (rating * rating_count + $1) / (rating_count + 1),
			rating_count = rating_count + 1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, float64(rating), time.Now(), id)
	return err
}

func (r *driverRepository) IncrementTotalTrips(ctx context.Context, id string) error {
	query := `UPDATE drivers SET total_trips = total_trips + 1, updated_at = $1 WHERE id = $2`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, time.Now(), id)
	return err
}

func (r *driverRepository) ListOnlineWithLocation(ctx context.Context) ([]*models.Driver, error) {
	var drivers []*models.Driver
	query := `
		SELECT * FROM drivers
		WHERE status = $1
		AND current_lat IS NOT NULL AND current_lng IS NOT NULL
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &drivers, query, models.DriverStatusOnline)
	return drivers, err
}
