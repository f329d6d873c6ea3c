package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
)

type PixRequestRepository interface {
	Create(ctx context.Context, req *models.PixCreditRequest) error
	GetByID(ctx context.Context, id string) (*models.PixCreditRequest, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.PixCreditRequest, error)
	GetPendingByDriver(ctx context.Context, driverID string) (*models.PixCreditRequest, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.PixCreditRequest, error)
	// Resolve closes a pending request. It reports false if it was no longer pending.
	Resolve(ctx context.Context, id, status, adminID string, notes *string, at time.Time) (bool, error)
}

type pixRequestRepository struct {
	db *sqlx.DB
}

func NewPixRequestRepository(db *sqlx.DB) PixRequestRepository {
	return &pixRequestRepository{db: db}
}

func (r *pixRequestRepository) Create(ctx context.Context, req *models.PixCreditRequest) error {
	req.Status = models.PixStatusPending
	req.UpdatedAt = req.CreatedAt

	query := `
		INSERT INTO pix_credit_requests (id, driver_id, amount, credits_to_receive, pix_key, pix_key_type,
			status, payment_id, qr_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		req.ID, req.DriverID, req.Amount, req.CreditsToReceive, req.PixKey, req.PixKeyType,
		req.Status, req.PaymentID, req.QRPayload, req.CreatedAt, req.UpdatedAt)
	return mapInsertErr(err)
}

func (r *pixRequestRepository) GetByID(ctx context.Context, id string) (*models.PixCreditRequest, error) {
	return r.get(ctx, `SELECT * FROM pix_credit_requests WHERE id = $1`, id)
}

func (r *pixRequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.PixCreditRequest, error) {
	return r.get(ctx, `SELECT * FROM pix_credit_requests WHERE id = $1`+lockClause(ctx, "FOR UPDATE"), id)
}

func (r *pixRequestRepository) GetPendingByDriver(ctx context.Context, driverID string) (*models.PixCreditRequest, error) {
	var req models.PixCreditRequest
	query := `SELECT * FROM pix_credit_requests WHERE driver_id = $1 AND status = $2`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &req, query, driverID, models.PixStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &req, err
}

func (r *pixRequestRepository) get(ctx context.Context, query, id string) (*models.PixCreditRequest, error) {
	var req models.PixCreditRequest
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &req, err
}

func (r *pixRequestRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.PixCreditRequest, error) {
	var reqs []*models.PixCreditRequest
	query := `
		SELECT * FROM pix_credit_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &reqs, query, status, limit)
	return reqs, err
}

func (r *pixRequestRepository) Resolve(ctx context.Context, id, status, adminID string, notes *string, at time.Time) (bool, error) {
	query := `
		UPDATE pix_credit_requests
		SET status = $1, confirmed_by = $2, confirmation_notes = $3, resolved_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		status, adminID, notes, at, id, models.PixStatusPending)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
