package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type CreditRepository interface {
	// EnsureAccount creates a zero-balance account if the driver has none.
	EnsureAccount(ctx context.Context, driverID string) error
	GetAccount(ctx context.Context, driverID string) (*models.DriverCreditAccount, error)
	// GetAccountForUpdate locks the account row for the rest of the transaction.
	GetAccountForUpdate(ctx context.Context, driverID string) (*models.DriverCreditAccount, error)
	// UpdateBalance writes the new totals if the stored version still matches.
	UpdateBalance(ctx context.Context, acct *models.DriverCreditAccount) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.CreditTransaction) error
	FindTripTransaction(ctx context.Context, driverID, tripID, txnType string) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, driverID string, limit int) ([]*models.CreditTransaction, error)
	SumByType(ctx context.Context, driverID string) (adds, spends decimal.Decimal, err error)
}

type creditRepository struct {
	db *sqlx.DB
}

func NewCreditRepository(db *sqlx.DB) CreditRepository {
	return &creditRepository{db: db}
}

func (r *creditRepository) EnsureAccount(ctx context.Context, driverID string) error {
	query := `
		INSERT INTO driver_credit_accounts (driver_id, balance, total_earned, total_spent, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 1, $2, $2)
		ON CONFLICT (driver_id) DO NOTHING
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, driverID, time.Now())
	return err
}

func (r *creditRepository) GetAccount(ctx context.Context, driverID string) (*models.DriverCreditAccount, error) {
	return r.getAccount(ctx, `SELECT * FROM driver_credit_accounts WHERE driver_id = $1`, driverID)
}

func (r *creditRepository) GetAccountForUpdate(ctx context.Context, driverID string) (*models.DriverCreditAccount, error) {
	return r.getAccount(ctx, `SELECT * FROM driver_credit_accounts WHERE driver_id = $1`+lockClause(ctx, "FOR UPDATE"), driverID)
}

func (r *creditRepository) getAccount(ctx context.Context, query, driverID string) (*models.DriverCreditAccount, error) {
	var acct models.DriverCreditAccount
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &acct, query, driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &acct, err
}

func (r *creditRepository) UpdateBalance(ctx context.Context, acct *models.DriverCreditAccount) (bool, error) {
	now := time.Now()
	query := `
		UPDATE driver_credit_accounts
		SET balance = $1, total_earned = $2, total_spent = $3, version = version + 1, updated_at = $4
		WHERE driver_id = $5 AND version = $6
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		acct.Balance, acct.TotalEarned, acct.TotalSpent, now, acct.DriverID, acct.Version)
	if err != nil {
		return false, err
	}
	ok, err := affectedOne(res)
	if ok {
		acct.Version++
		acct.UpdatedAt = now
	}
	return ok, err
}

func (r *creditRepository) InsertTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	if txn.Metadata == nil {
		txn.Metadata = models.JSONMap{}
	}
	query := `
		INSERT INTO credit_transactions (id, driver_id, type, amount, balance_after, trip_id, source,
			description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		txn.ID, txn.DriverID, txn.Type, txn.Amount, txn.BalanceAfter, txn.TripID, txn.Source,
		txn.Description, txn.Metadata, txn.CreatedAt)
	return mapInsertErr(err)
}

func (r *creditRepository) FindTripTransaction(ctx context.Context, driverID, tripID, txnType string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	query := `
		SELECT * FROM credit_transactions
		WHERE driver_id = $1 AND trip_id = $2 AND type = $3
	`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &txn, query, driverID, tripID, txnType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &txn, err
}

func (r *creditRepository) ListTransactions(ctx context.Context, driverID string, limit int) ([]*models.CreditTransaction, error) {
	var txns []*models.CreditTransaction
	query := `
		SELECT * FROM credit_transactions
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &txns, query, driverID, limit)
	return txns, err
}

func (r *creditRepository) SumByType(ctx context.Context, driverID string) (decimal.Decimal, decimal.Decimal, error) {
	var sums struct {
		Adds   decimal.Decimal `db:"adds"`
		Spends decimal.Decimal `db:"spends"`
	}
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'add'), 0) AS adds,
			COALESCE(SUM(amount) FILTER (WHERE type = 'spend'), 0) AS spends
		FROM credit_transactions
		WHERE driver_id = $1
	`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &sums, query, driverID)
	return sums.Adds, sums.Spends, err
}
