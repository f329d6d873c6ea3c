package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/metrics"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/payment"
	"github.com/aditya/towbid/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// CreditService is the driver credit ledger. Every balance change runs in one
// transaction with the account row locked and appends exactly one ledger entry.
type CreditService interface {
	GetBalance(ctx context.Context, driverID string) (*models.BalanceResponse, error)
	CanAcceptTrip(ctx context.Context, driverID string) (bool, error)
	ChargeForTrip(ctx context.Context, driverID, tripID string, amount decimal.Decimal) (*models.CreditTransaction, error)
	AddCredits(ctx context.Context, driverID string, amount decimal.Decimal, source, description string, metadata models.JSONMap) (*models.CreditTransaction, error)
	ReverseCharge(ctx context.Context, adminID string, req *models.ReverseChargeRequest) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, driverID string, limit int) ([]*models.CreditTransaction, error)
	Reconcile(ctx context.Context, driverID string) (*models.ReconcileReport, error)

	RequestTopUp(ctx context.Context, driverID string, req *models.RequestTopUpRequest) (*models.PixCreditRequest, error)
	ResolveTopUp(ctx context.Context, requestID, adminID string, approve bool, notes string) (*models.PixCreditRequest, error)
	ListTopUps(ctx context.Context, status string, limit int) ([]*models.PixCreditRequest, error)
}

type creditService struct {
	tx            repository.Transactor
	creditRepo    repository.CreditRepository
	pixRepo       repository.PixRequestRepository
	driverRepo    repository.DriverRepository
	provider      payment.Provider
	notifications NotificationService
	policy        Policy
}

func NewCreditService(
	tx repository.Transactor,
	creditRepo repository.CreditRepository,
	pixRepo repository.PixRequestRepository,
	driverRepo repository.DriverRepository,
	provider payment.Provider,
	notifications NotificationService,
	policy Policy,
) CreditService {
	if provider == nil {
		provider = payment.NewManualProvider()
	}
	return &creditService{
		tx:            tx,
		creditRepo:    creditRepo,
		pixRepo:       pixRepo,
		driverRepo:    driverRepo,
		provider:      provider,
		notifications: notifications,
		policy:        policy,
	}
}

func (s *creditService) GetBalance(ctx context.Context, driverID string) (*models.BalanceResponse, error) {
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}

	acct, err := s.creditRepo.GetAccount(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to load credit account", err)
	}
	if acct == nil {
		// No ledger activity yet
		acct = &models.DriverCreditAccount{DriverID: driverID}
	}
	return acct.ToResponse(s.policy.CostPerTrip), nil
}

func (s *creditService) CanAcceptTrip(ctx context.Context, driverID string) (bool, error) {
	acct, err := s.creditRepo.GetAccount(ctx, driverID)
	if err != nil {
		return false, apperrors.Internal("failed to load credit account", err)
	}
	if acct == nil {
		return false, nil
	}
	return acct.Balance.GreaterThanOrEqual(s.policy.CostPerTrip), nil
}

// ChargeForTrip debits a completed trip. A repeat charge for the same trip and
// amount returns the original entry; a repeat with a different amount is refused.
func (s *creditService) ChargeForTrip(ctx context.Context, driverID, tripID string, amount decimal.Decimal) (*models.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Validation("charge amount must be positive")
	}

	var txn *models.CreditTransaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acct, err := s.lockAccount(ctx, driverID)
		if err != nil {
			return err
		}

		prior, err := s.creditRepo.FindTripTransaction(ctx, driverID, tripID, models.CreditTypeSpend)
		if err != nil {
			return apperrors.Internal("failed to look up trip charge", err)
		}
		if prior != nil {
			if !prior.Amount.Equal(amount) {
				return apperrors.IntegrityFailure(apperrors.ReasonDuplicateCharge,
					fmt.Sprintf("trip already charged %s", prior.Amount.StringFixed(2)))
			}
			txn = prior
			return nil
		}

		txn, err = s.move(ctx, acct, ledgerEntry{
			Type:        models.CreditTypeSpend,
			Source:      models.CreditSourceTripCharge,
			Amount:      amount,
			TripID:      &tripID,
			Description: "Trip charge",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *creditService) AddCredits(ctx context.Context, driverID string, amount decimal.Decimal, source, description string, metadata models.JSONMap) (*models.CreditTransaction, error) {
	if err := validateAmount("amount", amount); err != nil {
		return nil, err
	}
	if source == "" {
		source = models.CreditSourceAdminGrant
	}
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}

	var txn *models.CreditTransaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.addCredits(ctx, driverID, ledgerEntry{
			Type:        models.CreditTypeAdd,
			Source:      source,
			Amount:      amount,
			Description: description,
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ReverseCharge refunds a trip charge once. Repeating it returns the first reversal.
func (s *creditService) ReverseCharge(ctx context.Context, adminID string, req *models.ReverseChargeRequest) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acct, err := s.lockAccount(ctx, req.DriverID)
		if err != nil {
			return err
		}

		charge, err := s.creditRepo.FindTripTransaction(ctx, req.DriverID, req.TripID, models.CreditTypeSpend)
		if err != nil {
			return apperrors.Internal("failed to look up trip charge", err)
		}
		if charge == nil {
			return apperrors.PreconditionFailed(apperrors.ReasonNoChargeToReverse, "trip has no charge to reverse")
		}

		prior, err := s.creditRepo.FindTripTransaction(ctx, req.DriverID, req.TripID, models.CreditTypeAdd)
		if err != nil {
			return apperrors.Internal("failed to look up reversal", err)
		}
		if prior != nil {
			txn = prior
			return nil
		}

		txn, err = s.move(ctx, acct, ledgerEntry{
			Type:        models.CreditTypeAdd,
			Source:      models.CreditSourceReversal,
			Amount:      charge.Amount,
			TripID:      &req.TripID,
			Description: req.Reason,
			Metadata:    models.JSONMap{"admin_id": adminID, "charge_id": charge.ID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "trip charge reversed",
		"driver_id", req.DriverID, "trip_id", req.TripID, "admin_id", adminID, "amount", txn.Amount.String())
	return txn, nil
}

func (s *creditService) ListTransactions(ctx context.Context, driverID string, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	if limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}
	txns, err := s.creditRepo.ListTransactions(ctx, driverID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list credit transactions", err)
	}
	return txns, nil
}

// Reconcile rebuilds the balance from the ledger and compares it with the stored one.
func (s *creditService) Reconcile(ctx context.Context, driverID string) (*models.ReconcileReport, error) {
	acct, err := s.creditRepo.GetAccount(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to load credit account", err)
	}
	if acct == nil {
		return nil, apperrors.NotFound("credit account")
	}

	adds, spends, err := s.creditRepo.SumByType(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to sum ledger", err)
	}

	ledger := adds.Sub(spends)
	report := &models.ReconcileReport{
		DriverID:      driverID,
		StoredBalance: acct.Balance,
		TotalAdds:     adds,
		TotalSpends:   spends,
		LedgerBalance: ledger,
		Consistent:    ledger.Equal(acct.Balance),
	}
	if !report.Consistent {
		slog.WarnContext(ctx, "credit ledger mismatch",
			"driver_id", driverID, "stored", acct.Balance.String(), "ledger", ledger.String())
	}
	return report, nil
}

func (s *creditService) RequestTopUp(ctx context.Context, driverID string, req *models.RequestTopUpRequest) (*models.PixCreditRequest, error) {
	if err := validateAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}

	pending, err := s.pixRepo.GetPendingByDriver(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to check pending top-ups", err)
	}
	if pending != nil {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonPendingTopUpExists, "a top-up request is already pending")
	}

	topUp := &models.PixCreditRequest{
		ID:               uuid.New().String(),
		DriverID:         driverID,
		Amount:           req.Amount,
		CreditsToReceive: req.Amount.Mul(s.policy.CreditsPerUnit),
		PixKey:           req.PixKey,
		PixKeyType:       req.PixKeyType,
		CreatedAt:        s.policy.now(),
	}

	// A provider failure never blocks the top-up: it stays pending for manual confirmation.
	charge, err := s.provider.CreateCharge(ctx, req.Amount, topUp.ID)
	if err != nil {
		metrics.TopUpProviderFailures.Inc()
		slog.WarnContext(ctx, "payment provider unavailable, top-up left for manual confirmation",
			"top_up_id", topUp.ID, "driver_id", driverID, "error", err)
	} else if charge != nil {
		topUp.PaymentID = &charge.PaymentID
		topUp.QRPayload = &charge.QRPayload
	}

	if err := s.pixRepo.Create(ctx, topUp); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.PreconditionFailed(apperrors.ReasonPendingTopUpExists, "a top-up request is already pending")
		}
		return nil, apperrors.Internal("failed to create top-up request", err)
	}
	return topUp, nil
}

func (s *creditService) ResolveTopUp(ctx context.Context, requestID, adminID string, approve bool, notes string) (*models.PixCreditRequest, error) {
	var topUp *models.PixCreditRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		topUp, err = s.pixRepo.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return apperrors.Internal("failed to load top-up request", err)
		}
		if topUp == nil {
			return apperrors.NotFound("top-up request")
		}
		if topUp.Status != models.PixStatusPending {
			return apperrors.PreconditionFailed(apperrors.ReasonTopUpAlreadyResolved, "top-up request already resolved")
		}

		status := models.PixStatusCancelled
		if approve {
			status = models.PixStatusCreditsAdded
		}
		now := s.policy.now()
		var notePtr *string
		if notes != "" {
			notePtr = &notes
		}

		ok, err := s.pixRepo.Resolve(ctx, topUp.ID, status, adminID, notePtr, now)
		if err != nil {
			return apperrors.Internal("failed to resolve top-up request", err)
		}
		if !ok {
			return apperrors.PreconditionFailed(apperrors.ReasonTopUpAlreadyResolved, "top-up request already resolved")
		}
		topUp.Status = status
		topUp.ConfirmedBy = &adminID
		topUp.ConfirmationNotes = notePtr
		topUp.ResolvedAt = &now
		topUp.UpdatedAt = now

		if !approve {
			_, err = s.notifications.Emit(ctx, topUp.DriverID, models.NotificationTopUpRejected,
				"Top-up rejected", "Your credit top-up request was not approved",
				models.JSONMap{"pix_request_id": topUp.ID})
			return err
		}

		metadata := models.JSONMap{"pix_request_id": topUp.ID, "admin_id": adminID}
		if topUp.PaymentID != nil {
			metadata["payment_id"] = *topUp.PaymentID
		}
		_, err = s.addCredits(ctx, topUp.DriverID, ledgerEntry{
			Type:        models.CreditTypeAdd,
			Source:      models.CreditSourcePix,
			Amount:      topUp.CreditsToReceive,
			Description: "PIX top-up",
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "top-up resolved",
		"top_up_id", topUp.ID, "driver_id", topUp.DriverID, "status", topUp.Status, "admin_id", adminID)
	return topUp, nil
}

func (s *creditService) ListTopUps(ctx context.Context, status string, limit int) ([]*models.PixCreditRequest, error) {
	if status == "" {
		status = models.PixStatusPending
	}
	switch status {
	case models.PixStatusPending, models.PixStatusCreditsAdded, models.PixStatusCancelled:
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown top-up status %q", status))
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	if limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}

	reqs, err := s.pixRepo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list top-up requests", err)
	}
	return reqs, nil
}

type ledgerEntry struct {
	Type        string
	Source      string
	Amount      decimal.Decimal
	TripID      *string
	Description string
	Metadata    models.JSONMap
}

// addCredits must run inside a transaction.
func (s *creditService) addCredits(ctx context.Context, driverID string, entry ledgerEntry) (*models.CreditTransaction, error) {
	acct, err := s.lockAccount(ctx, driverID)
	if err != nil {
		return nil, err
	}
	txn, err := s.move(ctx, acct, entry)
	if err != nil {
		return nil, err
	}

	_, err = s.notifications.Emit(ctx, driverID, models.NotificationCreditsAdded,
		"Credits added", fmt.Sprintf("%s credits were added to your balance", entry.Amount.StringFixed(2)),
		models.JSONMap{"transaction_id": txn.ID})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// lockAccount creates the account on first use and locks it for the rest of the transaction.
func (s *creditService) lockAccount(ctx context.Context, driverID string) (*models.DriverCreditAccount, error) {
	if err := s.creditRepo.EnsureAccount(ctx, driverID); err != nil {
		return nil, apperrors.Internal("failed to open credit account", err)
	}
	acct, err := s.creditRepo.GetAccountForUpdate(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to lock credit account", err)
	}
	if acct == nil {
		return nil, apperrors.NotFound("credit account")
	}
	return acct, nil
}

// move applies entry to a locked account and appends it to the ledger.
func (s *creditService) move(ctx context.Context, acct *models.DriverCreditAccount, entry ledgerEntry) (*models.CreditTransaction, error) {
	switch {
	case entry.Type == models.CreditTypeSpend:
		next := acct.Balance.Sub(entry.Amount)
		if next.IsNegative() {
			return nil, apperrors.IntegrityFailure(apperrors.ReasonNegativeBalance,
				fmt.Sprintf("charge of %s exceeds balance of %s", entry.Amount.StringFixed(2), acct.Balance.StringFixed(2)))
		}
		acct.Balance = next
		acct.TotalSpent = acct.TotalSpent.Add(entry.Amount)
	case entry.Source == models.CreditSourceReversal:
		acct.Balance = acct.Balance.Add(entry.Amount)
		acct.TotalSpent = acct.TotalSpent.Sub(entry.Amount)
	default:
		if acct.TotalEarned.Add(entry.Amount).GreaterThan(maxMoney) {
			return nil, apperrors.Validation("credit would exceed the maximum account balance")
		}
		acct.Balance = acct.Balance.Add(entry.Amount)
		acct.TotalEarned = acct.TotalEarned.Add(entry.Amount)
	}

	ok, err := s.creditRepo.UpdateBalance(ctx, acct)
	if err != nil {
		return nil, apperrors.Internal("failed to update balance", err)
	}
	if !ok {
		return nil, apperrors.ConcurrencyConflict("credit account changed concurrently")
	}

	txn := &models.CreditTransaction{
		ID:           uuid.New().String(),
		DriverID:     acct.DriverID,
		Type:         entry.Type,
		Amount:       entry.Amount,
		BalanceAfter: acct.Balance,
		TripID:       entry.TripID,
		Source:       entry.Source,
		Description:  entry.Description,
		Metadata:     entry.Metadata,
		CreatedAt:    s.policy.now(),
	}
	if err := s.creditRepo.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.IntegrityFailure(apperrors.ReasonDuplicateCharge, "ledger entry already recorded for this trip")
		}
		return nil, apperrors.Internal("failed to append ledger entry", err)
	}

	metrics.CreditMovements.WithLabelValues(entry.Type, entry.Source).Inc()
	slog.InfoContext(ctx, "credit ledger updated",
		"driver_id", acct.DriverID, "type", entry.Type, "source", entry.Source,
		"amount", entry.Amount.String(), "balance", acct.Balance.String())
	return txn, nil
}

func (s *creditService) requireDriver(ctx context.Context, driverID string) error {
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return apperrors.Internal("failed to load driver", err)
	}
	if driver == nil {
		return apperrors.NotFound("driver")
	}
	return nil
}
