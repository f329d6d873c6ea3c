package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credit transaction types
const (
	CreditTypeSpend = "spend"
	CreditTypeAdd   = "add"
)

// Credit transaction sources
const (
	CreditSourceTripCharge = "trip_charge"
	CreditSourcePix        = "pix"
	CreditSourceAdminGrant = "admin_grant"
	CreditSourceReversal   = "reversal"
)

// PIX top-up status constants
const (
	PixStatusPending      = "pending"
	PixStatusCreditsAdded = "credits_added"
	PixStatusCancelled    = "cancelled"
)

type DriverCreditAccount struct {
	DriverID    string          `db:"driver_id" json:"driver_id"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	TotalEarned decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalSpent  decimal.Decimal `db:"total_spent" json:"total_spent"`
	Version     int             `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// CreditTransaction is an append-only ledger entry.
type CreditTransaction struct {
	ID           string          `db:"id" json:"id"`
	DriverID     string          `db:"driver_id" json:"driver_id"`
	Type         string          `db:"type" json:"type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	TripID       *string         `db:"trip_id" json:"trip_id,omitempty"`
	Source       string          `db:"source" json:"source"`
	Description  string          `db:"description" json:"description"`
	Metadata     JSONMap         `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

type PixCreditRequest struct {
	ID                string          `db:"id" json:"id"`
	DriverID          string          `db:"driver_id" json:"driver_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	CreditsToReceive  decimal.Decimal `db:"credits_to_receive" json:"credits_to_receive"`
	PixKey            string          `db:"pix_key" json:"pix_key"`
	PixKeyType        string          `db:"pix_key_type" json:"pix_key_type"`
	Status            string          `db:"status" json:"status"`
	PaymentID         *string         `db:"payment_id" json:"payment_id,omitempty"`
	QRPayload         *string         `db:"qr_payload" json:"qr_payload,omitempty"`
	ConfirmedBy       *string         `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmationNotes *string         `db:"confirmation_notes" json:"confirmation_notes,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	ResolvedAt        *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

type RequestTopUpRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	PixKey     string          `json:"pix_key" validate:"required,max=140"`
	PixKeyType string          `json:"pix_key_type" validate:"required,oneof=cpf cnpj email phone random"`
}

type ResolveTopUpRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Notes   string `json:"notes,omitempty" validate:"max=500"`
}

type GrantCreditsRequest struct {
	DriverID    string          `json:"driver_id" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=255"`
	Metadata    JSONMap         `json:"metadata,omitempty"`
}

type ReverseChargeRequest struct {
	DriverID string `json:"driver_id" validate:"required,uuid"`
	TripID   string `json:"trip_id" validate:"required,uuid"`
	Reason   string `json:"reason" validate:"required,max=255"`
}

type BalanceResponse struct {
	DriverID     string          `json:"driver_id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalEarned  decimal.Decimal `json:"total_earned"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	CostPerTrip  decimal.Decimal `json:"cost_per_trip"`
	CanBid       bool            `json:"can_bid"`
	LastUpdateAt time.Time       `json:"last_update_at"`
}

// ReconcileReport compares the stored balance with the ledger.
type ReconcileReport struct {
	DriverID      string          `json:"driver_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	TotalAdds     decimal.Decimal `json:"total_adds"`
	TotalSpends   decimal.Decimal `json:"total_spends"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Consistent    bool            `json:"consistent"`
}

func (a *DriverCreditAccount) ToResponse(costPerTrip decimal.Decimal) *BalanceResponse {
	return &BalanceResponse{
		DriverID:     a.DriverID,
		Balance:      a.Balance,
		TotalEarned:  a.TotalEarned,
		TotalSpent:   a.TotalSpent,
		CostPerTrip:  costPerTrip,
		CanBid:       a.Balance.GreaterThanOrEqual(costPerTrip),
		LastUpdateAt: a.UpdatedAt,
	}
}
