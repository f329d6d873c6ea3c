package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid status constants
const (
	BidStatusPending   = "pending"
	BidStatusAccepted  = "accepted"
	BidStatusRejected  = "rejected"
	BidStatusExpired   = "expired"
	BidStatusWithdrawn = "withdrawn"
)

type Bid struct {
	ID            string          `db:"id" json:"id"`
	TripRequestID string          `db:"trip_request_id" json:"trip_request_id"`
	DriverID      string          `db:"driver_id" json:"driver_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	EtaMinutes    int             `db:"eta_minutes" json:"eta_minutes"`
	Message       *string         `db:"message" json:"message,omitempty"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time       `db:"expires_at" json:"expires_at"`
	RespondedAt   *time.Time      `db:"responded_at" json:"responded_at,omitempty"`
}

type PlaceBidRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	EtaMinutes int             `json:"eta_minutes" validate:"required,min=1,max=600"`
	Message    string          `json:"message,omitempty" validate:"max=500"`
}

type BidResponse struct {
	ID            string          `json:"id"`
	TripRequestID string          `json:"trip_request_id"`
	DriverID      string          `json:"driver_id"`
	Amount        decimal.Decimal `json:"amount"`
	EtaMinutes    int             `json:"eta_minutes"`
	Message       *string         `json:"message,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

func (b *Bid) IsExpiredAt(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// IsOpenAt reports whether the bid can still be accepted at now.
func (b *Bid) IsOpenAt(now time.Time) bool {
	return b.Status == BidStatusPending && !b.IsExpiredAt(now)
}

func (b *Bid) ToResponse() *BidResponse {
	return &BidResponse{
		ID:            b.ID,
		TripRequestID: b.TripRequestID,
		DriverID:      b.DriverID,
		Amount:        b.Amount,
		EtaMinutes:    b.EtaMinutes,
		Message:       b.Message,
		Status:        b.Status,
		CreatedAt:     b.CreatedAt,
		ExpiresAt:     b.ExpiresAt,
	}
}
