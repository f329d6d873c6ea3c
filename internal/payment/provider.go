// Package payment talks to the external PIX rail used for credit top-ups.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Charge is what the driver needs to pay a top-up.
type Charge struct {
	PaymentID string `json:"payment_id"`
	QRPayload string `json:"qr_payload"`
}

// Provider creates payable charges. A nil charge with a nil error means the
// top-up will be confirmed manually by an admin.
type Provider interface {
	CreateCharge(ctx context.Context, amount decimal.Decimal, reference string) (*Charge, error)
}

type manualProvider struct{}

// NewManualProvider is used when no gateway is configured.
func NewManualProvider() Provider {
	return manualProvider{}
}

func (manualProvider) CreateCharge(ctx context.Context, amount decimal.Decimal, reference string) (*Charge, error) {
	return nil, nil
}
