package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripePixProvider creates PaymentIntents restricted to the pix method.
type StripePixProvider struct {
	client   *paymentintent.Client
	currency string
}

func NewStripePixProvider(apiKey, currency string) *StripePixProvider {
	return NewStripePixProviderWithBackend(apiKey, currency, stripe.GetBackend(stripe.APIBackend))
}

func NewStripePixProviderWithBackend(apiKey, currency string, backend stripe.Backend) *StripePixProvider {
	return &StripePixProvider{
		client:   &paymentintent.Client{B: backend, Key: apiKey},
		currency: currency,
	}
}

func (p *StripePixProvider) CreateCharge(ctx context.Context, amount decimal.Decimal, reference string) (*Charge, error) {
	minor, err := toMinorUnits(amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minor),
		Currency:           stripe.String(p.currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		Description:        stripe.String("Driver credit top-up"),
	}
	params.Context = ctx
	params.AddMetadata("reference", reference)
	params.SetIdempotencyKey("topup-" + reference)

	pi, err := p.client.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Charge{PaymentID: pi.ID, QRPayload: pi.ClientSecret}, nil
}

// toMinorUnits converts a currency amount to cents, rejecting fractions of a cent.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount)
	}
	if !cents.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive", amount)
	}
	return cents.IntPart(), nil
}
