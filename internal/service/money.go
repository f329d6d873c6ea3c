package service

import (
	"fmt"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/shopspring/decimal"
)

// Money columns are NUMERIC(12,2).
const moneyPlaces = 2

var maxMoney = decimal.RequireFromString("9999999999.99")

// validateAmount rejects a client-supplied amount the money columns cannot
// store exactly. Trailing zeros beyond two places are accepted.
func validateAmount(field string, amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return apperrors.Validation(field + " must be greater than zero")
	case !amount.Equal(amount.Truncate(moneyPlaces)):
		return apperrors.Validation(fmt.Sprintf("%s must have at most %d decimal places", field, moneyPlaces))
	case amount.GreaterThan(maxMoney):
		return apperrors.Validation(fmt.Sprintf("%s must not exceed %s", field, maxMoney.StringFixed(moneyPlaces)))
	}
	return nil
}
