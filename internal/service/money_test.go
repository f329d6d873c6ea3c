package service

import (
	"testing"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount  string
		wantErr bool
	}{
		{"0.01", false},
		{"180", false},
		{"180.50", false},
		{"180.500", false},
		{"9999999999.99", false},
		{"0", true},
		{"-10.00", true},
		{"0.001", true},
		{"10.005", true},
		{"10000000000", true},
		{"9999999999.995", true},
		{"1e12", true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := validateAmount("amount", decimal.RequireFromString(tt.amount))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			requireKind(t, err, apperrors.KindValidation, "")
		})
	}
}
