package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotConfigured = errors.New("payment gateway is not configured")

// Gateway moves money for bookings. Amounts are in dollars; conversion to
// minor units happens inside each adapter.
type Gateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal, customerToken string) (string, error)
	CapturePartial(ctx context.Context, intentID string, amount decimal.Decimal) error
	CancelAuthorization(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amount decimal.Decimal) error
}

var hundred = decimal.NewFromInt(100)

// ToCents converts a dollar amount to integer cents, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Unconfigured rejects every call. Bookings without a payment intent never
// reach the gateway, so this lets the API run without provider credentials.
type Unconfigured struct{}

func (Unconfigured) Authorize(context.Context, decimal.Decimal, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) CapturePartial(context.Context, string, decimal.Decimal) error {
	return ErrNotConfigured
}

func (Unconfigured) CancelAuthorization(context.Context, string) error {
	return ErrNotConfigured
}

func (Unconfigured) Refund(context.Context, string, decimal.Decimal) error {
	return ErrNotConfigured
}
