package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/jwalitptl/massage-booking/pkg/circuitbreaker"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

const (
	opAuthorize = "authorize"
	opCapture   = "capture"
	opCancel    = "cancel_authorization"
	opRefund    = "refund"
)

type StripeConfig struct {
	SecretKey string
	Currency  string
	Breaker   circuitbreaker.Settings
}

type StripeGateway struct {
	api      *client.API
	currency string
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
}

func NewStripeGateway(cfg StripeConfig, log *logger.Logger) *StripeGateway {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyAUD)
	}

	settings := cfg.Breaker
	if settings.Name == "" {
		settings.Name = "stripe"
	}
	// Card declines are the customer's problem, not Stripe's.
	settings.IsSuccessful = func(err error) bool {
		return err == nil || isCardError(err)
	}

	return &StripeGateway{
		api:      client.New(cfg.SecretKey, nil),
		currency: currency,
		breaker:  circuitbreaker.NewCircuitBreaker(settings),
		logger:   log,
	}
}

// Authorize places a manual-capture hold on the customer's payment method.
func (g *StripeGateway) Authorize(ctx context.Context, amount decimal.Decimal, customerToken string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(ToCents(amount)),
		Currency:      stripe.String(g.currency),
		PaymentMethod: stripe.String(customerToken),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
		Enabled:        stripe.Bool(true),
		AllowRedirects: stripe.String("never"),
	}
	params.Context = ctx

	var intentID string
	err := g.do(opAuthorize, func() error {
		pi, err := g.api.PaymentIntents.New(params)
		if err != nil {
			return err
		}
		if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
			return fmt.Errorf("unexpected payment intent status %q", pi.Status)
		}
		intentID = pi.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return intentID, nil
}

func (g *StripeGateway) CapturePartial(ctx context.Context, intentID string, amount decimal.Decimal) error {
	cents := ToCents(amount)
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(cents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(opCapture, intentID, cents))

	return g.do(opCapture, func() error {
		_, err := g.api.PaymentIntents.Capture(intentID, params)
		return err
	})
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(opCancel, intentID, 0))

	return g.do(opCancel, func() error {
		_, err := g.api.PaymentIntents.Cancel(intentID, params)
		return err
	})
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amount decimal.Decimal) error {
	cents := ToCents(amount)
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(cents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(opRefund, intentID, cents))

	return g.do(opRefund, func() error {
		_, err := g.api.Refunds.New(params)
		return err
	})
}

func (g *StripeGateway) do(op string, fn func() error) error {
	start := time.Now()
	err := g.breaker.Execute(fn)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GatewayOperations.WithLabelValues(op, "error").Inc()
		g.logger.Error(err, "Stripe call failed", "operation", op)
		return fmt.Errorf("stripe %s: %w", op, err)
	}
	metrics.GatewayOperations.WithLabelValues(op, "success").Inc()
	return nil
}

// IdempotencyKey is deterministic per operation, intent and amount so a
// replayed request cannot move money twice.
func IdempotencyKey(op, intentID string, cents int64) string {
	return fmt.Sprintf("booking:%s:%s:%d", op, intentID, cents)
}

func isCardError(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard
}
