package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

// QuoteMinimumMinutes is the hard floor for duration * sessions on quotes.
const QuoteMinimumMinutes = 120

var (
	hundred       = decimal.NewFromInt(100)
	gstRate       = decimal.RequireFromString("0.10")
	urgencyFactor = decimal.RequireFromString("0.10")
)

var (
	ErrMissingBasePrice     = apperrors.NewRateDataMissing(apperrors.ReasonMissingBasePrice, "service has no base price configured")
	ErrBelowMinimumDuration = apperrors.NewPolicyViolation(apperrors.ReasonBelowMinimumDuration,
		fmt.Sprintf("bookings must total at least %d minutes", QuoteMinimumMinutes))
)

// PriceInput describes one price computation. Quote enables the quote-path
// rules: the minimum duration floor and the urgency premium.
type PriceInput struct {
	BasePrice       decimal.NullDecimal
	DurationMinutes int
	BookingTime     time.Time
	DiscountPercent decimal.Decimal
	Urgency         model.Urgency
	SessionCount    int
	Quote           bool
}

type Calculator struct {
	rules    repository.PricingRuleRepository
	services repository.ServiceRepository
	loc      *time.Location
	logger   *logger.Logger
}

func NewCalculator(rules repository.PricingRuleRepository, services repository.ServiceRepository, loc *time.Location, log *logger.Logger) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		rules:    rules,
		services: services,
		loc:      loc,
		logger:   log,
	}
}

// Location is the business timezone used for rule evaluation
func (c *Calculator) Location() *time.Location {
	return c.loc
}

func (c *Calculator) ComputePrice(ctx context.Context, in PriceInput) (*model.PriceBreakdown, error) {
	path := "booking"
	if in.Quote {
		path = "quote"
	}

	breakdown, err := c.computePrice(ctx, in)
	if err != nil {
		metrics.PriceQuotes.WithLabelValues(path, "error").Inc()
		if apperrors.HasCode(err, apperrors.ErrRateDataMissing) {
			metrics.RateDataMissing.WithLabelValues("base_price").Inc()
			c.logger.Error(err, "Pricing configuration missing")
		}
		return nil, err
	}

	metrics.PriceQuotes.WithLabelValues(path, "success").Inc()
	return breakdown, nil
}

func (c *Calculator) computePrice(ctx context.Context, in PriceInput) (*model.PriceBreakdown, error) {
	if !in.BasePrice.Valid {
		return nil, ErrMissingBasePrice
	}
	if in.BasePrice.Decimal.IsNegative() {
		return nil, apperrors.NewBadRequest("base price cannot be negative", nil)
	}
	if in.DurationMinutes <= 0 {
		return nil, apperrors.NewBadRequest("duration must be positive", nil)
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		return nil, apperrors.NewBadRequest("discount must be between 0 and 100 percent", nil)
	}
	if !in.Urgency.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown urgency %q", in.Urgency), nil)
	}

	if in.Quote {
		sessions := in.SessionCount
		if sessions < 1 {
			sessions = 1
		}
		if total := in.DurationMinutes * sessions; total < QuoteMinimumMinutes {
			return nil, ErrBelowMinimumDuration.WithDetails(map[string]interface{}{
				"total_minutes":   total,
				"minimum_minutes": QuoteMinimumMinutes,
			})
		}
	}

	rule, err := c.winningRule(ctx, in.BookingTime)
	if err != nil {
		return nil, err
	}

	premium := in.Quote && in.Urgency.HasPremium()
	breakdown := Breakdown(in.BasePrice.Decimal, rule, in.DiscountPercent, premium)
	return &breakdown, nil
}

// Quote prices a public quote request against the service's base price.
func (c *Calculator) Quote(ctx context.Context, req *model.QuoteRequest) (*model.PriceBreakdown, error) {
	svc, err := c.service(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	return c.ComputePrice(ctx, PriceInput{
		BasePrice:       svc.BasePrice,
		DurationMinutes: req.DurationMinutes,
		BookingTime:     req.BookingTime,
		DiscountPercent: decimal.NewFromFloat(req.DiscountPercent),
		Urgency:         req.Urgency,
		SessionCount:    req.SessionCount,
		Quote:           true,
	})
}

func (c *Calculator) service(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := c.services.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("service", err)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	if !svc.Active {
		return nil, apperrors.NewBadRequest("service is not available", nil)
	}
	return svc, nil
}

// UpliftFor returns the maximum matching uplift percentage for t, 0 when no rule matches.
func (c *Calculator) UpliftFor(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	rule, err := c.winningRule(ctx, t)
	if err != nil {
		return decimal.Zero, err
	}
	if rule == nil {
		return decimal.Zero, nil
	}
	return rule.UpliftPercentage, nil
}

// winningRule picks the active rule with the highest uplift covering t in
// the business timezone. Overlapping rules do not stack.
func (c *Calculator) winningRule(ctx context.Context, t time.Time) (*model.PricingRule, error) {
	rules, err := c.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}

	local := t.In(c.loc)
	var best *model.PricingRule
	for _, rule := range rules {
		ok, err := rule.Matches(local)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate pricing rule: %w", err)
		}
		if !ok {
			continue
		}
		if best == nil || rule.UpliftPercentage.GreaterThan(best.UpliftPercentage) {
			best = rule
		}
	}
	return best, nil
}

// Breakdown is the pure price arithmetic. Every component is rounded to cents.
func Breakdown(base decimal.Decimal, rule *model.PricingRule, discountPercent decimal.Decimal, urgencyPremium bool) model.PriceBreakdown {
	b := model.PriceBreakdown{
		Base:           base.Round(2),
		UpliftPercent:  decimal.Zero,
		TimeUplift:     decimal.Zero,
		WeekendUplift:  decimal.Zero,
		UrgencyPremium: decimal.Zero,
	}

	uplift := decimal.Zero
	if rule != nil {
		b.UpliftPercent = rule.UpliftPercentage
		b.UpliftLabel = rule.Label
		uplift = base.Mul(rule.UpliftPercentage).Div(hundred).Round(2)
		if rule.IsWeekend() {
			b.WeekendUplift = uplift
		} else {
			b.TimeUplift = uplift
		}
	}

	subtotal := b.Base.Add(uplift)
	if urgencyPremium {
		b.UrgencyPremium = subtotal.Mul(urgencyFactor).Round(2)
		subtotal = subtotal.Add(b.UrgencyPremium)
	}
	b.Subtotal = subtotal

	b.Discount = subtotal.Mul(discountPercent).Div(hundred).Round(2)
	afterDiscount := subtotal.Sub(b.Discount)
	b.GST = afterDiscount.Mul(gstRate).Round(2)
	b.Total = afterDiscount.Add(b.GST)
	return b
}
