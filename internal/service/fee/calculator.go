package fee

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

const (
	sourceService = "service"
	sourceProfile = "profile"
)

var (
	sixty = decimal.NewFromInt(60)

	ErrMissingRateCard = apperrors.NewRateDataMissing(apperrors.ReasonMissingRateCard, "therapist has no rate card configured")
)

// BusinessHours bounds the daytime rate window, [Open, Close) in local hours.
type BusinessHours struct {
	Open  int
	Close int
}

type Calculator struct {
	cards  repository.RateCardRepository
	loc    *time.Location
	hours  BusinessHours
	logger *logger.Logger
}

func NewCalculator(cards repository.RateCardRepository, loc *time.Location, hours BusinessHours, log *logger.Logger) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		cards:  cards,
		loc:    loc,
		hours:  hours,
		logger: log,
	}
}

// Classify buckets t into weekend, afterhours or daytime. Weekend is checked first.
func (c *Calculator) Classify(t time.Time) model.RateType {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return model.RateTypeWeekend
	}
	if h := local.Hour(); h < c.hours.Open || h >= c.hours.Close {
		return model.RateTypeAfterHours
	}
	return model.RateTypeDaytime
}

// ComputeFee prices the therapist payout for one booking slot.
func (c *Calculator) ComputeFee(ctx context.Context, therapistID, serviceID uuid.UUID, bookingTime time.Time, durationMinutes int) (*model.FeeBreakdown, error) {
	if durationMinutes <= 0 {
		return nil, apperrors.NewBadRequest("duration must be positive", nil)
	}

	card, source, err := c.rateCard(ctx, therapistID, serviceID)
	if err != nil {
		return nil, err
	}

	rateType := c.Classify(bookingTime)
	rate := card.NormalRate
	if rateType != model.RateTypeDaytime {
		rate = card.AfterHoursRate
	}
	if !rate.Valid || !rate.Decimal.IsPositive() {
		metrics.RateDataMissing.WithLabelValues("rate_card").Inc()
		err := ErrMissingRateCard.WithDetails(map[string]interface{}{
			"therapist_id": therapistID,
			"rate_type":    rateType,
			"rate_source":  source,
		})
		c.logger.Error(err, "Rate card has no usable rate",
			"therapist_id", therapistID.String(),
			"service_id", serviceID.String(),
			"rate_type", string(rateType))
		return nil, err
	}

	return &model.FeeBreakdown{
		Fee:            Amount(durationMinutes, rate.Decimal),
		HourlyRateUsed: rate.Decimal,
		RateType:       rateType,
		RateSource:     source,
	}, nil
}

// Amount is round2(minutes/60 * hourlyRate).
func Amount(durationMinutes int, hourlyRate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(durationMinutes)).Mul(hourlyRate).Div(sixty).Round(2)
}

// rateCard prefers the service-specific card and falls back to the profile card.
func (c *Calculator) rateCard(ctx context.Context, therapistID, serviceID uuid.UUID) (*model.TherapistRateCard, string, error) {
	card, err := c.cards.GetRateCard(ctx, therapistID, &serviceID)
	if err == nil {
		return card, sourceService, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to get service rate card: %w", err)
	}

	card, err = c.cards.GetRateCard(ctx, therapistID, nil)
	if err == nil {
		return card, sourceProfile, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to get profile rate card: %w", err)
	}

	metrics.RateDataMissing.WithLabelValues("rate_card").Inc()
	c.logger.Error(err, "No rate card for therapist",
		"therapist_id", therapistID.String(),
		"service_id", serviceID.String())
	return nil, "", ErrMissingRateCard.WithDetails(map[string]interface{}{
		"therapist_id": therapistID,
		"service_id":   serviceID,
	})
}
