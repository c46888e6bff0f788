package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jwalitptl/massage-booking/internal/model"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
)

// reschedulePlan is a validated reschedule not yet applied.
type reschedulePlan struct {
	outcome     *model.RescheduleOutcome
	therapistID *uuid.UUID
}

// QuoteReschedule previews the price and fee for moving the booking.
func (s *Service) QuoteReschedule(ctx context.Context, rescheduleToken string, req *model.RescheduleRequest) (*model.RescheduleOutcome, error) {
	b, err := s.byRescheduleToken(ctx, rescheduleToken)
	if err != nil {
		return nil, err
	}
	plan, err := s.planReschedule(ctx, b, req)
	if err != nil {
		return nil, s.reject("reschedule_quote", err)
	}
	return plan.outcome, nil
}

// RescheduleByToken moves a booking to a new slot. The client pays only the
// uplift difference, captured from a pre-authorized intent before commit.
// The booking always returns to pending for therapist re-confirmation.
func (s *Service) RescheduleByToken(ctx context.Context, rescheduleToken string, req *model.RescheduleRequest) (_ *model.RescheduleOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.RescheduleByToken")
	defer func() { endSpan(span, err) }()

	b, err := s.byRescheduleToken(ctx, rescheduleToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.code", b.BookingCode))

	plan, err := s.planReschedule(ctx, b, req)
	if err != nil {
		return nil, s.reject("reschedule", err)
	}
	out := plan.outcome

	if out.PriceDifference.IsPositive() {
		if req.AdditionalPaymentIntentID == "" {
			return nil, s.reject("reschedule", ErrPaymentRequired.WithDetails(map[string]interface{}{
				"price_difference": out.PriceDifference,
				"new_price":        out.NewPrice,
			}))
		}
		if err := s.gateway.CapturePartial(ctx, req.AdditionalPaymentIntentID, out.PriceDifference); err != nil {
			return nil, s.reject("reschedule", ErrCaptureFailed.Wrap(err))
		}
	}

	previousTime := b.BookingTime
	originalPrice := b.Price
	expected := b.Status

	b.OriginalBookingTime = &previousTime
	b.OriginalTherapistID = b.TherapistID
	b.OriginalClientFee = decimal.NewNullDecimal(originalPrice)

	b.BookingTime = req.NewBookingTime
	b.TherapistID = plan.therapistID
	b.Price = out.NewPrice
	b.TherapistFee = out.TherapistFee
	b.RescheduleCount++
	b.Status = model.BookingStatusPending
	if out.PriceDifference.IsPositive() {
		b.TopUps = b.TopUps.Add(req.AdditionalPaymentIntentID, out.PriceDifference, s.now())
		b.TaxAmount = gstIncluded(b.Price)
	}

	notes := fmt.Sprintf("rescheduled from %s, difference %s",
		previousTime.In(s.cfg.Location).Format(localTimeLayout), out.PriceDifference.StringFixed(2))
	if err := s.commit(ctx, "reschedule", b, expected, changedByCustomer, notes, nil); err != nil {
		if out.PriceDifference.IsPositive() {
			s.refundUncommittedTopUp(ctx, b.BookingCode, req.AdditionalPaymentIntentID, out.PriceDifference)
		}
		return nil, err
	}

	out.RescheduleCount = b.RescheduleCount
	s.notifyAsync(ctx, notification{
		event:   model.EventRescheduleRequested,
		booking: *b,
		extra: func(p *model.NotificationPayload) {
			diff := out.PriceDifference
			p.PriceDifference = &diff
		},
	})
	return out, nil
}

// RevertReschedule restores the slot saved by the last reschedule, for when
// the new slot could not be staffed. A top-up charged for it is refunded
// first. The reschedule still counts against the limit.
func (s *Service) RevertReschedule(ctx context.Context, id uuid.UUID, changedBy string) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.RevertReschedule")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("revert_reschedule", b, model.BookingStatusConfirmed); err != nil {
		return nil, err
	}
	if b.OriginalBookingTime == nil || !b.OriginalClientFee.Valid {
		return nil, apperrors.NewBadRequest("booking has no reschedule to revert", nil)
	}

	restoredPrice := b.OriginalClientFee.Decimal
	if topUp := b.Price.Sub(restoredPrice); topUp.IsPositive() {
		steps := refundTopUps(nil, b.TopUps, topUp)
		if err := s.executePlan(ctx, b, steps); err != nil {
			return nil, s.reject("revert_reschedule", ErrRefundFailed.Wrap(err))
		}
		if err := recordTopUpRefunds(b, steps); err != nil {
			return nil, fmt.Errorf("failed to record top-up refunds: %w", err)
		}
		b.TaxAmount = gstIncluded(restoredPrice)
	}

	fee := decimal.Zero
	if b.OriginalTherapistID != nil {
		fb, err := s.fees.ComputeFee(ctx, *b.OriginalTherapistID, b.ServiceID, *b.OriginalBookingTime, b.DurationMinutes)
		if err != nil {
			return nil, err
		}
		fee = fb.Fee
	}

	expected := b.Status
	b.BookingTime = *b.OriginalBookingTime
	b.TherapistID = b.OriginalTherapistID
	b.Price = restoredPrice
	b.TherapistFee = fee
	b.OriginalBookingTime = nil
	b.OriginalTherapistID = nil
	b.OriginalClientFee = decimal.NullDecimal{}
	b.Status = model.BookingStatusConfirmed

	if err := s.commit(ctx, "revert_reschedule", b, expected, changedBy, "reschedule reverted", nil); err != nil {
		return nil, err
	}
	return b, nil
}

// refundUncommittedTopUp returns a difference captured for a reschedule
// that was never stored. Failure is logged; the capture needs manual review.
func (s *Service) refundUncommittedTopUp(ctx context.Context, code, intentID string, amount decimal.Decimal) {
	if err := s.gateway.Refund(context.WithoutCancel(ctx), intentID, amount); err != nil {
		s.logger.Error(err, "Failed to refund top-up for uncommitted reschedule",
			"booking_id", code,
			"intent_id", intentID,
			"amount", amount.StringFixed(2))
		return
	}
	s.logger.Warn("Refunded top-up for uncommitted reschedule",
		"booking_id", code,
		"intent_id", intentID,
		"amount", amount.StringFixed(2))
}

func (s *Service) planReschedule(ctx context.Context, b *model.Booking, req *model.RescheduleRequest) (*reschedulePlan, error) {
	if b.RescheduleCount >= model.MaxReschedules {
		return nil, ErrRescheduleLimitReached.WithDetails(map[string]interface{}{
			"reschedule_count": b.RescheduleCount,
			"max_reschedules":  model.MaxReschedules,
		})
	}
	if b.Status.IsTerminal() {
		return nil, ErrAlreadyClosed.WithDetails(map[string]interface{}{"status": b.Status})
	}
	if !model.CanTransition(b.Status, model.BookingStatusPending) {
		return nil, ErrInvalidTransition.WithDetails(map[string]interface{}{
			"from": b.Status,
			"to":   model.BookingStatusPending,
		})
	}

	now := s.now()
	if hours := b.HoursUntil(now); hours < RescheduleCutoffHours {
		return nil, ErrRescheduleWindowClosed.WithDetails(map[string]interface{}{
			"hours_until":   roundHours(hours),
			"minimum_hours": RescheduleCutoffHours,
		})
	}
	if !req.NewBookingTime.After(now) {
		return nil, apperrors.NewBadRequest("new booking time must be in the future", nil)
	}

	therapistID := b.TherapistID
	if req.NewTherapistID != nil {
		if _, err := s.loadTherapist(ctx, *req.NewTherapistID); err != nil {
			return nil, err
		}
		id := *req.NewTherapistID
		therapistID = &id
	}

	originalUplift, err := s.pricing.UpliftFor(ctx, b.BookingTime)
	if err != nil {
		return nil, err
	}
	newUplift, err := s.pricing.UpliftFor(ctx, req.NewBookingTime)
	if err != nil {
		return nil, err
	}
	newPrice, diff := RepriceForUplift(b.Price, originalUplift, newUplift)

	fee := decimal.Zero
	if therapistID != nil {
		fb, err := s.fees.ComputeFee(ctx, *therapistID, b.ServiceID, req.NewBookingTime, b.DurationMinutes)
		if err != nil {
			return nil, err
		}
		fee = fb.Fee
	}

	return &reschedulePlan{
		outcome: &model.RescheduleOutcome{
			BookingCode:     b.BookingCode,
			OriginalUplift:  originalUplift,
			NewUplift:       newUplift,
			OriginalPrice:   b.Price,
			NewPrice:        newPrice,
			PriceDifference: diff,
			TherapistFee:    fee,
			RescheduleCount: b.RescheduleCount,
			NewBookingTime:  req.NewBookingTime,
			Status:          model.BookingStatusPending,
		},
		therapistID: therapistID,
	}, nil
}
