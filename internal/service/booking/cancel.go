package booking

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jwalitptl/massage-booking/internal/model"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/token"
)

// QuoteCancellation evaluates the cancellation policy for a link token
// without moving money or changing the booking.
func (s *Service) QuoteCancellation(ctx context.Context, cancelToken string) (*model.CancellationOutcome, error) {
	b, err := s.byCancelToken(ctx, cancelToken)
	if err != nil {
		return nil, err
	}
	out, _, err := s.cancellationTerms(b)
	if err != nil {
		return nil, s.reject("cancel_quote", err)
	}
	return out, nil
}

// CancelByToken runs the client cancellation policy. Payment settlement is a
// precondition: if it fails the booking is left untouched.
func (s *Service) CancelByToken(ctx context.Context, cancelToken string) (_ *model.CancellationOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.CancelByToken")
	defer func() { endSpan(span, err) }()

	b, err := s.byCancelToken(ctx, cancelToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.code", b.BookingCode))

	out, steps, err := s.cancellationTerms(b)
	if err != nil {
		return nil, s.reject("cancel", err)
	}

	if err := s.executePlan(ctx, b, steps); err != nil {
		return nil, s.reject("cancel", ErrRefundFailed.Wrap(err).WithDetails(map[string]interface{}{
			"refund_amount":  out.RefundAmount,
			"payment_action": out.PaymentAction,
		}))
	}

	if err := recordTopUpRefunds(b, steps); err != nil {
		return nil, fmt.Errorf("failed to record top-up refunds: %w", err)
	}
	expected := b.Status
	b.Status = model.BookingStatusClientCancelled
	b.PaymentStatus = paymentStatusAfter(b, steps, out.CancellationFee)
	notes := fmt.Sprintf("cancelled by client %.1fh before appointment, %d%% refund", out.HoursUntil, out.RefundPercent)
	if err := s.commit(ctx, "cancel", b, expected, changedByCustomer, notes, nil); err != nil {
		return nil, err
	}

	s.notifyAsync(ctx, notification{
		event:   model.EventBookingCancelled,
		booking: *b,
		extra:   withRefund(out.RefundAmount, out.CancellationFee),
	})
	return out, nil
}

// CancelByAdmin closes a booking from the back office with a full refund.
func (s *Service) CancelByAdmin(ctx context.Context, id uuid.UUID, reason, changedBy string) (_ *model.CancellationOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.CancelByAdmin")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("admin_cancel", b, model.BookingStatusCancelled); err != nil {
		return nil, err
	}

	steps := settlementPlan(b, decimal.Zero)
	if err := s.executePlan(ctx, b, steps); err != nil {
		return nil, s.reject("admin_cancel", ErrRefundFailed.Wrap(err))
	}
	if err := recordTopUpRefunds(b, steps); err != nil {
		return nil, fmt.Errorf("failed to record top-up refunds: %w", err)
	}

	out := &model.CancellationOutcome{
		BookingCode:     b.BookingCode,
		HoursUntil:      roundHours(b.HoursUntil(s.now())),
		RefundPercent:   100,
		RefundAmount:    b.Price,
		CancellationFee: decimal.Zero,
		PaymentAction:   describePlan(steps),
		Status:          model.BookingStatusCancelled,
	}

	expected := b.Status
	b.Status = model.BookingStatusCancelled
	b.PaymentStatus = paymentStatusAfter(b, steps, decimal.Zero)
	if err := s.commit(ctx, "admin_cancel", b, expected, changedBy, reason, nil); err != nil {
		return nil, err
	}

	s.notifyAsync(ctx, notification{
		event:   model.EventBookingCancelled,
		booking: *b,
		extra: func(p *model.NotificationPayload) {
			withRefund(out.RefundAmount, out.CancellationFee)(p)
			p.Reason = reason
		},
	})
	return out, nil
}

// cancellationTerms applies the refund step function to b at the current time.
func (s *Service) cancellationTerms(b *model.Booking) (*model.CancellationOutcome, []paymentStep, error) {
	if b.Status.IsTerminal() {
		return nil, nil, ErrAlreadyClosed.WithDetails(map[string]interface{}{"status": b.Status})
	}
	if !model.CanTransition(b.Status, model.BookingStatusClientCancelled) {
		return nil, nil, ErrInvalidTransition.WithDetails(map[string]interface{}{
			"from": b.Status,
			"to":   model.BookingStatusClientCancelled,
		})
	}

	hours := b.HoursUntil(s.now())
	percent, ok := RefundPercent(hours)
	if !ok {
		return nil, nil, ErrCancellationWindowClosed.WithDetails(map[string]interface{}{
			"hours_until":   roundHours(hours),
			"minimum_hours": CancellationCutoffHours,
		})
	}

	refund, fee := SplitRefund(b.Price, percent)
	steps := settlementPlan(b, fee)
	return &model.CancellationOutcome{
		BookingCode:     b.BookingCode,
		HoursUntil:      roundHours(hours),
		RefundPercent:   percent,
		RefundAmount:    refund,
		CancellationFee: fee,
		PaymentAction:   describePlan(steps),
		Status:          model.BookingStatusClientCancelled,
	}, steps, nil
}

func (s *Service) byCancelToken(ctx context.Context, raw string) (*model.Booking, error) {
	if err := token.Validate(raw); err != nil {
		return nil, apperrors.NewNotFound("booking", err)
	}
	b, err := s.bookings.GetByCancelToken(ctx, token.Hash(raw))
	if err != nil {
		return nil, notFound(err, "failed to get booking by cancel token")
	}
	return b, nil
}

func (s *Service) byRescheduleToken(ctx context.Context, raw string) (*model.Booking, error) {
	if err := token.Validate(raw); err != nil {
		return nil, apperrors.NewNotFound("booking", err)
	}
	b, err := s.bookings.GetByRescheduleToken(ctx, token.Hash(raw))
	if err != nil {
		return nil, notFound(err, "failed to get booking by reschedule token")
	}
	return b, nil
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
