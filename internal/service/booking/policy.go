package booking

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
)

const (
	// CancellationCutoffHours is the minimum notice for a client cancellation.
	CancellationCutoffHours = 3.0
	// FullRefundAfterHours: notice strictly above this refunds everything.
	FullRefundAfterHours = 12.0
	// RescheduleCutoffHours is the minimum notice for a client reschedule.
	RescheduleCutoffHours = 3.0
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	sixty   = decimal.NewFromInt(60)
	gstPart = decimal.NewFromInt(11)
)

var (
	ErrAlreadyClosed = apperrors.NewPolicyViolation(apperrors.ReasonAlreadyClosed,
		"booking is already closed")
	ErrInvalidTransition = apperrors.NewPolicyViolation(apperrors.ReasonInvalidTransition,
		"booking cannot move to the requested status")
	ErrCancellationWindowClosed = apperrors.NewPolicyViolation(apperrors.ReasonCancellationWindowClosed,
		"bookings cannot be cancelled less than 3 hours before the appointment")
	ErrRescheduleLimitReached = apperrors.NewPolicyViolation(apperrors.ReasonRescheduleLimitReached,
		"booking has already been rescheduled the maximum number of times")
	ErrRescheduleWindowClosed = apperrors.NewPolicyViolation(apperrors.ReasonRescheduleWindowClosed,
		"bookings cannot be rescheduled less than 3 hours before the appointment")
	ErrPaymentRequired = &apperrors.AppError{
		Code:    apperrors.ErrBadRequest,
		Reason:  apperrors.ReasonPaymentRequired,
		Message: "the new time costs more; authorize the price difference first",
	}
	ErrRefundFailed  = apperrors.NewGateway(apperrors.ReasonRefundFailed, nil)
	ErrCaptureFailed = apperrors.NewGateway(apperrors.ReasonCaptureFailed, nil)
	ErrReleaseFailed = apperrors.NewGateway(apperrors.ReasonReleaseFailed, nil)
)

// RefundPercent is the client cancellation step function. ok is false inside
// the cutoff, where cancelling is not allowed at all.
func RefundPercent(hoursUntil float64) (percent int, ok bool) {
	switch {
	case hoursUntil < CancellationCutoffHours:
		return 0, false
	case hoursUntil <= FullRefundAfterHours:
		return 50, true
	default:
		return 100, true
	}
}

// SplitRefund divides price into the refunded part and the retained fee.
// refund + fee == price always holds.
func SplitRefund(price decimal.Decimal, percent int) (refund, fee decimal.Decimal) {
	refund = price.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
	return refund, price.Sub(refund)
}

// RepriceForUplift applies only the uplift difference between two slots.
// Moving to a slot with an equal or lower uplift never changes the price.
func RepriceForUplift(originalPrice, originalUplift, newUplift decimal.Decimal) (newPrice, difference decimal.Decimal) {
	if newUplift.LessThanOrEqual(originalUplift) {
		return originalPrice, decimal.Zero
	}
	base := originalPrice.Div(one.Add(originalUplift.Div(hundred)))
	newPrice = base.Mul(one.Add(newUplift.Div(hundred))).Round(2)
	return newPrice, newPrice.Sub(originalPrice)
}

// HoursWorked converts a duration to hours with two decimals.
func HoursWorked(durationMinutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(durationMinutes)).Div(sixty).Round(2)
}

// gstIncluded is the GST component of a GST-inclusive total.
func gstIncluded(total decimal.Decimal) decimal.Decimal {
	return total.Div(gstPart).Round(2)
}

type stepKind string

const (
	stepRelease stepKind = "release_authorization"
	stepCapture stepKind = "capture_partial"
	stepRefund  stepKind = "refund"
)

type paymentStep struct {
	kind     stepKind
	intentID string
	amount   decimal.Decimal
}

// settlementPlan lists the gateway calls that leave the client charged
// exactly `charge` for the booking. The primary intent holds PrimaryAmount
// (authorized or captured); each reschedule top-up is always captured.
func settlementPlan(b *model.Booking, charge decimal.Decimal) []paymentStep {
	var steps []paymentStep
	extra := b.TopUps.Held()

	primaryHeld := b.HasPaymentIntent() &&
		(b.PaymentStatus == model.PaymentStatusAuthorized || b.PaymentStatus == model.PaymentStatusPaid)

	if !primaryHeld {
		return refundTopUps(steps, b.TopUps, extra.Sub(charge))
	}

	primary := *b.PaymentIntentID
	switch b.PaymentStatus {
	case model.PaymentStatusAuthorized:
		if charge.GreaterThanOrEqual(extra) {
			if fromPrimary := charge.Sub(extra); fromPrimary.IsPositive() {
				steps = append(steps, paymentStep{stepCapture, primary, fromPrimary})
			} else {
				steps = append(steps, paymentStep{stepRelease, primary, decimal.Zero})
			}
		} else {
			steps = append(steps, paymentStep{stepRelease, primary, decimal.Zero})
			steps = refundTopUps(steps, b.TopUps, extra.Sub(charge))
		}
	case model.PaymentStatusPaid:
		refundTotal := b.Price.Sub(charge)
		fromPrimary := decimal.Min(refundTotal, b.PrimaryAmount())
		if fromPrimary.IsPositive() {
			steps = append(steps, paymentStep{stepRefund, primary, fromPrimary})
		}
		steps = refundTopUps(steps, b.TopUps, refundTotal.Sub(fromPrimary))
	}
	return steps
}

// refundTopUps appends refunds totalling amount, newest top-up first. No
// step asks an intent for more than it still holds.
func refundTopUps(steps []paymentStep, tops model.TopUps, amount decimal.Decimal) []paymentStep {
	for i := len(tops) - 1; i >= 0 && amount.IsPositive(); i-- {
		part := decimal.Min(amount, tops[i].Held())
		if !part.IsPositive() {
			continue
		}
		steps = append(steps, paymentStep{stepRefund, tops[i].IntentID, part})
		amount = amount.Sub(part)
	}
	return steps
}

// recordTopUpRefunds marks executed refund steps against the top-ups they
// drew from. Refunds on the primary intent are not tracked per intent.
func recordTopUpRefunds(b *model.Booking, steps []paymentStep) error {
	primary := ""
	if b.PaymentIntentID != nil {
		primary = *b.PaymentIntentID
	}
	for _, st := range steps {
		if st.kind != stepRefund || st.intentID == primary {
			continue
		}
		if err := b.TopUps.RecordRefund(st.intentID, st.amount); err != nil {
			return err
		}
	}
	return nil
}

func describePlan(steps []paymentStep) string {
	if len(steps) == 0 {
		return "none"
	}
	kinds := make([]string, len(steps))
	for i, st := range steps {
		kinds[i] = string(st.kind)
	}
	return strings.Join(kinds, "+")
}

// paymentStatusAfter is the payment status once a plan leaving `charge` has run.
func paymentStatusAfter(b *model.Booking, steps []paymentStep, charge decimal.Decimal) model.PaymentStatus {
	if len(steps) == 0 {
		return b.PaymentStatus
	}
	if charge.IsZero() {
		return model.PaymentStatusRefunded
	}
	return model.PaymentStatusPartialRefund
}
