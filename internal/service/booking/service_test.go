package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/service/pricing"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/token"
)

// Monday 2025-10-06 09:00 UTC.
var testNow = time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *Service
	bookings   *memBookings
	gateway    *MockGateway
	notifier   *recordingNotifier
	serviceID  uuid.UUID
	therapist  *model.Therapist
	therapist2 *model.Therapist
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	serviceID := uuid.New()
	th := &model.Therapist{Base: model.Base{ID: uuid.New()}, FirstName: "Ana", LastName: "Lee", Email: "ana@example.com", Active: true}
	th2 := &model.Therapist{Base: model.Base{ID: uuid.New()}, FirstName: "Ben", Email: "ben@example.com", Active: true}

	services := memServices{serviceID: {
		Base: model.Base{ID: serviceID}, Name: "Relaxation", Active: true,
		BasePrice: decimal.NewNullDecimal(decimal.NewFromInt(100)), MinDurationMinutes: 60,
	}}
	therapists := memTherapists{th.ID: th, th2.ID: th2}
	rules := memRules{{
		ID: uuid.New(), DayOfWeek: int(time.Saturday), StartTime: "08:00", EndTime: "18:00",
		UpliftPercentage: decimal.NewFromInt(25), Label: "Weekend", Active: true,
	}, {
		ID: uuid.New(), DayOfWeek: int(time.Friday), StartTime: "08:00", EndTime: "18:00",
		UpliftPercentage: decimal.NewFromInt(10), Label: "Friday", Active: true,
	}}

	f := &fixture{
		bookings:   newMemBookings(),
		gateway:    new(MockGateway),
		notifier:   &recordingNotifier{},
		serviceID:  serviceID,
		therapist:  th,
		therapist2: th2,
	}
	prices := pricing.NewCalculator(rules, services, time.UTC, logger.Nop())
	f.svc = NewService(f.bookings, services, therapists, prices, flatFees{rate: decimal.NewFromInt(60)},
		f.gateway, f.notifier, Config{Location: time.UTC, CodePrefix: "RB", ResponseWindow: time.Hour},
		logger.Nop(), WithClock(func() time.Time { return testNow }))
	return f
}

// seed stores a booking and returns it with its plaintext link tokens.
func (f *fixture) seed(t *testing.T, mutate func(b *model.Booking)) (*model.Booking, string, string) {
	t.Helper()
	pair, err := token.NewPair()
	require.NoError(t, err)

	therapistID := f.therapist.ID
	b := &model.Booking{
		Base:                model.Base{ID: uuid.New(), CreatedAt: testNow, UpdatedAt: testNow},
		BookingCode:         "RB2510001",
		CustomerID:          uuid.New(),
		CustomerName:        "Client",
		CustomerEmail:       "client@example.com",
		TherapistID:         &therapistID,
		ServiceID:           f.serviceID,
		BookingTime:         testNow.Add(48 * time.Hour),
		DurationMinutes:     60,
		Status:              model.BookingStatusConfirmed,
		Price:               decimal.NewFromInt(200),
		TherapistFee:        decimal.NewFromInt(60),
		PaymentStatus:       model.PaymentStatusPending,
		CancelTokenHash:     token.Hash(pair.Cancel),
		RescheduleTokenHash: token.Hash(pair.Reschedule),
	}
	if mutate != nil {
		mutate(b)
	}
	f.bookings.put(b)
	return b, pair.Cancel, pair.Reschedule
}

func withIntent(status model.PaymentStatus) func(*model.Booking) {
	return func(b *model.Booking) {
		id := "pi_primary"
		b.PaymentIntentID = &id
		b.PaymentStatus = status
	}
}

func compose(fns ...func(*model.Booking)) func(*model.Booking) {
	return func(b *model.Booking) {
		for _, fn := range fns {
			fn(b)
		}
	}
}

func hoursAhead(h float64) func(*model.Booking) {
	return func(b *model.Booking) {
		b.BookingTime = testNow.Add(time.Duration(h * float64(time.Hour)))
	}
}

func assertReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, reason, appErr.Reason)
}

func TestCancelSixHoursBeforeCapturesHalf(t *testing.T) {
	f := newFixture(t)
	b, cancelTok, _ := f.seed(t, compose(hoursAhead(6), withIntent(model.PaymentStatusAuthorized)))
	f.gateway.On("CapturePartial", mock.Anything, "pi_primary", amount("100")).Return(nil).Once()

	out, err := f.svc.CancelByToken(context.Background(), cancelTok)
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, 50, out.RefundPercent)
	assert.True(t, decimal.NewFromInt(100).Equal(out.RefundAmount))
	assert.True(t, decimal.NewFromInt(100).Equal(out.CancellationFee))
	assert.Equal(t, "capture_partial", out.PaymentAction)

	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, model.BookingStatusClientCancelled, stored.Status)
	assert.Equal(t, model.PaymentStatusPartialRefund, stored.PaymentStatus)

	history, _ := f.bookings.History(context.Background(), b.ID)
	require.Len(t, history, 1)
	assert.Equal(t, model.BookingStatusConfirmed, history[0].FromStatus)
	assert.Equal(t, model.BookingStatusClientCancelled, history[0].Status)

	assert.Equal(t, []model.NotificationEventType{model.EventBookingCancelled}, f.notifier.events())
	payload := f.notifier.sent[0].payload
	require.NotNil(t, payload.RefundAmount)
	assert.True(t, decimal.NewFromInt(100).Equal(*payload.RefundAmount))
	assert.Equal(t, "Ana Lee", payload.TherapistName)
	assert.Equal(t, "Relaxation", payload.ServiceName)
	f.gateway.AssertExpectations(t)
}

func TestCancelPaymentActions(t *testing.T) {
	tests := []struct {
		name    string
		hours   float64
		mutate  func(*model.Booking)
		setup   func(*MockGateway)
		action  string
		payment model.PaymentStatus
	}{
		{
			name:   "authorized full refund releases the hold",
			hours:  24,
			mutate: withIntent(model.PaymentStatusAuthorized),
			setup: func(g *MockGateway) {
				g.On("CancelAuthorization", mock.Anything, "pi_primary").Return(nil).Once()
			},
			action:  "release_authorization",
			payment: model.PaymentStatusRefunded,
		},
		{
			name:   "captured payment is refunded",
			hours:  24,
			mutate: withIntent(model.PaymentStatusPaid),
			setup: func(g *MockGateway) {
				g.On("Refund", mock.Anything, "pi_primary", amount("200")).Return(nil).Once()
			},
			action:  "refund",
			payment: model.PaymentStatusRefunded,
		},
		{
			name:   "captured payment refunded by half",
			hours:  12,
			mutate: withIntent(model.PaymentStatusPaid),
			setup: func(g *MockGateway) {
				g.On("Refund", mock.Anything, "pi_primary", amount("100")).Return(nil).Once()
			},
			action:  "refund",
			payment: model.PaymentStatusPartialRefund,
		},
		{
			name:    "no payment intent is skipped",
			hours:   24,
			mutate:  func(*model.Booking) {},
			setup:   func(*MockGateway) {},
			action:  "none",
			payment: model.PaymentStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b, cancelTok, _ := f.seed(t, compose(hoursAhead(tt.hours), tt.mutate))
			tt.setup(f.gateway)

			out, err := f.svc.CancelByToken(context.Background(), cancelTok)
			require.NoError(t, err)
			f.svc.Wait()

			assert.Equal(t, tt.action, out.PaymentAction)
			stored := f.bookings.snapshot(b.ID)
			assert.Equal(t, model.BookingStatusClientCancelled, stored.Status)
			assert.Equal(t, tt.payment, stored.PaymentStatus)
			f.gateway.AssertExpectations(t)
		})
	}
}

func TestCancelInsideWindowLeavesBookingUnchanged(t *testing.T) {
	for _, h := range []float64{2.99, 1, 0.1, -2} {
		f := newFixture(t)
		b, cancelTok, _ := f.seed(t, compose(hoursAhead(h), withIntent(model.PaymentStatusAuthorized)))

		_, err := f.svc.CancelByToken(context.Background(), cancelTok)
		assertReason(t, err, apperrors.ReasonCancellationWindowClosed)

		assert.Equal(t, *b, f.bookings.snapshot(b.ID))
		f.gateway.AssertNotCalled(t, "CapturePartial", mock.Anything, mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "CancelAuthorization", mock.Anything, mock.Anything)
	}
}

func TestCancelTerminalBookingIsAlreadyClosed(t *testing.T) {
	for _, status := range []model.BookingStatus{
		model.BookingStatusCompleted, model.BookingStatusCancelled,
		model.BookingStatusClientCancelled, model.BookingStatusDeclined,
	} {
		f := newFixture(t)
		_, cancelTok, _ := f.seed(t, func(b *model.Booking) { b.Status = status })

		_, err := f.svc.CancelByToken(context.Background(), cancelTok)
		assertReason(t, err, apperrors.ReasonAlreadyClosed)
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	}
}

func TestCancelGatewayFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	b, cancelTok, _ := f.seed(t, compose(hoursAhead(24), withIntent(model.PaymentStatusPaid)))
	f.gateway.On("Refund", mock.Anything, "pi_primary", amount("200")).Return(errors.New("stripe down"))

	_, err := f.svc.CancelByToken(context.Background(), cancelTok)
	assertReason(t, err, apperrors.ReasonRefundFailed)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrGateway))

	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, model.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
	f.svc.Wait()
	assert.Empty(t, f.notifier.events())
}

func TestCancelLosingRaceReportsAlreadyClosed(t *testing.T) {
	f := newFixture(t)
	_, cancelTok, _ := f.seed(t, hoursAhead(24))
	f.bookings.beforeTransition = func(cur *model.Booking) {
		cur.Status = model.BookingStatusClientCancelled
	}

	_, err := f.svc.CancelByToken(context.Background(), cancelTok)
	assertReason(t, err, apperrors.ReasonAlreadyClosed)
}

func TestCancelNotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("outbox unavailable")
	b, cancelTok, _ := f.seed(t, hoursAhead(24))

	_, err := f.svc.CancelByToken(context.Background(), cancelTok)
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, model.BookingStatusClientCancelled, f.bookings.snapshot(b.ID).Status)
}

func TestCancelUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelByToken(context.Background(), "garbage")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	tok, _ := token.Generate()
	_, err = f.svc.CancelByToken(context.Background(), tok)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestQuoteCancellationDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	b, cancelTok, _ := f.seed(t, compose(hoursAhead(6), withIntent(model.PaymentStatusAuthorized)))

	out, err := f.svc.QuoteCancellation(context.Background(), cancelTok)
	require.NoError(t, err)
	assert.Equal(t, 50, out.RefundPercent)
	assert.Equal(t, 6.0, out.HoursUntil)
	assert.Equal(t, *b, f.bookings.snapshot(b.ID))
	f.gateway.AssertNotCalled(t, "CapturePartial", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelByAdminRefundsInFull(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, compose(hoursAhead(1), withIntent(model.PaymentStatusAuthorized)))
	f.gateway.On("CancelAuthorization", mock.Anything, "pi_primary").Return(nil).Once()

	out, err := f.svc.CancelByAdmin(context.Background(), b.ID, "therapist unwell", "admin@example.com")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, 100, out.RefundPercent)
	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, model.BookingStatusCancelled, stored.Status)
	assert.Equal(t, model.PaymentStatusRefunded, stored.PaymentStatus)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "therapist unwell", f.notifier.sent[0].payload.Reason)
}

// Wednesday 2025-10-08 10:00 and Saturday 2025-10-11 10:00.
var (
	weekdaySlot  = time.Date(2025, 10, 8, 10, 0, 0, 0, time.UTC)
	saturdaySlot = time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)
)

func TestRescheduleIntoUpliftChargesDifference(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	})

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{NewBookingTime: saturdaySlot})
	assertReason(t, err, apperrors.ReasonPaymentRequired)
	assert.Equal(t, *b, f.bookings.snapshot(b.ID))

	f.gateway.On("CapturePartial", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()
	out, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            saturdaySlot,
		AdditionalPaymentIntentID: "pi_topup",
	})
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, decimal.Zero.Equal(out.OriginalUplift))
	assert.True(t, decimal.NewFromInt(25).Equal(out.NewUplift))
	assert.True(t, decimal.RequireFromString("137.50").Equal(out.NewPrice))
	assert.True(t, decimal.RequireFromString("27.50").Equal(out.PriceDifference))
	assert.True(t, decimal.NewFromInt(120).Equal(out.TherapistFee), "fee fully recomputed at the weekend rate")
	assert.Equal(t, 1, out.RescheduleCount)

	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, model.BookingStatusPending, stored.Status)
	assert.Equal(t, saturdaySlot, stored.BookingTime)
	assert.Equal(t, 1, stored.RescheduleCount)
	require.NotNil(t, stored.OriginalBookingTime)
	assert.Equal(t, weekdaySlot, *stored.OriginalBookingTime)
	assert.True(t, decimal.NewFromInt(110).Equal(stored.OriginalClientFee.Decimal))
	require.Len(t, stored.TopUps, 1)
	assert.Equal(t, "pi_topup", stored.TopUps[0].IntentID)
	assert.True(t, decimal.RequireFromString("27.50").Equal(stored.TopUps.Held()))
	assert.Equal(t, []model.NotificationEventType{model.EventRescheduleRequested}, f.notifier.events())
}

func TestRescheduleToCheaperSlotNeverRefunds(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.BookingTime = saturdaySlot
		b.Price = decimal.RequireFromString("137.50")
	})

	out, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{NewBookingTime: weekdaySlot})
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, out.PriceDifference.IsZero())
	assert.True(t, decimal.RequireFromString("137.50").Equal(out.NewPrice))
	assert.True(t, decimal.RequireFromString("137.50").Equal(f.bookings.snapshot(b.ID).Price))
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestRescheduleLimitIsCheckedFirst(t *testing.T) {
	f := newFixture(t)
	_, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.RescheduleCount = 2
		b.BookingTime = testNow.Add(time.Hour)
	})

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{NewBookingTime: weekdaySlot})
	assertReason(t, err, apperrors.ReasonRescheduleLimitReached)
}

func TestRescheduleRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.Booking)
		newTime time.Time
		reason  string
		code    apperrors.ErrorCode
	}{
		{"window closed", hoursAhead(2.5), weekdaySlot, apperrors.ReasonRescheduleWindowClosed, apperrors.ErrPolicyViolation},
		{"terminal", func(b *model.Booking) { b.Status = model.BookingStatusCompleted }, weekdaySlot, apperrors.ReasonAlreadyClosed, apperrors.ErrPolicyViolation},
		{"in progress", func(b *model.Booking) { b.Status = model.BookingStatusInProgress }, weekdaySlot, apperrors.ReasonInvalidTransition, apperrors.ErrPolicyViolation},
		{"new time in the past", nil, testNow.Add(-time.Hour), "", apperrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b, _, reschedTok := f.seed(t, tt.mutate)

			_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{NewBookingTime: tt.newTime})
			require.Error(t, err)
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.reason, appErr.Reason)
			assert.Equal(t, *b, f.bookings.snapshot(b.ID))
		})
	}
}

func TestRescheduleCountNeverExceedsLimit(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) { b.BookingTime = weekdaySlot })

	for i := 0; i < 2; i++ {
		_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
			NewBookingTime: weekdaySlot.Add(time.Duration(i+1) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{NewBookingTime: weekdaySlot})
	assertReason(t, err, apperrors.ReasonRescheduleLimitReached)
	f.svc.Wait()

	assert.Equal(t, model.MaxReschedules, f.bookings.snapshot(b.ID).RescheduleCount)
}

func TestRevertReschedule(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	})
	f.gateway.On("CapturePartial", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            saturdaySlot,
		NewTherapistID:            &f.therapist2.ID,
		AdditionalPaymentIntentID: "pi_topup",
	})
	require.NoError(t, err)

	reverted, err := f.svc.RevertReschedule(context.Background(), b.ID, "admin@example.com")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, model.BookingStatusConfirmed, reverted.Status)
	assert.Equal(t, weekdaySlot, reverted.BookingTime)
	assert.Equal(t, f.therapist.ID, *reverted.TherapistID)
	assert.True(t, decimal.NewFromInt(110).Equal(reverted.Price))
	assert.True(t, decimal.NewFromInt(60).Equal(reverted.TherapistFee))
	assert.True(t, reverted.TopUps.Held().IsZero())
	assert.True(t, decimal.NewFromInt(10).Equal(reverted.TaxAmount))
	assert.Equal(t, 1, reverted.RescheduleCount)
	f.gateway.AssertExpectations(t)

	_, err = f.svc.RevertReschedule(context.Background(), b.ID, "admin@example.com")
	assertReason(t, err, apperrors.ReasonInvalidTransition)
}

func TestCancelAfterTopUpSplitsAcrossIntents(t *testing.T) {
	f := newFixture(t)
	_, cancelTok, _ := f.seed(t, compose(hoursAhead(24), withIntent(model.PaymentStatusAuthorized), func(b *model.Booking) {
		b.Price = decimal.RequireFromString("137.50")
		b.TopUps = model.TopUps{{IntentID: "pi_topup", Amount: decimal.RequireFromString("27.50"), Refunded: decimal.Zero}}
	}))
	f.gateway.On("CancelAuthorization", mock.Anything, "pi_primary").Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()

	out, err := f.svc.CancelByToken(context.Background(), cancelTok)
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, "release_authorization+refund", out.PaymentAction)
	f.gateway.AssertExpectations(t)
}

// Friday 2025-10-10 10:00, priced with a 10% uplift.
var fridaySlot = time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

// rescheduleTwiceWithTopUps moves a $110 weekday booking to Friday (+11.00 on
// pi_a) and then to Saturday (+16.50 on pi_b).
func rescheduleTwiceWithTopUps(t *testing.T, f *fixture, reschedTok string) {
	t.Helper()
	f.gateway.On("CapturePartial", mock.Anything, "pi_a", amount("11")).Return(nil).Once()
	f.gateway.On("CapturePartial", mock.Anything, "pi_b", amount("16.50")).Return(nil).Once()

	out, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            fridaySlot,
		AdditionalPaymentIntentID: "pi_a",
	})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(11).Equal(out.PriceDifference), out.PriceDifference.String())

	out, err = f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            saturdaySlot,
		AdditionalPaymentIntentID: "pi_b",
	})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("16.50").Equal(out.PriceDifference), out.PriceDifference.String())
}

func TestCancelAfterTwoTopUpsRefundsEachIntent(t *testing.T) {
	f := newFixture(t)
	b, cancelTok, reschedTok := f.seed(t, compose(withIntent(model.PaymentStatusAuthorized), func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	}))
	rescheduleTwiceWithTopUps(t, f, reschedTok)

	stored := f.bookings.snapshot(b.ID)
	require.Len(t, stored.TopUps, 2)
	assert.True(t, decimal.RequireFromString("27.50").Equal(stored.TopUps.Held()))
	assert.True(t, decimal.NewFromInt(110).Equal(stored.PrimaryAmount()))

	f.gateway.On("CancelAuthorization", mock.Anything, "pi_primary").Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_b", amount("16.50")).Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_a", amount("11")).Return(nil).Once()

	out, err := f.svc.CancelByToken(context.Background(), cancelTok)
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, 100, out.RefundPercent)
	assert.Equal(t, "release_authorization+refund+refund", out.PaymentAction)
	f.gateway.AssertExpectations(t)

	stored = f.bookings.snapshot(b.ID)
	assert.Equal(t, model.BookingStatusClientCancelled, stored.Status)
	assert.Equal(t, model.PaymentStatusRefunded, stored.PaymentStatus)
	assert.True(t, stored.TopUps.Held().IsZero())
}

func TestRevertAfterTwoTopUpsRefundsNewestFirst(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, compose(withIntent(model.PaymentStatusAuthorized), func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	}))
	rescheduleTwiceWithTopUps(t, f, reschedTok)

	// Only the last reschedule is reverted: back to Friday at $121.
	f.gateway.On("Refund", mock.Anything, "pi_b", amount("16.50")).Return(nil).Once()

	reverted, err := f.svc.RevertReschedule(context.Background(), b.ID, "admin@example.com")
	require.NoError(t, err)
	f.svc.Wait()
	f.gateway.AssertExpectations(t)
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, "pi_a", mock.Anything)

	assert.Equal(t, fridaySlot, reverted.BookingTime)
	assert.True(t, decimal.NewFromInt(121).Equal(reverted.Price))
	assert.True(t, decimal.NewFromInt(11).Equal(reverted.TaxAmount))

	stored := f.bookings.snapshot(b.ID)
	require.Len(t, stored.TopUps, 2)
	assert.True(t, decimal.NewFromInt(11).Equal(stored.TopUps[0].Held()))
	assert.True(t, stored.TopUps[1].Held().IsZero())
	assert.True(t, decimal.NewFromInt(11).Equal(stored.TopUps.Held()))
}

func TestRescheduleLosingToConcurrentRescheduleIsRejected(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.Status = model.BookingStatusPending
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	})
	other := weekdaySlot.Add(3 * time.Hour)
	f.bookings.beforeTransition = func(cur *model.Booking) {
		// Another pending -> pending write lands first.
		cur.BookingTime = other
		cur.RescheduleCount++
		cur.Version++
	}

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime: weekdaySlot.Add(time.Hour),
	})
	assertReason(t, err, apperrors.ReasonAlreadyClosed)
	f.svc.Wait()

	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, other, stored.BookingTime)
	assert.Equal(t, 1, stored.RescheduleCount)
	assert.Equal(t, 1, stored.Version)
	assert.Empty(t, f.notifier.events())
}

func TestReassignLosingToConcurrentReassignIsRejected(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, func(b *model.Booking) { b.Status = model.BookingStatusPending })
	winner := f.therapist.ID
	f.bookings.beforeTransition = func(cur *model.Booking) {
		cur.TherapistID = &winner
		cur.Version++
	}

	_, err := f.svc.Reassign(context.Background(), b.ID, f.therapist2.ID, "admin@example.com")
	assertReason(t, err, apperrors.ReasonAlreadyClosed)

	stored := f.bookings.snapshot(b.ID)
	assert.Equal(t, f.therapist.ID, *stored.TherapistID)
	assert.Empty(t, f.bookings.history)
}

func TestCommitBumpsVersion(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, func(b *model.Booking) { b.Status = model.BookingStatusPending })

	_, err := f.svc.Reassign(context.Background(), b.ID, f.therapist2.ID, "admin@example.com")
	require.NoError(t, err)
	_, err = f.svc.Reassign(context.Background(), b.ID, f.therapist.ID, "admin@example.com")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, 2, f.bookings.snapshot(b.ID).Version)
}

func TestRescheduleCommitFailureRefundsCapturedDifference(t *testing.T) {
	f := newFixture(t)
	b, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	})
	f.bookings.beforeTransition = func(cur *model.Booking) {
		cur.Status = model.BookingStatusClientCancelled
		cur.Version++
	}
	f.gateway.On("CapturePartial", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            saturdaySlot,
		AdditionalPaymentIntentID: "pi_topup",
	})
	assertReason(t, err, apperrors.ReasonAlreadyClosed)
	f.svc.Wait()

	f.gateway.AssertExpectations(t)
	stored := f.bookings.snapshot(b.ID)
	assert.Empty(t, stored.TopUps)
	assert.Equal(t, weekdaySlot, stored.BookingTime)
}

func TestRescheduleCommitFailureKeepsErrorWhenRefundFails(t *testing.T) {
	f := newFixture(t)
	_, _, reschedTok := f.seed(t, func(b *model.Booking) {
		b.BookingTime = weekdaySlot
		b.Price = decimal.NewFromInt(110)
	})
	f.bookings.beforeTransition = func(cur *model.Booking) { cur.Version++ }
	f.gateway.On("CapturePartial", mock.Anything, "pi_topup", amount("27.50")).Return(nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_topup", amount("27.50")).Return(errors.New("card_declined")).Once()

	_, err := f.svc.RescheduleByToken(context.Background(), reschedTok, &model.RescheduleRequest{
		NewBookingTime:            saturdaySlot,
		AdditionalPaymentIntentID: "pi_topup",
	})
	assertReason(t, err, apperrors.ReasonAlreadyClosed)
	f.gateway.AssertExpectations(t)
}

func TestCreateIssuesWorkingTokens(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), &model.CreateBookingRequest{
		CustomerID:      uuid.New(),
		CustomerName:    "Client",
		CustomerEmail:   "client@example.com",
		ServiceID:       f.serviceID,
		TherapistID:     &f.therapist.ID,
		BookingTime:     saturdaySlot,
		DurationMinutes: 90,
		PaymentIntentID: "pi_primary",
	})
	require.NoError(t, err)
	f.svc.Wait()

	b := created.Booking
	assert.Equal(t, "RB2510001", b.BookingCode)
	assert.Equal(t, model.BookingStatusPending, b.Status)
	assert.Equal(t, model.PaymentStatusAuthorized, b.PaymentStatus)
	assert.True(t, decimal.RequireFromString("137.50").Equal(b.Price), b.Price.String())
	assert.True(t, decimal.RequireFromString("12.50").Equal(b.TaxAmount))
	assert.True(t, decimal.NewFromInt(180).Equal(b.TherapistFee))
	assert.NotEqual(t, created.CancelToken, b.CancelTokenHash)

	out, err := f.svc.QuoteCancellation(context.Background(), created.CancelToken)
	require.NoError(t, err)
	assert.Equal(t, b.BookingCode, out.BookingCode)

	assert.ElementsMatch(t,
		[]model.NotificationEventType{model.EventBookingCreated, model.EventTherapistRequest},
		f.notifier.events())
	assert.Equal(t, created.CancelToken, f.notifier.sent[0].payload.CancelToken)
}

func TestCreateWithoutTherapistIsRequested(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), &model.CreateBookingRequest{
		CustomerID:      uuid.New(),
		CustomerName:    "Client",
		CustomerEmail:   "client@example.com",
		ServiceID:       f.serviceID,
		BookingTime:     weekdaySlot,
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, model.BookingStatusRequested, created.Booking.Status)
	assert.True(t, created.Booking.TherapistFee.IsZero())
	assert.Equal(t, []model.NotificationEventType{model.EventBookingCreated}, f.notifier.events())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	valid := func() *model.CreateBookingRequest {
		return &model.CreateBookingRequest{
			CustomerID: uuid.New(), CustomerName: "Client", CustomerEmail: "client@example.com",
			ServiceID: f.serviceID, BookingTime: weekdaySlot, DurationMinutes: 60,
		}
	}

	tests := []struct {
		name   string
		mutate func(*model.CreateBookingRequest)
		code   apperrors.ErrorCode
	}{
		{"bad email", func(r *model.CreateBookingRequest) { r.CustomerEmail = "nope" }, apperrors.ErrBadRequest},
		{"past time", func(r *model.CreateBookingRequest) { r.BookingTime = testNow.Add(-time.Minute) }, apperrors.ErrBadRequest},
		{"below service minimum", func(r *model.CreateBookingRequest) { r.DurationMinutes = 30 }, apperrors.ErrBadRequest},
		{"unknown service", func(r *model.CreateBookingRequest) { r.ServiceID = uuid.New() }, apperrors.ErrNotFound},
		{"unknown therapist", func(r *model.CreateBookingRequest) { id := uuid.New(); r.TherapistID = &id }, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := f.svc.Create(context.Background(), req)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestAcceptAndDecline(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, func(b *model.Booking) { b.Status = model.BookingStatusPending })

	_, err := f.svc.Accept(context.Background(), b.ID, f.therapist2.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	accepted, err := f.svc.Accept(context.Background(), b.ID, f.therapist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, accepted.Status)

	_, err = f.svc.Decline(context.Background(), b.ID, f.therapist.ID, true, "busy")
	assertReason(t, err, apperrors.ReasonInvalidTransition)
	f.svc.Wait()
	assert.Equal(t, []model.NotificationEventType{model.EventBookingConfirmed}, f.notifier.events())
}

func TestDeclineSeekingAlternateClearsTherapist(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, func(b *model.Booking) { b.Status = model.BookingStatusPending })

	declined, err := f.svc.Decline(context.Background(), b.ID, f.therapist.ID, true, "double booked")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, model.BookingStatusSeekingAlternate, declined.Status)
	assert.Nil(t, declined.TherapistID)

	reassigned, err := f.svc.Reassign(context.Background(), b.ID, f.therapist2.ID, "admin@example.com")
	require.NoError(t, err)
	f.svc.Wait()
	assert.Equal(t, model.BookingStatusPending, reassigned.Status)
	assert.Equal(t, f.therapist2.ID, *reassigned.TherapistID)
	assert.Equal(t,
		[]model.NotificationEventType{model.EventBookingDeclined, model.EventTherapistRequest},
		f.notifier.events())
}

func TestDeclineReleasesAuthorization(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, compose(withIntent(model.PaymentStatusAuthorized), func(b *model.Booking) {
		b.Status = model.BookingStatusPending
	}))
	f.gateway.On("CancelAuthorization", mock.Anything, "pi_primary").Return(errors.New("timeout")).Once()

	_, err := f.svc.Decline(context.Background(), b.ID, f.therapist.ID, false, "")
	assertReason(t, err, apperrors.ReasonReleaseFailed)
	assert.Equal(t, model.BookingStatusPending, f.bookings.snapshot(b.ID).Status)

	f.gateway.On("CancelAuthorization", mock.Anything, "pi_primary").Return(nil).Once()
	declined, err := f.svc.Decline(context.Background(), b.ID, f.therapist.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusDeclined, declined.Status)
	assert.Equal(t, model.PaymentStatusRefunded, declined.PaymentStatus)
}

func TestCompleteCapturesAndRecordsAssignment(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, compose(withIntent(model.PaymentStatusAuthorized), func(b *model.Booking) {
		b.DurationMinutes = 90
	}))
	f.gateway.On("CapturePartial", mock.Anything, "pi_primary", amount("200")).Return(nil).Once()

	_, err := f.svc.Start(context.Background(), b.ID, "ana")
	require.NoError(t, err)
	done, err := f.svc.Complete(context.Background(), b.ID, "ana")
	require.NoError(t, err)

	assert.Equal(t, model.BookingStatusCompleted, done.Status)
	assert.Equal(t, model.PaymentStatusPaid, done.PaymentStatus)
	require.Len(t, f.bookings.assignments, 1)
	a := f.bookings.assignments[0]
	assert.Equal(t, b.ID, a.BookingID)
	assert.True(t, decimal.RequireFromString("1.5").Equal(a.HoursWorked))
	assert.True(t, decimal.NewFromInt(60).Equal(a.TherapistFee))

	_, err = f.svc.Complete(context.Background(), b.ID, "ana")
	assertReason(t, err, apperrors.ReasonAlreadyClosed)
}

func TestCompleteCaptureFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	b, _, _ := f.seed(t, withIntent(model.PaymentStatusAuthorized))
	f.gateway.On("CapturePartial", mock.Anything, "pi_primary", amount("200")).Return(errors.New("card expired"))

	_, err := f.svc.Complete(context.Background(), b.ID, "ana")
	assertReason(t, err, apperrors.ReasonCaptureFailed)
	assert.Equal(t, model.BookingStatusConfirmed, f.bookings.snapshot(b.ID).Status)
	assert.Empty(t, f.bookings.assignments)
}

func TestExpireUnanswered(t *testing.T) {
	f := newFixture(t)
	stale, _, _ := f.seed(t, func(b *model.Booking) {
		b.Status = model.BookingStatusPending
		b.UpdatedAt = testNow.Add(-2 * time.Hour)
	})
	fresh, _, _ := f.seed(t, func(b *model.Booking) {
		b.Status = model.BookingStatusPending
		b.UpdatedAt = testNow.Add(-10 * time.Minute)
	})

	moved, err := f.svc.ExpireUnanswered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, model.BookingStatusTimeoutReassigned, f.bookings.snapshot(stale.ID).Status)
	assert.Equal(t, model.BookingStatusPending, f.bookings.snapshot(fresh.ID).Status)
}
