package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrStaleStatus is returned when a conditional status write matched zero rows.
	ErrStaleStatus = errors.New("booking status changed since it was read")
)

// TransitionWrite is one conditional booking update plus its audit row. The
// write applies only while the stored row still has status Expected and
// version ExpectedVersion; Booking.Version carries the next version.
// Assignment is set when the transition completes a booking.
type TransitionWrite struct {
	Booking         *model.Booking
	Expected        model.BookingStatus
	ExpectedVersion int
	Entry           *model.StatusHistoryEntry
	Assignment      *model.Assignment
}

// All repository interfaces in one file
type (
	BookingRepository interface {
		Create(ctx context.Context, booking *model.Booking, entry *model.StatusHistoryEntry) error
		Get(ctx context.Context, id uuid.UUID) (*model.Booking, error)
		GetByCode(ctx context.Context, code string) (*model.Booking, error)
		GetByCancelToken(ctx context.Context, tokenHash string) (*model.Booking, error)
		GetByRescheduleToken(ctx context.Context, tokenHash string) (*model.Booking, error)
		List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error)
		NextBookingCode(ctx context.Context, prefix string, at time.Time) (string, error)
		Transition(ctx context.Context, w *TransitionWrite) error
		History(ctx context.Context, bookingID uuid.UUID) ([]*model.StatusHistoryEntry, error)
		ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error)
	}

	ServiceRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Service, error)
		List(ctx context.Context) ([]*model.Service, error)
	}

	TherapistRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Therapist, error)
	}

	PricingRuleRepository interface {
		ListActive(ctx context.Context) ([]*model.PricingRule, error)
		List(ctx context.Context) ([]*model.PricingRule, error)
	}

	// RateCardRepository returns ErrNotFound when no card exists for the
	// exact (therapist, service) pair; a nil serviceID selects the profile card.
	RateCardRepository interface {
		GetRateCard(ctx context.Context, therapistID uuid.UUID, serviceID *uuid.UUID) (*model.TherapistRateCard, error)
	}

	// WeeklyPaymentStore is bound to a single transaction.
	WeeklyPaymentStore interface {
		GetByWeek(ctx context.Context, therapistID uuid.UUID, weekStart, weekEnd time.Time) (*model.WeeklyPayment, error)
		ListUnlinkedAssignments(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]*model.Assignment, error)
		InsertIfAbsent(ctx context.Context, payment *model.WeeklyPayment) (bool, error)
		LinkAssignments(ctx context.Context, ids []uuid.UUID, paymentID uuid.UUID) (int64, error)
	}

	WeeklyPaymentRepository interface {
		RunInTx(ctx context.Context, fn func(ctx context.Context, store WeeklyPaymentStore) error) error
		Get(ctx context.Context, id uuid.UUID) (*model.WeeklyPayment, error)
		ListByTherapist(ctx context.Context, therapistID uuid.UUID, page model.Pagination) ([]*model.WeeklyPayment, error)
		ListTherapistsWithUnlinked(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
		MarkPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal, paidAt time.Time, reference string) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
