package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

const dateLayout = "2006-01-02"

var ErrAlreadyPaid = apperrors.NewPolicyViolation(apperrors.ReasonAlreadyPaid, "weekly payment is already paid")

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConcurrency bounds how many therapists GenerateForWeek processes at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

type Service struct {
	repo        repository.WeeklyPaymentRepository
	loc         *time.Location
	logger      *logger.Logger
	now         func() time.Time
	concurrency int
}

func NewService(repo repository.WeeklyPaymentRepository, loc *time.Location, log *logger.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:        repo,
		loc:         loc,
		logger:      log,
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WeekBounds returns the Monday and Sunday, at local midnight, of the week containing t.
func WeekBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	start = time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 6)
}

// ParseWeekStart reads a YYYY-MM-DD date in the business timezone and
// snaps it to the Monday of its week.
func (s *Service) ParseWeekStart(value string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, value, s.loc)
	if err != nil {
		return time.Time{}, apperrors.NewBadRequest("week_start must be a YYYY-MM-DD date", err)
	}
	start, _ := WeekBounds(d, s.loc)
	return start, nil
}

// LastWeek is the week before the one containing now.
func (s *Service) LastWeek() (time.Time, time.Time) {
	start, _ := WeekBounds(s.now(), s.loc)
	return WeekBounds(start.AddDate(0, 0, -7), s.loc)
}

// GenerateForTherapistWeek aggregates a therapist's unlinked completed
// assignments for the inclusive date range into one weekly payment. It is
// idempotent: an existing record for the same week is returned as is. A nil
// id means there was nothing to pay.
func (s *Service) GenerateForTherapistWeek(ctx context.Context, therapistID uuid.UUID, weekStart, weekEnd time.Time) (*uuid.UUID, error) {
	if therapistID == uuid.Nil {
		return nil, apperrors.NewBadRequest("therapist_id is required", nil)
	}
	if weekEnd.Before(weekStart) {
		return nil, apperrors.NewBadRequest("week_end is before week_start", nil)
	}

	var (
		result  *uuid.UUID
		outcome string
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, store repository.WeeklyPaymentStore) error {
		existing, err := store.GetByWeek(ctx, therapistID, weekStart, weekEnd)
		switch {
		case err == nil:
			result, outcome = &existing.ID, "existing"
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to get weekly payment: %w", err)
		}

		assignments, err := store.ListUnlinkedAssignments(ctx, therapistID, weekStart, weekEnd.AddDate(0, 0, 1))
		if err != nil {
			return fmt.Errorf("failed to list assignments: %w", err)
		}
		if len(assignments) == 0 {
			// a concurrent run may have linked them while we waited on the row locks
			if existing, err := store.GetByWeek(ctx, therapistID, weekStart, weekEnd); err == nil {
				result, outcome = &existing.ID, "existing"
				return nil
			}
			outcome = "empty"
			return nil
		}

		now := s.now()
		payment := &model.WeeklyPayment{
			ID:            uuid.New(),
			TherapistID:   therapistID,
			WeekStart:     weekStart,
			WeekEnd:       weekEnd,
			TotalHours:    decimal.Zero,
			TotalFee:      decimal.Zero,
			PaymentStatus: model.WeeklyPaymentPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		ids := make([]uuid.UUID, 0, len(assignments))
		for _, a := range assignments {
			payment.TotalHours = payment.TotalHours.Add(a.HoursWorked)
			payment.TotalFee = payment.TotalFee.Add(a.TherapistFee)
			ids = append(ids, a.ID)
		}
		payment.TotalAssignments = len(assignments)

		inserted, err := store.InsertIfAbsent(ctx, payment)
		if err != nil {
			return fmt.Errorf("failed to insert weekly payment: %w", err)
		}
		if !inserted {
			// a concurrent run created it first; payment.ID now holds the winner's id
			result, outcome = &payment.ID, "existing"
			return nil
		}

		if _, err := store.LinkAssignments(ctx, ids, payment.ID); err != nil {
			return fmt.Errorf("failed to link assignments: %w", err)
		}
		result, outcome = &payment.ID, "created"

		s.logger.Info("Weekly payment generated",
			"therapist_id", therapistID.String(),
			"week_start", weekStart.Format(dateLayout),
			"assignments", payment.TotalAssignments,
			"total_fee", payment.TotalFee.StringFixed(2))
		return nil
	})
	if err != nil {
		metrics.WeeklyPaymentsGenerated.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.WeeklyPaymentsGenerated.WithLabelValues(outcome).Inc()
	return result, nil
}

// GenerateForWeek runs GenerateForTherapistWeek for every therapist with
// unpaid work in the Monday to Sunday week containing weekStart. One
// therapist failing does not stop the others.
func (s *Service) GenerateForWeek(ctx context.Context, weekStart time.Time) ([]uuid.UUID, error) {
	start, end := WeekBounds(weekStart, s.loc)

	therapists, err := s.repo.ListTherapistsWithUnlinked(ctx, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to list therapists with unpaid work: %w", err)
	}

	p := pool.NewWithResults[*uuid.UUID]().WithErrors().WithMaxGoroutines(s.concurrency)
	for _, therapistID := range therapists {
		therapistID := therapistID
		p.Go(func() (*uuid.UUID, error) {
			id, err := s.GenerateForTherapistWeek(ctx, therapistID, start, end)
			if err != nil {
				s.logger.Error(err, "Weekly payment generation failed",
					"therapist_id", therapistID.String(),
					"week_start", start.Format(dateLayout))
				return nil, fmt.Errorf("therapist %s: %w", therapistID, err)
			}
			return id, nil
		})
	}
	results, err := p.Wait()

	ids := make([]uuid.UUID, 0, len(results))
	for _, id := range results {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids, err
}

// MarkPaid records the payout. It is the only mutation a weekly payment allows.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal, paidAt time.Time, reference string) (*model.WeeklyPayment, error) {
	if !amount.IsPositive() {
		return nil, apperrors.NewBadRequest("amount must be positive", nil)
	}
	if reference == "" {
		return nil, apperrors.NewBadRequest("reference is required", nil)
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.PaymentStatus == model.WeeklyPaymentPaid {
		return nil, ErrAlreadyPaid
	}

	if err := s.repo.MarkPaid(ctx, id, amount.Round(2), paidAt, reference); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("failed to mark weekly payment paid: %w", err)
	}
	metrics.WeeklyPaymentsGenerated.WithLabelValues("paid").Inc()

	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.WeeklyPayment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("weekly payment", err)
		}
		return nil, fmt.Errorf("failed to get weekly payment: %w", err)
	}
	return payment, nil
}

func (s *Service) ListByTherapist(ctx context.Context, therapistID uuid.UUID, page model.Pagination) ([]*model.WeeklyPayment, error) {
	payments, err := s.repo.ListByTherapist(ctx, therapistID, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly payments: %w", err)
	}
	return payments, nil
}
