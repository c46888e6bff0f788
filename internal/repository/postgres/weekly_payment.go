package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

const weeklyPaymentColumns = `
	id, therapist_id, week_start, week_end, total_assignments, total_hours, total_fee,
	payment_status, paid_amount, paid_at, payment_reference, created_at, updated_at`

type weeklyPaymentRepository struct {
	BaseRepository
}

func NewWeeklyPaymentRepository(base BaseRepository) repository.WeeklyPaymentRepository {
	return &weeklyPaymentRepository{base}
}

func (r *weeklyPaymentRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, store repository.WeeklyPaymentStore) error) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &weeklyPaymentStore{tx: tx})
	})
}

func (r *weeklyPaymentRepository) Get(ctx context.Context, id uuid.UUID) (*model.WeeklyPayment, error) {
	query := `SELECT ` + weeklyPaymentColumns + ` FROM weekly_payments WHERE id = $1`
	var p model.WeeklyPayment
	err := r.db.GetContext(ctx, &p, query, id)
	track("weekly_payment_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get weekly payment: %w", notFound(err))
	}
	return &p, nil
}

func (r *weeklyPaymentRepository) ListByTherapist(ctx context.Context, therapistID uuid.UUID, page model.Pagination) ([]*model.WeeklyPayment, error) {
	limit, offset := page.Offset()
	query := `SELECT ` + weeklyPaymentColumns + `
		FROM weekly_payments
		WHERE therapist_id = $1
		ORDER BY week_start DESC
		LIMIT $2 OFFSET $3`
	var payments []*model.WeeklyPayment
	err := r.db.SelectContext(ctx, &payments, query, therapistID, limit, offset)
	track("weekly_payment_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly payments: %w", err)
	}
	return payments, nil
}

func (r *weeklyPaymentRepository) ListTherapistsWithUnlinked(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT therapist_id
		FROM assignments
		WHERE weekly_payment_id IS NULL AND completed_at >= $1 AND completed_at < $2
	`
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, query, from, to)
	track("assignment_list_therapists", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list therapists with unpaid work: %w", err)
	}
	return ids, nil
}

func (r *weeklyPaymentRepository) MarkPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal, paidAt time.Time, reference string) error {
	query := `
		UPDATE weekly_payments
		SET payment_status = $1, paid_amount = $2, paid_at = $3, payment_reference = $4, updated_at = NOW()
		WHERE id = $5 AND payment_status = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		model.WeeklyPaymentPaid, amount, paidAt, reference, id, model.WeeklyPaymentPending)
	track("weekly_payment_mark_paid", err)
	if err != nil {
		return fmt.Errorf("failed to mark weekly payment paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrStaleStatus
	}
	return nil
}

// weeklyPaymentStore runs every statement on one transaction.
type weeklyPaymentStore struct {
	tx *sqlx.Tx
}

func (s *weeklyPaymentStore) GetByWeek(ctx context.Context, therapistID uuid.UUID, weekStart, weekEnd time.Time) (*model.WeeklyPayment, error) {
	query := `SELECT ` + weeklyPaymentColumns + `
		FROM weekly_payments
		WHERE therapist_id = $1 AND week_start = $2 AND week_end = $3`
	var p model.WeeklyPayment
	err := s.tx.GetContext(ctx, &p, query, therapistID, dateOnly(weekStart), dateOnly(weekEnd))
	track("weekly_payment_get_by_week", err)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListUnlinkedAssignments locks the rows so a concurrent generation for the
// same therapist waits here instead of double counting.
func (s *weeklyPaymentStore) ListUnlinkedAssignments(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]*model.Assignment, error) {
	query := `
		SELECT id, booking_id, therapist_id, hours_worked, therapist_fee, completed_at, weekly_payment_id
		FROM assignments
		WHERE therapist_id = $1 AND weekly_payment_id IS NULL
		  AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at
		FOR UPDATE
	`
	var assignments []*model.Assignment
	err := s.tx.SelectContext(ctx, &assignments, query, therapistID, from, to)
	track("assignment_list_unlinked", err)
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// InsertIfAbsent reports false when the week already has a record, and sets
// p.ID to that record's id.
func (s *weeklyPaymentStore) InsertIfAbsent(ctx context.Context, p *model.WeeklyPayment) (bool, error) {
	query := `
		INSERT INTO weekly_payments (
			id, therapist_id, week_start, week_end, total_assignments, total_hours, total_fee,
			payment_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (therapist_id, week_start, week_end) DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err := s.tx.GetContext(ctx, &id, query,
		p.ID, p.TherapistID, dateOnly(p.WeekStart), dateOnly(p.WeekEnd), p.TotalAssignments,
		p.TotalHours, p.TotalFee, p.PaymentStatus, p.CreatedAt, p.UpdatedAt)
	track("weekly_payment_insert", err)

	switch {
	case err == nil:
		p.ID = id
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := s.GetByWeek(ctx, p.TherapistID, p.WeekStart, p.WeekEnd)
		if getErr != nil {
			return false, fmt.Errorf("failed to read conflicting weekly payment: %w", getErr)
		}
		p.ID = existing.ID
		return false, nil
	case isUniqueViolation(err):
		return false, fmt.Errorf("duplicate weekly payment %s: %w", p.ID, err)
	default:
		return false, err
	}
}

func (s *weeklyPaymentStore) LinkAssignments(ctx context.Context, ids []uuid.UUID, paymentID uuid.UUID) (int64, error) {
	query := `
		UPDATE assignments
		SET weekly_payment_id = $1
		WHERE id = ANY($2::uuid[]) AND weekly_payment_id IS NULL
	`
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	result, err := s.tx.ExecContext(ctx, query, paymentID, pq.Array(raw))
	track("assignment_link", err)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func dateOnly(t time.Time) string {
	return t.Format("2006-01-02")
}
