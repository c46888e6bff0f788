package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

const bookingColumns = `
	id, booking_code, customer_id, customer_name, customer_email, customer_phone,
	therapist_id, service_id, booking_time, timezone, duration_minutes, address, notes, status,
	price, therapist_fee, discount_amount, tax_amount,
	reschedule_count, original_booking_time, original_therapist_id, original_client_fee,
	payment_intent_id, top_ups, payment_status, version,
	cancel_token_hash, reschedule_token_hash, created_at, updated_at`

type bookingRepository struct {
	BaseRepository
}

func NewBookingRepository(base BaseRepository) repository.BookingRepository {
	return &bookingRepository{base}
}

func (r *bookingRepository) Create(ctx context.Context, b *model.Booking, entry *model.StatusHistoryEntry) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (
			:id, :booking_code, :customer_id, :customer_name, :customer_email, :customer_phone,
			:therapist_id, :service_id, :booking_time, :timezone, :duration_minutes, :address, :notes, :status,
			:price, :therapist_fee, :discount_amount, :tax_amount,
			:reschedule_count, :original_booking_time, :original_therapist_id, :original_client_fee,
			:payment_intent_id, :top_ups, :payment_status, :version,
			:cancel_token_hash, :reschedule_token_hash, :created_at, :updated_at
		)`
		if _, err := tx.NamedExecContext(ctx, query, b); err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		return insertHistory(ctx, tx, entry)
	})
	track("booking_create", err)
	return err
}

func (r *bookingRepository) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return r.getBy(ctx, "booking_get", "id", id)
}

func (r *bookingRepository) GetByCode(ctx context.Context, code string) (*model.Booking, error) {
	return r.getBy(ctx, "booking_get_by_code", "booking_code", code)
}

func (r *bookingRepository) GetByCancelToken(ctx context.Context, tokenHash string) (*model.Booking, error) {
	return r.getBy(ctx, "booking_get_by_token", "cancel_token_hash", tokenHash)
}

func (r *bookingRepository) GetByRescheduleToken(ctx context.Context, tokenHash string) (*model.Booking, error) {
	return r.getBy(ctx, "booking_get_by_token", "reschedule_token_hash", tokenHash)
}

// getBy is only called with column names from this file.
func (r *bookingRepository) getBy(ctx context.Context, op, column string, value interface{}) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + column + ` = $1`

	var b model.Booking
	err := r.db.GetContext(ctx, &b, query, value)
	track(op, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", notFound(err))
	}
	return &b, nil
}

func (r *bookingRepository) List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}
	if filter.TherapistID != nil {
		query += fmt.Sprintf(" AND therapist_id = $%d", argCount)
		args = append(args, *filter.TherapistID)
		argCount++
	}
	if filter.CustomerID != nil {
		query += fmt.Sprintf(" AND customer_id = $%d", argCount)
		args = append(args, *filter.CustomerID)
		argCount++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND booking_time >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND booking_time < $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	limit, offset := filter.Pagination.Offset()
	query += fmt.Sprintf(" ORDER BY booking_time ASC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, offset)

	var bookings []*model.Booking
	err := r.db.SelectContext(ctx, &bookings, query, args...)
	track("booking_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// NextBookingCode increments the per-month counter atomically, so two
// concurrent creates never share a code.
func (r *bookingRepository) NextBookingCode(ctx context.Context, prefix string, at time.Time) (string, error) {
	period := at.Format("0601")
	query := `
		INSERT INTO booking_code_counters (prefix, period, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, period)
		DO UPDATE SET last_value = booking_code_counters.last_value + 1
		RETURNING last_value
	`
	var seq int
	err := r.db.GetContext(ctx, &seq, query, prefix, period)
	track("booking_code_next", err)
	if err != nil {
		return "", fmt.Errorf("failed to allocate booking code: %w", err)
	}
	return fmt.Sprintf("%s%s%03d", prefix, period, seq), nil
}

// Transition writes the booking only while its status and version still
// equal w.Expected and w.ExpectedVersion, together with the history row and,
// on completion, the assignment. Zero matched rows yields
// repository.ErrStaleStatus.
func (r *bookingRepository) Transition(ctx context.Context, w *repository.TransitionWrite) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		b := w.Booking
		query := `
			UPDATE bookings SET
				therapist_id = $1, booking_time = $2, status = $3,
				price = $4, therapist_fee = $5, tax_amount = $6,
				reschedule_count = $7, original_booking_time = $8, original_therapist_id = $9,
				original_client_fee = $10, top_ups = $11, version = $12,
				payment_status = $13, updated_at = $14
			WHERE id = $15 AND status = $16 AND version = $17
		`
		result, err := tx.ExecContext(ctx, query,
			b.TherapistID, b.BookingTime, b.Status,
			b.Price, b.TherapistFee, b.TaxAmount,
			b.RescheduleCount, b.OriginalBookingTime, b.OriginalTherapistID,
			b.OriginalClientFee, b.TopUps, b.Version,
			b.PaymentStatus, b.UpdatedAt,
			b.ID, w.Expected, w.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, b.ID); err != nil {
				return fmt.Errorf("failed to check booking: %w", err)
			}
			if !exists {
				return repository.ErrNotFound
			}
			return repository.ErrStaleStatus
		}

		if err := insertHistory(ctx, tx, w.Entry); err != nil {
			return err
		}
		if w.Assignment != nil {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO assignments (id, booking_id, therapist_id, hours_worked, therapist_fee, completed_at)
				VALUES (:id, :booking_id, :therapist_id, :hours_worked, :therapist_fee, :completed_at)
			`, w.Assignment); err != nil {
				return fmt.Errorf("failed to insert assignment: %w", err)
			}
		}
		return nil
	})
	track("booking_transition", err)
	return err
}

func (r *bookingRepository) History(ctx context.Context, bookingID uuid.UUID) ([]*model.StatusHistoryEntry, error) {
	query := `
		SELECT id, booking_id, COALESCE(from_status, '') AS from_status, status, changed_by, changed_at, COALESCE(notes, '') AS notes
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY changed_at ASC
	`
	var entries []*model.StatusHistoryEntry
	err := r.db.SelectContext(ctx, &entries, query, bookingID)
	track("booking_history", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	return entries, nil
}

func (r *bookingRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	var bookings []*model.Booking
	err := r.db.SelectContext(ctx, &bookings, query, model.BookingStatusPending, before, limit)
	track("booking_list_stale", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *model.StatusHistoryEntry) error {
	query := `
		INSERT INTO booking_status_history (id, booking_id, from_status, status, changed_by, changed_at, notes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.BookingID, string(entry.FromStatus), entry.Status, entry.ChangedBy, entry.ChangedAt, entry.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}
