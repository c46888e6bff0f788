package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Assignment records a therapist's completed booking for payroll.
type Assignment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BookingID       uuid.UUID       `db:"booking_id" json:"booking_id"`
	TherapistID     uuid.UUID       `db:"therapist_id" json:"therapist_id"`
	HoursWorked     decimal.Decimal `db:"hours_worked" json:"hours_worked"`
	TherapistFee    decimal.Decimal `db:"therapist_fee" json:"therapist_fee"`
	CompletedAt     time.Time       `db:"completed_at" json:"completed_at"`
	WeeklyPaymentID *uuid.UUID      `db:"weekly_payment_id" json:"weekly_payment_id,omitempty"`
}

type WeeklyPaymentStatus string

const (
	WeeklyPaymentPending WeeklyPaymentStatus = "pending"
	WeeklyPaymentPaid    WeeklyPaymentStatus = "paid"
)

type WeeklyPayment struct {
	ID               uuid.UUID           `db:"id" json:"id"`
	TherapistID      uuid.UUID           `db:"therapist_id" json:"therapist_id"`
	WeekStart        time.Time           `db:"week_start" json:"week_start"`
	WeekEnd          time.Time           `db:"week_end" json:"week_end"`
	TotalAssignments int                 `db:"total_assignments" json:"total_assignments"`
	TotalHours       decimal.Decimal     `db:"total_hours" json:"total_hours"`
	TotalFee         decimal.Decimal     `db:"total_fee" json:"total_fee"`
	PaymentStatus    WeeklyPaymentStatus `db:"payment_status" json:"payment_status"`
	PaidAmount       decimal.NullDecimal `db:"paid_amount" json:"paid_amount,omitempty"`
	PaidAt           *time.Time          `db:"paid_at" json:"paid_at,omitempty"`
	PaymentReference *string             `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

type GenerateWeeklyPaymentRequest struct {
	TherapistID uuid.UUID `json:"therapist_id" binding:"required"`
	WeekStart   string    `json:"week_start" binding:"required"`
}

type MarkPaidRequest struct {
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	PaidAt    *time.Time      `json:"paid_at"`
	Reference string          `json:"reference" binding:"required,max=200"`
}
