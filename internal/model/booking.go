package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusRequested         BookingStatus = "requested"
	BookingStatusPending           BookingStatus = "pending"
	BookingStatusConfirmed         BookingStatus = "confirmed"
	BookingStatusInProgress        BookingStatus = "in_progress"
	BookingStatusCompleted         BookingStatus = "completed"
	BookingStatusDeclined          BookingStatus = "declined"
	BookingStatusCancelled         BookingStatus = "cancelled"
	BookingStatusClientCancelled   BookingStatus = "client_cancelled"
	BookingStatusSeekingAlternate  BookingStatus = "seeking_alternate"
	BookingStatusTimeoutReassigned BookingStatus = "timeout_reassigned"
)

// MaxReschedules is the number of client reschedules a booking allows.
const MaxReschedules = 2

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusRequested: {
		BookingStatusPending, BookingStatusDeclined, BookingStatusCancelled,
		BookingStatusClientCancelled, BookingStatusSeekingAlternate,
	},
	BookingStatusPending: {
		BookingStatusPending, BookingStatusConfirmed, BookingStatusDeclined, BookingStatusCancelled,
		BookingStatusClientCancelled, BookingStatusSeekingAlternate, BookingStatusTimeoutReassigned,
	},
	BookingStatusConfirmed: {
		BookingStatusPending, BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled,
		BookingStatusClientCancelled, BookingStatusSeekingAlternate,
	},
	BookingStatusInProgress: {
		BookingStatusCompleted,
	},
	BookingStatusSeekingAlternate: {
		BookingStatusPending, BookingStatusCancelled, BookingStatusClientCancelled,
	},
	BookingStatusTimeoutReassigned: {
		BookingStatusPending, BookingStatusCancelled, BookingStatusClientCancelled,
	},
}

// IsTerminal reports whether no further transition is allowed
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusClientCancelled, BookingStatusDeclined:
		return true
	}
	return false
}

func (s BookingStatus) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusAuthorized    PaymentStatus = "authorized"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

type Booking struct {
	Base
	BookingCode     string        `db:"booking_code" json:"booking_id"`
	CustomerID      uuid.UUID     `db:"customer_id" json:"customer_id"`
	CustomerName    string        `db:"customer_name" json:"customer_name"`
	CustomerEmail   string        `db:"customer_email" json:"customer_email"`
	CustomerPhone   string        `db:"customer_phone" json:"customer_phone,omitempty"`
	TherapistID     *uuid.UUID    `db:"therapist_id" json:"therapist_id,omitempty"`
	ServiceID       uuid.UUID     `db:"service_id" json:"service_id"`
	BookingTime     time.Time     `db:"booking_time" json:"booking_time"`
	Timezone        string        `db:"timezone" json:"timezone"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Address         string        `db:"address" json:"address,omitempty"`
	Notes           string        `db:"notes" json:"notes,omitempty"`
	Status          BookingStatus `db:"status" json:"status"`

	Price          decimal.Decimal `db:"price" json:"price"`
	TherapistFee   decimal.Decimal `db:"therapist_fee" json:"therapist_fee"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`

	RescheduleCount     int                 `db:"reschedule_count" json:"reschedule_count"`
	OriginalBookingTime *time.Time          `db:"original_booking_time" json:"original_booking_time,omitempty"`
	OriginalTherapistID *uuid.UUID          `db:"original_therapist_id" json:"original_therapist_id,omitempty"`
	OriginalClientFee   decimal.NullDecimal `db:"original_client_fee" json:"original_client_fee,omitempty"`

	PaymentIntentID *string       `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	TopUps          TopUps        `db:"top_ups" json:"top_ups,omitempty"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`

	// Version increments on every write; conditional updates match it.
	Version int `db:"version" json:"-"`

	CancelTokenHash     string `db:"cancel_token_hash" json:"-"`
	RescheduleTokenHash string `db:"reschedule_token_hash" json:"-"`
}

// HasPaymentIntent reports whether an external payment reference exists
func (b *Booking) HasPaymentIntent() bool {
	return b.PaymentIntentID != nil && *b.PaymentIntentID != ""
}

// PrimaryAmount is the part of Price held on the primary payment intent.
func (b *Booking) PrimaryAmount() decimal.Decimal {
	return b.Price.Sub(b.TopUps.Held())
}

// HoursUntil is the time left before the appointment, in hours
func (b *Booking) HoursUntil(now time.Time) float64 {
	return b.BookingTime.Sub(now).Hours()
}

type StatusHistoryEntry struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	BookingID  uuid.UUID     `db:"booking_id" json:"booking_id"`
	FromStatus BookingStatus `db:"from_status" json:"from_status,omitempty"`
	Status     BookingStatus `db:"status" json:"status"`
	ChangedBy  string        `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time     `db:"changed_at" json:"changed_at"`
	Notes      string        `db:"notes" json:"notes,omitempty"`
}

type CreateBookingRequest struct {
	CustomerID      uuid.UUID  `json:"customer_id" binding:"required" validate:"required"`
	CustomerName    string     `json:"customer_name" binding:"required,max=200" validate:"required,max=200"`
	CustomerEmail   string     `json:"customer_email" binding:"required,email" validate:"required,email"`
	CustomerPhone   string     `json:"customer_phone" binding:"omitempty,e164" validate:"omitempty,e164"`
	ServiceID       uuid.UUID  `json:"service_id" binding:"required" validate:"required"`
	TherapistID     *uuid.UUID `json:"therapist_id"`
	BookingTime     time.Time  `json:"booking_time" binding:"required" validate:"required"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,gt=0" validate:"required,gt=0"`
	DiscountPercent float64    `json:"discount_percent" binding:"gte=0,lte=100" validate:"gte=0,lte=100"`
	Address         string     `json:"address" binding:"max=500" validate:"max=500"`
	Notes           string     `json:"notes" binding:"max=1000" validate:"max=1000"`
	PaymentIntentID string     `json:"payment_intent_id"`
}

type RescheduleRequest struct {
	NewBookingTime            time.Time  `json:"new_booking_time" binding:"required" validate:"required"`
	NewTherapistID            *uuid.UUID `json:"new_therapist_id"`
	AdditionalPaymentIntentID string     `json:"additional_payment_intent_id"`
}

// CreatedBooking carries the plaintext link tokens, which are never stored.
type CreatedBooking struct {
	Booking         *Booking `json:"booking"`
	CancelToken     string   `json:"cancel_token"`
	RescheduleToken string   `json:"reschedule_token"`
}

type BookingFilter struct {
	Status      BookingStatus `form:"status"`
	TherapistID *uuid.UUID    `form:"-"`
	CustomerID  *uuid.UUID    `form:"-"`
	From        *time.Time    `form:"-"`
	To          *time.Time    `form:"-"`
	Pagination
}

// CancellationOutcome is the policy decision for a client cancellation.
type CancellationOutcome struct {
	BookingCode     string          `json:"booking_id"`
	HoursUntil      float64         `json:"hours_until"`
	RefundPercent   int             `json:"refund_percent"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	CancellationFee decimal.Decimal `json:"cancellation_fee"`
	PaymentAction   string          `json:"payment_action"`
	Status          BookingStatus   `json:"status"`
}

// RescheduleOutcome is the policy decision for a client reschedule.
type RescheduleOutcome struct {
	BookingCode     string          `json:"booking_id"`
	OriginalUplift  decimal.Decimal `json:"original_uplift_percent"`
	NewUplift       decimal.Decimal `json:"new_uplift_percent"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	NewPrice        decimal.Decimal `json:"new_price"`
	PriceDifference decimal.Decimal `json:"price_difference"`
	TherapistFee    decimal.Decimal `json:"therapist_fee"`
	RescheduleCount int             `json:"reschedule_count"`
	NewBookingTime  time.Time       `json:"new_booking_time"`
	Status          BookingStatus   `json:"status"`
}
