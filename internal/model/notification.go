package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NotificationEventType string

const (
	EventBookingCreated      NotificationEventType = "booking_created"
	EventTherapistRequest    NotificationEventType = "therapist_request"
	EventBookingConfirmed    NotificationEventType = "booking_confirmed"
	EventBookingDeclined     NotificationEventType = "booking_declined"
	EventBookingCancelled    NotificationEventType = "booking_cancelled"
	EventRescheduleRequested NotificationEventType = "reschedule_requested"
)

// NotificationEventTypes lists every event the booking core emits.
var NotificationEventTypes = []NotificationEventType{
	EventBookingCreated,
	EventTherapistRequest,
	EventBookingConfirmed,
	EventBookingDeclined,
	EventBookingCancelled,
	EventRescheduleRequested,
}

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
)

// NotificationPayload carries everything a template needs; delivery code
// never reads the booking tables.
type NotificationPayload struct {
	BookingID       uuid.UUID        `json:"booking_uuid"`
	BookingCode     string           `json:"booking_id"`
	ServiceName     string           `json:"service_name,omitempty"`
	BookingTime     time.Time        `json:"booking_time"`
	LocalTime       string           `json:"local_time"`
	DurationMinutes int              `json:"duration_minutes"`
	CustomerName    string           `json:"customer_name"`
	CustomerEmail   string           `json:"customer_email,omitempty"`
	CustomerPhone   string           `json:"customer_phone,omitempty"`
	TherapistName   string           `json:"therapist_name,omitempty"`
	TherapistEmail  string           `json:"therapist_email,omitempty"`
	TherapistPhone  string           `json:"therapist_phone,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	TherapistFee    decimal.Decimal  `json:"therapist_fee"`
	RefundAmount    *decimal.Decimal `json:"refund_amount,omitempty"`
	CancellationFee *decimal.Decimal `json:"cancellation_fee,omitempty"`
	PriceDifference *decimal.Decimal `json:"price_difference,omitempty"`
	PreviousTime    string           `json:"previous_time,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	CancelToken     string           `json:"cancel_token,omitempty"`
	RescheduleToken string           `json:"reschedule_token,omitempty"`
}

// NotificationMessage is the envelope relayed through the broker.
type NotificationMessage struct {
	EventID   uuid.UUID             `json:"event_id"`
	Type      NotificationEventType `json:"type"`
	Payload   NotificationPayload   `json:"payload"`
	CreatedAt time.Time             `json:"created_at"`
}
