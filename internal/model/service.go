package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is a bookable massage type. BasePrice is nullable so an unpriced
// service is detected instead of quoting $0.
type Service struct {
	Base
	Name               string              `db:"name" json:"name"`
	Description        string              `db:"description" json:"description"`
	BasePrice          decimal.NullDecimal `db:"base_price" json:"base_price"`
	MinDurationMinutes int                 `db:"min_duration_minutes" json:"min_duration_minutes"`
	Active             bool                `db:"active" json:"active"`
}

type Therapist struct {
	Base
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone,omitempty"`
	Active    bool   `db:"active" json:"active"`
}

func (t *Therapist) FullName() string {
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// TherapistRateCard holds hourly rates. A nil ServiceID marks the therapist's
// profile-level default.
type TherapistRateCard struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	TherapistID    uuid.UUID           `db:"therapist_id" json:"therapist_id"`
	ServiceID      *uuid.UUID          `db:"service_id" json:"service_id,omitempty"`
	NormalRate     decimal.NullDecimal `db:"normal_rate" json:"normal_rate"`
	AfterHoursRate decimal.NullDecimal `db:"afterhours_rate" json:"afterhours_rate"`
}

type RateType string

const (
	RateTypeDaytime    RateType = "daytime"
	RateTypeAfterHours RateType = "afterhours"
	RateTypeWeekend    RateType = "weekend"
)

type FeeBreakdown struct {
	Fee            decimal.Decimal `json:"fee"`
	HourlyRateUsed decimal.Decimal `json:"hourly_rate_used"`
	RateType       RateType        `json:"rate_type"`
	RateSource     string          `json:"rate_source"`
}

type FeeQuoteRequest struct {
	TherapistID     uuid.UUID `json:"therapist_id" binding:"required"`
	ServiceID       uuid.UUID `json:"service_id" binding:"required"`
	BookingTime     time.Time `json:"booking_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,gt=0"`
}
