package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingRule is a day/time window surcharge. StartTime and EndTime are local
// times of day in "HH:MM" or "HH:MM:SS" form, end exclusive.
type PricingRule struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	DayOfWeek        int             `db:"day_of_week" json:"day_of_week"`
	StartTime        string          `db:"start_time" json:"start_time"`
	EndTime          string          `db:"end_time" json:"end_time"`
	UpliftPercentage decimal.Decimal `db:"uplift_percentage" json:"uplift_percentage"`
	Label            string          `db:"label" json:"label"`
	Active           bool            `db:"active" json:"active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Matches reports whether local falls on the rule's day inside [StartTime, EndTime).
// An active rule with an invalid window is an error on every day, not a miss.
func (r *PricingRule) Matches(local time.Time) (bool, error) {
	if !r.Active {
		return false, nil
	}
	start, end, err := r.Window()
	if err != nil {
		return false, err
	}
	if int(local.Weekday()) != r.DayOfWeek {
		return false, nil
	}
	tod := TimeOfDayOf(local)
	return tod >= start && tod < end, nil
}

// Window parses the rule's bounds. Windows never cross midnight: an overnight
// surcharge is stored as two rules split at 00:00, so EndTime must be later
// than StartTime.
func (r *PricingRule) Window() (start, end TimeOfDay, err error) {
	start, err = ParseTimeOfDay(r.StartTime)
	if err != nil {
		return 0, 0, fmt.Errorf("rule %s start: %w", r.ID, err)
	}
	end, err = ParseTimeOfDay(r.EndTime)
	if err != nil {
		return 0, 0, fmt.Errorf("rule %s end: %w", r.ID, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("rule %s window %s-%s is empty or crosses midnight; split it at 00:00",
			r.ID, r.StartTime, r.EndTime)
	}
	return start, end, nil
}

// IsWeekend reports whether the rule targets Saturday or Sunday
func (r *PricingRule) IsWeekend() bool {
	return r.DayOfWeek == int(time.Saturday) || r.DayOfWeek == int(time.Sunday)
}

// TimeOfDay is seconds since local midnight.
type TimeOfDay int

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS"; "24:00" is allowed as an end bound.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = v
	}
	h, m, sec := vals[0], vals[1], vals[2]
	if h < 0 || h > 24 || m < 0 || m > 59 || sec < 0 || sec > 59 || (h == 24 && (m > 0 || sec > 0)) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

type Urgency string

const (
	UrgencyStandard    Urgency = ""
	UrgencyFlexible    Urgency = "flexible"
	UrgencyWithin3Days Urgency = "within_3_days"
	Urgency24Hours     Urgency = "24_hours"
)

// HasPremium reports whether the urgency attracts the quote premium
func (u Urgency) HasPremium() bool {
	return u == UrgencyWithin3Days || u == Urgency24Hours
}

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyStandard, UrgencyFlexible, UrgencyWithin3Days, Urgency24Hours:
		return true
	}
	return false
}

// PriceBreakdown is the client-facing price. TimeUplift and WeekendUplift are
// amounts; at most one of them is non-zero.
type PriceBreakdown struct {
	Base           decimal.Decimal `json:"base"`
	UpliftPercent  decimal.Decimal `json:"uplift_percent"`
	UpliftLabel    string          `json:"uplift_label,omitempty"`
	TimeUplift     decimal.Decimal `json:"time_uplift"`
	WeekendUplift  decimal.Decimal `json:"weekend_uplift"`
	UrgencyPremium decimal.Decimal `json:"urgency_premium"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	GST            decimal.Decimal `json:"gst"`
	Total          decimal.Decimal `json:"total"`
}

type QuoteRequest struct {
	ServiceID       uuid.UUID `json:"service_id" binding:"required"`
	BookingTime     time.Time `json:"booking_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,gt=0"`
	SessionCount    int       `json:"session_count" binding:"omitempty,gte=1,lte=52"`
	DiscountPercent float64   `json:"discount_percent" binding:"gte=0,lte=100"`
	Urgency         Urgency   `json:"urgency" binding:"omitempty,oneof=flexible within_3_days 24_hours"`
}
