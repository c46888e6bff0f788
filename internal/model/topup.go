package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TopUp is a reschedule price difference captured on its own payment intent.
// Refunded never exceeds Amount.
type TopUp struct {
	IntentID   string          `json:"intent_id"`
	Amount     decimal.Decimal `json:"amount"`
	Refunded   decimal.Decimal `json:"refunded"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Held is what the intent still holds for the booking.
func (t TopUp) Held() decimal.Decimal {
	return t.Amount.Sub(t.Refunded)
}

// TopUps is stored as a JSONB array on the booking row, so it is written by
// the same conditional update as the rest of the booking.
type TopUps []TopUp

func (t TopUps) Held() decimal.Decimal {
	total := decimal.Zero
	for _, tu := range t {
		total = total.Add(tu.Held())
	}
	return total
}

// Add records a newly captured difference.
func (t TopUps) Add(intentID string, amount decimal.Decimal, at time.Time) TopUps {
	return append(t, TopUp{IntentID: intentID, Amount: amount, Refunded: decimal.Zero, CapturedAt: at})
}

// RecordRefund marks amount as returned from the given intent, newest entry
// first when an intent was reused.
func (t TopUps) RecordRefund(intentID string, amount decimal.Decimal) error {
	held := decimal.Zero
	found := false
	for _, tu := range t {
		if tu.IntentID == intentID {
			held = held.Add(tu.Held())
			found = true
		}
	}
	if !found {
		return fmt.Errorf("unknown top-up intent %s", intentID)
	}
	if amount.GreaterThan(held) {
		return fmt.Errorf("refund %s exceeds %s held on %s", amount.StringFixed(2), held.StringFixed(2), intentID)
	}
	for i := len(t) - 1; i >= 0 && amount.IsPositive(); i-- {
		if t[i].IntentID != intentID {
			continue
		}
		part := decimal.Min(amount, t[i].Held())
		t[i].Refunded = t[i].Refunded.Add(part)
		amount = amount.Sub(part)
	}
	return nil
}

// Value is a string because lib/pq sends []byte parameters as bytea.
func (t TopUps) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (t *TopUps) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TopUps", src)
	}
	return json.Unmarshal(raw, t)
}
