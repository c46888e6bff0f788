package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

type memBookings struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]model.Booking
	history     []*model.StatusHistoryEntry
	assignments []*model.Assignment
	seq         int
	// beforeTransition runs inside Transition, used to simulate a concurrent writer.
	beforeTransition func(cur *model.Booking)
}

func newMemBookings() *memBookings {
	return &memBookings{byID: make(map[uuid.UUID]model.Booking)}
}

func (m *memBookings) put(b *model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[b.ID] = detach(*b)
}

func (m *memBookings) snapshot(id uuid.UUID) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return detach(m.byID[id])
}

// detach copies the top-up list so stored and returned bookings never share it.
func detach(b model.Booking) model.Booking {
	if b.TopUps != nil {
		b.TopUps = append(model.TopUps(nil), b.TopUps...)
	}
	return b
}

func (m *memBookings) Create(ctx context.Context, b *model.Booking, entry *model.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[b.ID] = *b
	m.history = append(m.history, entry)
	return nil
}

func (m *memBookings) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b = detach(b)
	return &b, nil
}

func (m *memBookings) GetByCode(ctx context.Context, code string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.BookingCode == code })
}

func (m *memBookings) GetByCancelToken(ctx context.Context, hash string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.CancelTokenHash == hash })
}

func (m *memBookings) GetByRescheduleToken(ctx context.Context, hash string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.RescheduleTokenHash == hash })
}

func (m *memBookings) find(match func(*model.Booking) bool) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		b := detach(b)
		if match(&b) {
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memBookings) List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Booking
	for _, b := range m.byID {
		b := detach(b)
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, &b)
	}
	return out, nil
}

func (m *memBookings) NextBookingCode(ctx context.Context, prefix string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("%s%s%03d", prefix, at.Format("0601"), m.seq), nil
}

func (m *memBookings) Transition(ctx context.Context, w *repository.TransitionWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[w.Booking.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if m.beforeTransition != nil {
		m.beforeTransition(&cur)
		m.byID[cur.ID] = cur
	}
	if cur.Status != w.Expected || cur.Version != w.ExpectedVersion {
		return repository.ErrStaleStatus
	}
	m.byID[w.Booking.ID] = detach(*w.Booking)
	m.history = append(m.history, w.Entry)
	if w.Assignment != nil {
		m.assignments = append(m.assignments, w.Assignment)
	}
	return nil
}

func (m *memBookings) History(ctx context.Context, id uuid.UUID) ([]*model.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.StatusHistoryEntry
	for _, e := range m.history {
		if e.BookingID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memBookings) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Booking
	for _, b := range m.byID {
		b := detach(b)
		if b.Status == model.BookingStatusPending && b.UpdatedAt.Before(before) {
			out = append(out, &b)
		}
	}
	return out, nil
}

type memServices map[uuid.UUID]*model.Service

func (m memServices) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (m memServices) List(ctx context.Context) ([]*model.Service, error) {
	var out []*model.Service
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

type memTherapists map[uuid.UUID]*model.Therapist

func (m memTherapists) Get(ctx context.Context, id uuid.UUID) (*model.Therapist, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

type memRules []*model.PricingRule

func (m memRules) ListActive(ctx context.Context) ([]*model.PricingRule, error) { return m, nil }
func (m memRules) List(ctx context.Context) ([]*model.PricingRule, error)       { return m, nil }

// flatFees pays a fixed hourly rate, doubled outside weekdays.
type flatFees struct {
	rate decimal.Decimal
}

func (f flatFees) ComputeFee(ctx context.Context, therapistID, serviceID uuid.UUID, at time.Time, minutes int) (*model.FeeBreakdown, error) {
	rate := f.rate
	rateType := model.RateTypeDaytime
	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		rate = rate.Mul(decimal.NewFromInt(2))
		rateType = model.RateTypeWeekend
	}
	return &model.FeeBreakdown{
		Fee:            decimal.NewFromInt(int64(minutes)).Mul(rate).Div(sixty).Round(2),
		HourlyRateUsed: rate,
		RateType:       rateType,
		RateSource:     "profile",
	}, nil
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, amount decimal.Decimal, customerToken string) (string, error) {
	args := m.Called(ctx, amount, customerToken)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CapturePartial(ctx context.Context, intentID string, amount decimal.Decimal) error {
	return m.Called(ctx, intentID, amount).Error(0)
}

func (m *MockGateway) CancelAuthorization(ctx context.Context, intentID string) error {
	return m.Called(ctx, intentID).Error(0)
}

func (m *MockGateway) Refund(ctx context.Context, intentID string, amount decimal.Decimal) error {
	return m.Called(ctx, intentID, amount).Error(0)
}

// amount matches a decimal argument by value.
func amount(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

type sentNotification struct {
	event   model.NotificationEventType
	payload *model.NotificationPayload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, event model.NotificationEventType, payload *model.NotificationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{event, payload})
	return r.err
}

func (r *recordingNotifier) events() []model.NotificationEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationEventType, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.event
	}
	return out
}
