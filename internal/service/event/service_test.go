package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/logger"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) Create(ctx context.Context, event *model.OutboxEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockOutbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	args := m.Called(ctx, limit, lease)
	return args.Get(0).([]*model.OutboxEvent), args.Error(1)
}

func (m *MockOutbox) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutbox) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	return m.Called(ctx, id, errMsg, retryAt).Error(0)
}

func (m *MockOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func TestNotify_WritesEnvelopeToOutbox(t *testing.T) {
	repo := new(MockOutbox)
	var stored *model.OutboxEvent
	repo.On("Create", mock.Anything, mock.AnythingOfType("*model.OutboxEvent")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*model.OutboxEvent) }).
		Return(nil)

	at := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	e := NewEmitter(repo, logger.Nop())
	e.now = func() time.Time { return at }

	refund := decimal.RequireFromString("100")
	payload := &model.NotificationPayload{
		BookingCode:  "RB2510001",
		CustomerName: "Jo",
		Price:        decimal.RequireFromString("200"),
		RefundAmount: &refund,
	}
	require.NoError(t, e.Notify(context.Background(), model.EventBookingCancelled, payload))
	repo.AssertExpectations(t)

	require.NotNil(t, stored)
	assert.Equal(t, "booking_cancelled", stored.EventType)

	var msg model.NotificationMessage
	require.NoError(t, json.Unmarshal(stored.Payload, &msg))
	assert.Equal(t, stored.ID, msg.EventID)
	assert.Equal(t, model.EventBookingCancelled, msg.Type)
	assert.Equal(t, "RB2510001", msg.Payload.BookingCode)
	assert.True(t, msg.Payload.RefundAmount.Equal(refund))
	assert.True(t, msg.CreatedAt.Equal(at))
}

func TestNotify_Errors(t *testing.T) {
	repo := new(MockOutbox)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	e := NewEmitter(repo, logger.Nop())

	err := e.Notify(context.Background(), model.EventBookingCreated, &model.NotificationPayload{})
	assert.ErrorContains(t, err, "db down")

	assert.Error(t, e.Notify(context.Background(), model.EventBookingCreated, nil))
}
