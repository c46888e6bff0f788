package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
	"github.com/jwalitptl/massage-booking/pkg/logger"
)

// Emitter records notification events in the outbox. The relay publishes
// them after the booking transaction that produced them has committed.
type Emitter struct {
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
	now        func() time.Time
}

func NewEmitter(outboxRepo repository.OutboxRepository, log *logger.Logger) *Emitter {
	return &Emitter{
		outboxRepo: outboxRepo,
		logger:     log,
		now:        time.Now,
	}
}

func (e *Emitter) Notify(ctx context.Context, eventType model.NotificationEventType, payload *model.NotificationPayload) error {
	if payload == nil {
		return fmt.Errorf("notification payload cannot be nil")
	}

	msg := model.NotificationMessage{
		EventID:   uuid.New(),
		Type:      eventType,
		Payload:   *payload,
		CreatedAt: e.now(),
	}
	payloadJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		ID:        msg.EventID,
		EventType: string(eventType),
		Payload:   payloadJSON,
	}
	if err := e.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	e.logger.Debug("Queued notification",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"booking_id", payload.BookingCode)
	return nil
}
