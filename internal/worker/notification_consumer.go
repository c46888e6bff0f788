package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/messaging"
)

type Deliverer interface {
	Deliver(ctx context.Context, msg *model.NotificationMessage) error
}

// NotificationConsumer feeds relayed notification events to the deliverer.
type NotificationConsumer struct {
	broker    messaging.Broker
	topic     string
	deliverer Deliverer
	logger    *logger.Logger
}

func NewNotificationConsumer(broker messaging.Broker, topic string, deliverer Deliverer, log *logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		broker:    broker,
		topic:     topic,
		deliverer: deliverer,
		logger:    log,
	}
}

// Run blocks until ctx is cancelled or the broker goes away.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	c.logger.Info("Starting notification consumer", "topic", c.topic)
	return c.broker.Consume(ctx, c.topic, c.Handle)
}

// Handle rejects only undecodable messages. Delivery failures were already
// retried per channel and are logged, not redelivered.
func (c *NotificationConsumer) Handle(ctx context.Context, payload []byte) error {
	var msg model.NotificationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Error(err, "Dropping malformed notification message")
		return fmt.Errorf("failed to decode notification: %w", err)
	}

	if err := c.deliverer.Deliver(ctx, &msg); err != nil {
		c.logger.Warn("Notification partially delivered",
			"event_id", msg.EventID.String(),
			"event_type", string(msg.Type),
			"booking_id", msg.Payload.BookingCode,
			"error", err.Error())
	}
	return nil
}
