package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/messaging"
)

type Config struct {
	URL         string
	Exchange    string
	Queue       string
	ConsumerTag string
	Prefetch    int
}

// Broker publishes to a durable topic exchange, using the topic as routing
// key. Consumers share one durable queue bound to the topics they read.
type Broker struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	cfg    Config
	logger *logger.Logger
}

func NewBroker(cfg Config, log *logger.Logger) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	return &Broker{conn: conn, ch: ch, cfg: cfg, logger: log}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	// amqp channels are not safe for concurrent publishing
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

// Consume acks handled messages. Failed ones are rejected without requeue,
// since handlers retry internally before giving up.
func (b *Broker) Consume(ctx context.Context, topic string, handler messaging.Handler) error {
	q, err := b.ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, topic, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", topic, err)
	}
	deliveries, err := b.ch.ConsumeWithContext(ctx, q.Name, b.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return messaging.ErrClosed
			}
			if err := handler(ctx, d.Body); err != nil {
				b.logger.Warn("Message handler failed", "topic", topic, "error", err.Error())
				if nackErr := d.Nack(false, false); nackErr != nil {
					b.logger.Error(nackErr, "Failed to reject message", "topic", topic)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				b.logger.Error(ackErr, "Failed to ack message", "topic", topic)
			}
		}
	}
}

func (b *Broker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
