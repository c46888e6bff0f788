package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/massage-booking/pkg/circuitbreaker"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/messaging"
)

// RedisBroker queues messages on Redis lists, so a message published while
// no worker runs is still delivered once one starts.
type RedisBroker struct {
	client    *redis.Client
	cb        *circuitbreaker.CircuitBreaker
	logger    *logger.Logger
	keyPrefix string
	block     time.Duration
}

type Config struct {
	URL          string
	KeyPrefix    string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	// BlockTimeout bounds each BLPOP so Consume notices cancellation.
	BlockTimeout time.Duration
}

func NewRedisBroker(config Config, log *logger.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newBroker(client, config, log), nil
}

func newBroker(client *redis.Client, config Config, log *logger.Logger) *RedisBroker {
	block := config.BlockTimeout
	if block <= 0 {
		block = 2 * time.Second
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "massage_booking:queue:"
	}
	return &RedisBroker{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-broker",
			MaxRequests: 100,
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
		}),
		logger:    log,
		keyPrefix: prefix,
		block:     block,
	}
}

func (b *RedisBroker) key(topic string) string {
	return b.keyPrefix + topic
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.cb.Execute(func() error {
		return b.client.RPush(ctx, b.key(topic), payload).Err()
	})
}

func (b *RedisBroker) Consume(ctx context.Context, topic string, handler messaging.Handler) error {
	key := b.key(topic)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := b.client.BLPop(ctx, b.block, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return messaging.ErrClosed
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error(err, "Failed to read from queue", "topic", topic)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// res is [key, value]
		if err := handler(ctx, []byte(res[1])); err != nil {
			b.logger.Warn("Message handler failed", "topic", topic, "error", err.Error())
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
