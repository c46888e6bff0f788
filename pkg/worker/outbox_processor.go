package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/messaging"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
	"github.com/jwalitptl/massage-booking/pkg/repository"
)

type OutboxProcessorConfig struct {
	Topic        string
	BatchSize    int
	PollInterval time.Duration
	// Lease is how long a claimed event stays invisible to other relays.
	Lease time.Duration
	// MaxRetries is the number of failed relay rounds before an event is
	// marked failed for good.
	MaxRetries int
	// PublishAttempts bounds the in-round retries against the broker.
	PublishAttempts int
	RetryDelay      time.Duration
	// RetryBase and RetryMax shape the delay between relay rounds.
	RetryBase time.Duration
	RetryMax  time.Duration
}

func (c *OutboxProcessorConfig) validate() error {
	switch {
	case c.Topic == "":
		return errors.New("topic is required")
	case c.BatchSize <= 0:
		return errors.New("batch size must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("poll interval must be greater than 0")
	case c.MaxRetries <= 0:
		return errors.New("max retries must be greater than 0")
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Minute
	}
	return nil
}

// OutboxProcessor relays committed outbox events to the broker.
type OutboxProcessor struct {
	repo   repository.OutboxStore
	broker messaging.Broker
	config OutboxProcessorConfig
	logger *logger.Logger
	now    func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxStore,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}
	return &OutboxProcessor{
		repo:   repo,
		broker: broker,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "topic", p.config.Topic)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch relays one batch and reports how many events were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	attempts := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(p.config.PublishAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		return p.broker.Publish(ctx, p.config.Topic, event.Payload)
	}, attempts)

	if err != nil {
		errStr := err.Error()
		var retryAt *time.Time
		if event.RetryCount+1 < p.config.MaxRetries {
			at := p.now().Add(p.retryDelay(event.RetryCount))
			retryAt = &at
			metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		} else {
			metrics.OutboxEventsFailed.Inc()
		}
		if updateErr := p.repo.MarkFailed(ctx, event.ID, errStr, retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		// the lease expires and the event is relayed again; consumers dedupe on event id
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}
	return nil
}

// retryDelay is the exponential delay before relay round retryCount+1.
func (p *OutboxProcessor) retryDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryBase
	b.MaxInterval = p.config.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
