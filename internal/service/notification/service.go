package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/pool"

	"github.com/jwalitptl/massage-booking/internal/email"
	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/sms"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

type Config struct {
	// PublicBaseURL prefixes the cancel and reschedule links.
	PublicBaseURL string
	AdminEmail    string
	// Attempts per channel, including the first.
	Attempts   int
	RetryDelay time.Duration
	// DedupeWindow is how long a delivered event id is remembered.
	DedupeWindow time.Duration
}

// Service renders notification events and delivers them over email and SMS.
type Service struct {
	email  email.Service
	sms    sms.Service
	cfg    Config
	logger *logger.Logger
	seen   *cache.Cache
}

func NewService(emailSvc email.Service, smsSvc sms.Service, cfg Config, log *logger.Logger) *Service {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Hour
	}
	return &Service{
		email:  emailSvc,
		sms:    smsSvc,
		cfg:    cfg,
		logger: log,
		seen:   cache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow),
	}
}

// delivery is one message to one address over one channel.
type delivery struct {
	channel   model.NotificationChannel
	recipient Recipient
	address   string
	subject   string
	body      string
}

// Deliver sends every message the event calls for. Channels are attempted
// independently: a failed email never prevents the SMS. The returned error
// joins the per-channel NotificationErrors.
func (s *Service) Deliver(ctx context.Context, msg *model.NotificationMessage) error {
	// relays are at-least-once
	if err := s.seen.Add(msg.EventID.String(), struct{}{}, cache.DefaultExpiration); err != nil {
		s.logger.Info("Skipping duplicate notification", "event_id", msg.EventID.String(), "event_type", string(msg.Type))
		return nil
	}

	deliveries, err := s.plan(msg)
	if err != nil {
		return apperrors.NewNotification("render", err)
	}
	if len(deliveries) == 0 {
		s.logger.Warn("Notification has no reachable recipients",
			"event_type", string(msg.Type), "booking_id", msg.Payload.BookingCode)
		return nil
	}

	p := pool.New().WithErrors()
	for _, d := range deliveries {
		d := d
		p.Go(func() error {
			return s.send(ctx, msg, d)
		})
	}
	return p.Wait()
}

func (s *Service) plan(msg *model.NotificationMessage) ([]delivery, error) {
	v := &view{NotificationPayload: msg.Payload}
	if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" {
		if msg.Payload.CancelToken != "" {
			v.CancelURL = base + "/cancel/" + msg.Payload.CancelToken
		}
		if msg.Payload.RescheduleToken != "" {
			v.RescheduleURL = base + "/reschedule/" + msg.Payload.RescheduleToken
		}
	}

	contacts := []struct {
		recipient    Recipient
		email, phone string
	}{
		{RecipientCustomer, msg.Payload.CustomerEmail, msg.Payload.CustomerPhone},
		{RecipientTherapist, msg.Payload.TherapistEmail, msg.Payload.TherapistPhone},
		{RecipientAdmin, s.cfg.AdminEmail, ""},
	}

	var out []delivery
	for _, c := range contacts {
		r, ok, err := render(msg.Type, c.recipient, v)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if c.email != "" {
			out = append(out, delivery{
				channel: model.ChannelEmail, recipient: c.recipient, address: c.email,
				subject: r.Subject, body: r.Body,
			})
		}
		if c.phone != "" && r.SMS != "" {
			out = append(out, delivery{
				channel: model.ChannelSMS, recipient: c.recipient, address: c.phone,
				body: r.SMS,
			})
		}
	}
	return out, nil
}

func (s *Service) send(ctx context.Context, msg *model.NotificationMessage, d delivery) error {
	op := func() error {
		var err error
		switch d.channel {
		case model.ChannelEmail:
			err = s.email.Send(ctx, email.Message{To: d.address, Subject: d.subject, Body: d.body})
		case model.ChannelSMS:
			err = s.sms.Send(ctx, d.address, d.body)
		default:
			err = fmt.Errorf("unknown channel %q", d.channel)
		}
		if errors.Is(err, email.ErrNotConfigured) || errors.Is(err, sms.ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.Attempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		metrics.NotificationDeliveries.WithLabelValues(string(d.channel), string(msg.Type), "error").Inc()
		s.logger.Error(err, "Notification delivery failed",
			"channel", string(d.channel),
			"recipient", string(d.recipient),
			"event_type", string(msg.Type),
			"booking_id", msg.Payload.BookingCode)
		return apperrors.NewNotification(string(d.channel), fmt.Errorf("%s: %w", d.recipient, err))
	}

	metrics.NotificationDeliveries.WithLabelValues(string(d.channel), string(msg.Type), "sent").Inc()
	return nil
}
