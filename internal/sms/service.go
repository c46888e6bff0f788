package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/jwalitptl/massage-booking/pkg/logger"
)

var ErrNotConfigured = errors.New("sms delivery is not configured")

type Service interface {
	Send(ctx context.Context, to, body string) error
}

type Config struct {
	AccountSID string
	AuthToken  string
	From       string
}

type twilioService struct {
	client *twilio.RestClient
	from   string
}

func NewService(cfg Config, log *logger.Logger) Service {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return &logService{logger: log}
	}
	return &twilioService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from: cfg.From,
	}
}

func (s *twilioService) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

type logService struct {
	logger *logger.Logger
}

func (s *logService) Send(_ context.Context, to, _ string) error {
	s.logger.Warn("SMS delivery not configured, dropping message", "to", to)
	return ErrNotConfigured
}
