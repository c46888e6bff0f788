package email

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/massage-booking/pkg/logger"
)

// ErrNotConfigured is returned by senders built without SMTP settings.
var ErrNotConfigured = errors.New("email delivery is not configured")

type Message struct {
	To      string
	Subject string
	Body    string
}

type Service interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

// NewService returns an SMTP sender, or a sender that only logs when no
// host is configured.
func NewService(cfg Config, log *logger.Logger) Service {
	if cfg.Host == "" {
		return &logService{logger: log}
	}
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type logService struct {
	logger *logger.Logger
}

func (s *logService) Send(_ context.Context, msg Message) error {
	s.logger.Warn("Email delivery not configured, dropping message", "to", msg.To, "subject", msg.Subject)
	return ErrNotConfigured
}
