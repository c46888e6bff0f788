// Package app builds the dependency graph shared by the api, worker and
// bookingctl binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/massage-booking/internal/config"
	"github.com/jwalitptl/massage-booking/internal/payment"
	"github.com/jwalitptl/massage-booking/internal/repository"
	"github.com/jwalitptl/massage-booking/internal/repository/cache"
	"github.com/jwalitptl/massage-booking/internal/repository/postgres"
	"github.com/jwalitptl/massage-booking/internal/service/booking"
	"github.com/jwalitptl/massage-booking/internal/service/event"
	"github.com/jwalitptl/massage-booking/internal/service/fee"
	"github.com/jwalitptl/massage-booking/internal/service/payroll"
	"github.com/jwalitptl/massage-booking/internal/service/pricing"
	"github.com/jwalitptl/massage-booking/pkg/circuitbreaker"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/obs"
)

type Repositories struct {
	Bookings       repository.BookingRepository
	Services       repository.ServiceRepository
	Therapists     repository.TherapistRepository
	PricingRules   *cache.PricingRuleRepository
	RateCards      *cache.RateCardRepository
	WeeklyPayments repository.WeeklyPaymentRepository
	Outbox         repository.OutboxRepository
}

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *sqlx.DB
	Repos    Repositories
	Pricing  *pricing.Calculator
	Fees     *fee.Calculator
	Payroll  *payroll.Service
	Gateway  payment.Gateway
	Bookings *booking.Service
}

// NewLogger builds the process logger and installs it as zerolog's global.
func NewLogger(cfg *config.Config, service string) *logger.Logger {
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     cfg.Log.Pretty,
		Service:    service,
	})
	logger.SetGlobal(log)
	return log
}

// InitTracing wires OpenTelemetry for one binary.
func InitTracing(ctx context.Context, cfg *config.Config, service string) (func(context.Context) error, error) {
	return obs.InitTracer(ctx, obs.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName + "-" + service,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := postgres.Open(ctx, cfg.Database.DSN(), postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	return Build(cfg, db, log), nil
}

// Build assembles repositories and services on an open database.
func Build(cfg *config.Config, db *sqlx.DB, log *logger.Logger) *App {
	loc := cfg.Business.Location()
	base := postgres.NewBaseRepository(db)

	repos := Repositories{
		Bookings:       postgres.NewBookingRepository(base),
		Services:       postgres.NewServiceRepository(base),
		Therapists:     postgres.NewTherapistRepository(base),
		PricingRules:   cache.NewPricingRuleRepository(postgres.NewPricingRuleRepository(base), cfg.Cache.TTL),
		RateCards:      cache.NewRateCardRepository(postgres.NewRateCardRepository(base), cfg.Cache.TTL),
		WeeklyPayments: postgres.NewWeeklyPaymentRepository(base),
		Outbox:         postgres.NewOutboxRepository(base),
	}

	prices := pricing.NewCalculator(repos.PricingRules, repos.Services, loc, log)
	fees := fee.NewCalculator(repos.RateCards, loc, fee.BusinessHours{
		Open:  cfg.Business.OpenHour,
		Close: cfg.Business.CloseHour,
	}, log)
	gateway := NewGateway(cfg, log)

	bookings := booking.NewService(
		repos.Bookings,
		repos.Services,
		repos.Therapists,
		prices,
		fees,
		gateway,
		event.NewEmitter(repos.Outbox, log),
		booking.Config{
			Location:       loc,
			CodePrefix:     cfg.Business.CodePrefix,
			ResponseWindow: cfg.Business.ResponseWindow,
		},
		log,
	)

	return &App{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Repos:    repos,
		Pricing:  prices,
		Fees:     fees,
		Payroll:  payroll.NewService(repos.WeeklyPayments, loc, log, payroll.WithConcurrency(cfg.Business.PayrollParallel)),
		Gateway:  gateway,
		Bookings: bookings,
	}
}

// NewGateway returns the Stripe adapter, or a gateway that rejects every
// call when no key is configured.
func NewGateway(cfg *config.Config, log *logger.Logger) payment.Gateway {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("Stripe secret key not set, payment operations will fail")
		return payment.Unconfigured{}
	}
	return payment.NewStripeGateway(payment.StripeConfig{
		SecretKey: cfg.Stripe.SecretKey,
		Currency:  cfg.Stripe.Currency,
		Breaker: circuitbreaker.Settings{
			Name:             "stripe",
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}, log)
}

// Close waits for in-flight notification emits before closing the database.
func (a *App) Close() error {
	a.Bookings.Wait()
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
