package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/jwalitptl/massage-booking/internal/app"
	"github.com/jwalitptl/massage-booking/internal/config"
	"github.com/jwalitptl/massage-booking/internal/email"
	"github.com/jwalitptl/massage-booking/internal/handler/health"
	"github.com/jwalitptl/massage-booking/internal/middleware"
	"github.com/jwalitptl/massage-booking/internal/service/notification"
	"github.com/jwalitptl/massage-booking/internal/sms"
	internalWorker "github.com/jwalitptl/massage-booking/internal/worker"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/worker"
)

func setupHealthCheck(port int, checks map[string]health.Check, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(checks).RegisterRoutes(&engine.RouterGroup)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := app.NewLogger(cfg, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := app.InitTracing(ctx, cfg, "worker")
	if err != nil {
		logger.Fatal(err, "Failed to initialise tracing")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "Failed to connect to database")
	}

	broker, err := app.NewBroker(cfg, logger)
	if err != nil {
		logger.Fatal(err, "Failed to create message broker", "driver", cfg.Broker.Driver)
	}

	topic := cfg.Broker.Channel

	// Outbox relay
	processor, err := worker.NewOutboxProcessor(a.Repos.Outbox, broker, worker.OutboxProcessorConfig{
		Topic:        topic,
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		Lease:        cfg.Outbox.Lease,
		MaxRetries:   cfg.Outbox.MaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal(err, "Failed to create outbox processor")
	}

	// Notification delivery
	notifier := notification.NewService(
		email.NewService(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, logger),
		sms.NewService(sms.Config{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
		}, logger),
		notification.Config{
			PublicBaseURL: cfg.Server.PublicBaseURL,
			AdminEmail:    cfg.Email.AdminAddress,
		},
		logger,
	)
	consumer := internalWorker.NewNotificationConsumer(broker, topic, notifier, logger)

	// Periodic jobs
	cleaner := worker.NewOutboxCleanupWorker(a.Repos.Outbox, cfg.Outbox.RetentionPeriod, logger)
	scheduler, err := internalWorker.NewScheduler(cfg.Scheduler, cfg.Business.Location(), a.Payroll, a.Bookings, cleaner, logger)
	if err != nil {
		logger.Fatal(err, "Failed to create scheduler")
	}

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.Server.WorkerPort, map[string]health.Check{
		"database": a.DB.PingContext,
	}, logger)

	var wg conc.WaitGroup
	wg.Go(func() { processor.Start(ctx) })
	wg.Go(func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(err, "Notification consumer stopped")
			cancel()
		}
	})
	scheduler.Start()
	logger.Info("Worker started", "broker", cfg.Broker.Driver, "topic", topic, "jobs", scheduler.Entries())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	scheduler.Stop(shutdownCtx)
	wg.Wait()
	if err := broker.Close(); err != nil {
		logger.Error(err, "Failed to close broker")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Failed to stop health server")
	}
	if err := a.Close(); err != nil {
		logger.Error(err, "Failed to close resources")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error(err, "Failed to flush traces")
	}
}
