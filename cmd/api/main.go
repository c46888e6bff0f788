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

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/massage-booking/internal/app"
	"github.com/jwalitptl/massage-booking/internal/config"
	bookingHandler "github.com/jwalitptl/massage-booking/internal/handler/booking"
	"github.com/jwalitptl/massage-booking/internal/handler/health"
	paymentHandler "github.com/jwalitptl/massage-booking/internal/handler/payment"
	payrollHandler "github.com/jwalitptl/massage-booking/internal/handler/payroll"
	pricingHandler "github.com/jwalitptl/massage-booking/internal/handler/pricing"
	"github.com/jwalitptl/massage-booking/internal/middleware"
	"github.com/jwalitptl/massage-booking/internal/router"
	"github.com/jwalitptl/massage-booking/pkg/auth"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg, "api")

	ctx := context.Background()
	shutdownTracing, err := app.InitTracing(ctx, cfg, "api")
	if err != nil {
		logger.Fatal(err, "failed to initialise tracing")
	}

	jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatal(err, "invalid JWT configuration")
	}

	// Initialize database, repositories and services
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to connect to database")
	}

	// Initialize handlers
	handlers := router.Handlers{
		Booking: bookingHandler.NewHandler(a.Bookings),
		Pricing: pricingHandler.NewHandler(a.Pricing, a.Fees, pricingHandler.RepositoryCatalog{
			Rules:    a.Repos.PricingRules,
			Services: a.Repos.Services,
		}),
		Payroll: payrollHandler.NewHandler(a.Payroll),
		Payment: paymentHandler.NewHandler(a.Gateway),
		Health: health.NewHandler(map[string]health.Check{
			"database": a.DB.PingContext,
		}),
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}

	// Setup router
	r := router.NewRouter(middleware.NewAuthMiddleware(jwtSvc), handlers, router.RouterConfig{
		ServiceName: cfg.Tracing.ServiceName,
		RateLimit:   rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:   cfg.RateLimit.Burst,
		RateIdleTTL: cfg.RateLimit.IdleTTL,
		Timeout:     time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		CORSConfig:  corsConfig,
		Security:    middleware.DefaultSecurityConfig(),
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		logger.Info("API listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
	}
	if err := a.Close(); err != nil {
		logger.Error(err, "failed to close resources")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error(err, "failed to flush traces")
	}

	logger.Info("server exited properly")
}
