package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "massage_booking"

// Booking policy metrics
var (
	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "booking",
		Name:      "transitions_total",
		Help:      "Total number of committed booking status transitions",
	}, []string{"from", "to"})

	PolicyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "booking",
		Name:      "policy_rejections_total",
		Help:      "Total number of rejected booking operations by reason",
	}, []string{"operation", "reason"})

	PriceQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pricing",
		Name:      "quotes_total",
		Help:      "Total number of computed prices",
	}, []string{"path", "status"})

	RateDataMissing = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pricing",
		Name:      "rate_data_missing_total",
		Help:      "Lookups that failed because pricing or rate configuration was missing",
	}, []string{"kind"})
)

// Payment gateway metrics
var (
	GatewayOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "gateway_operations_total",
		Help:      "Total number of payment gateway calls",
	}, []string{"operation", "status"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "gateway_operation_duration_seconds",
		Help:      "Duration of payment gateway calls",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})
)

// Notification metrics
var (
	NotificationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notification",
		Name:      "deliveries_total",
		Help:      "Total number of notification deliveries per channel",
	}, []string{"channel", "event_type", "status"})

	NotificationEmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notification",
		Name:      "emit_failures_total",
		Help:      "Notifications that could not be queued after a committed transition",
	}, []string{"event_type"})
)

// Outbox related metrics
var (
	OutboxEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_processed_total",
		Help:      "Total number of successfully processed outbox events",
	})

	OutboxEventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Total number of failed outbox events",
	})

	OutboxProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "processing_duration_seconds",
		Help:      "Time spent processing outbox events",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	OutboxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "retry_attempts_total",
		Help:      "Total number of retry attempts for outbox events",
	}, []string{"event_type"})

	DatabaseOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "operations_total",
		Help:      "Total number of database operations",
	}, []string{"operation", "status"})
)

// Payroll metrics
var (
	WeeklyPaymentsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payroll",
		Name:      "weekly_payments_total",
		Help:      "Weekly payment generation outcomes",
	}, []string{"outcome"})
)

// HTTP metrics
var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "errors_total",
		Help:      "Total number of HTTP responses with status >= 400",
	}, []string{"method", "path", "class"})
)
