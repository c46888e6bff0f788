package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/massage-booking/internal/handler/booking"
	"github.com/jwalitptl/massage-booking/internal/handler/health"
	"github.com/jwalitptl/massage-booking/internal/handler/payment"
	"github.com/jwalitptl/massage-booking/internal/handler/payroll"
	"github.com/jwalitptl/massage-booking/internal/handler/pricing"
	"github.com/jwalitptl/massage-booking/internal/middleware"
	"github.com/jwalitptl/massage-booking/pkg/auth"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

type Handlers struct {
	Booking *booking.Handler
	Pricing *pricing.Handler
	Payroll *payroll.Handler
	Payment *payment.Handler
	Health  *health.Handler
}

type RouterConfig struct {
	ServiceName  string
	RateLimit    rate.Limit
	RateBurst    int
	RateIdleTTL  time.Duration
	Timeout      time.Duration
	MaxBodyBytes int64
	CORSConfig   middleware.CORSConfig
	Security     middleware.SecurityConfig
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	handlers Handlers
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) *Router {
	// Set production mode
	gin.SetMode(gin.ReleaseMode)
	middleware.RegisterBindingValidators()

	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 10
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:    config.RateLimit,
			Burst:   config.RateBurst,
			IdleTTL: config.RateIdleTTL,
		}),
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(config.ServiceName),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.Timeout(config.Timeout),
		middleware.ErrorHandler(),
	)

	r.setup()
	return r
}

func (r *Router) setup() {
	api := r.engine.Group("/api/v1")

	r.handlers.Health.RegisterRoutes(api)

	// Public routes: anyone with an emailed link can reach these
	public := api.Group("", r.limiter.RateLimit())
	r.handlers.Pricing.RegisterPublicRoutes(public)
	r.handlers.Booking.RegisterPublicRoutes(public)
	r.handlers.Payment.RegisterPublicRoutes(public)

	// Back-office routes
	protected := api.Group("", r.auth.Authenticate(), r.auth.RequireRole(auth.RoleAdmin, auth.RoleTherapist))
	r.handlers.Booking.RegisterRoutes(protected, r.auth)

	admin := protected.Group("", r.auth.RequireRole(auth.RoleAdmin))
	r.handlers.Pricing.RegisterRoutes(admin)
	r.handlers.Payroll.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()

		if code >= 400 {
			class := "client"
			if code >= 500 {
				class = "server"
			}
			metrics.HTTPErrors.WithLabelValues(c.Request.Method, path, class).Inc()
		}
	}
}
