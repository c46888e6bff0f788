package pricing

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

type Quoter interface {
	Quote(ctx context.Context, req *model.QuoteRequest) (*model.PriceBreakdown, error)
}

type FeeCalculator interface {
	ComputeFee(ctx context.Context, therapistID, serviceID uuid.UUID, bookingTime time.Time, durationMinutes int) (*model.FeeBreakdown, error)
}

type Catalog interface {
	ListRules(ctx context.Context) ([]*model.PricingRule, error)
	ListServices(ctx context.Context) ([]*model.Service, error)
}

type Handler struct {
	quoter  Quoter
	fees    FeeCalculator
	catalog Catalog
}

func NewHandler(quoter Quoter, fees FeeCalculator, catalog Catalog) *Handler {
	return &Handler{quoter: quoter, fees: fees, catalog: catalog}
}

func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/quotes", h.Quote)
	r.GET("/services", h.ListServices)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fees/quote", h.QuoteFee)
	r.GET("/pricing-rules", h.ListPricingRules)
}

// Quote prices a prospective booking without creating it.
func (h *Handler) Quote(c *gin.Context) {
	var req model.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	breakdown, err := h.quoter.Quote(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, breakdown)
}

func (h *Handler) QuoteFee(c *gin.Context) {
	var req model.FeeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	fee, err := h.fees.ComputeFee(c.Request.Context(), req.TherapistID, req.ServiceID, req.BookingTime, req.DurationMinutes)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, fee)
}

func (h *Handler) ListPricingRules(c *gin.Context) {
	rules, err := h.catalog.ListRules(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, rules)
}

func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.catalog.ListServices(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	active := make([]*model.Service, 0, len(services))
	for _, s := range services {
		if s.Active {
			active = append(active, s)
		}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, active)
}
