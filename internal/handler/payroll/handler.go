package payroll

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

type Service interface {
	ParseWeekStart(value string) (time.Time, error)
	GenerateForTherapistWeek(ctx context.Context, therapistID uuid.UUID, weekStart, weekEnd time.Time) (*uuid.UUID, error)
	MarkPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal, paidAt time.Time, reference string) (*model.WeeklyPayment, error)
	Get(ctx context.Context, id uuid.UUID) (*model.WeeklyPayment, error)
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, page model.Pagination) ([]*model.WeeklyPayment, error)
}

type Handler struct {
	service Service
	now     func() time.Time
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

// RegisterRoutes mounts the weekly payment routes; callers restrict them to admins.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/weekly-payments")
	{
		payments.POST("/generate", h.Generate)
		payments.GET("", h.List)
		payments.GET("/:id", h.Get)
		payments.POST("/:id/mark-paid", h.MarkPaid)
	}
}

type generateResponse struct {
	WeeklyPaymentID *uuid.UUID `json:"weekly_payment_id"`
	WeekStart       string     `json:"week_start"`
	WeekEnd         string     `json:"week_end"`
}

// Generate is idempotent per therapist and week. A null id means the
// therapist had no unpaid completed work that week.
func (h *Handler) Generate(c *gin.Context) {
	var req model.GenerateWeeklyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	start, err := h.service.ParseWeekStart(req.WeekStart)
	if err != nil {
		_ = c.Error(err)
		return
	}
	end := start.AddDate(0, 0, 6)

	id, err := h.service.GenerateForTherapistWeek(c.Request.Context(), req.TherapistID, start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, generateResponse{
		WeeklyPaymentID: id,
		WeekStart:       start.Format(time.DateOnly),
		WeekEnd:         end.Format(time.DateOnly),
	})
}

func (h *Handler) List(c *gin.Context) {
	therapistID, err := httputil.ParseUUIDQuery(c, "therapist_id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if therapistID == nil {
		_ = c.Error(apperrors.NewBadRequest("therapist_id is required", nil))
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	payments, err := h.service.ListByTherapist(c.Request.Context(), *therapistID, page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, _ := page.Offset()
	current := page.Page
	if current < 1 {
		current = 1
	}
	httputil.RespondWithPagination(c, payments, current, limit, len(payments))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	payment, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, payment)
}

func (h *Handler) MarkPaid(c *gin.Context) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req model.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}
	if !req.Amount.IsPositive() {
		_ = c.Error(apperrors.NewBadRequest("amount must be positive", nil))
		return
	}

	paidAt := h.now()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	payment, err := h.service.MarkPaid(c.Request.Context(), id, req.Amount, paidAt, req.Reference)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, payment)
}
