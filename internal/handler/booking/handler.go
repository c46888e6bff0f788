package booking

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/massage-booking/internal/middleware"
	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/auth"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

type Service interface {
	Create(ctx context.Context, req *model.CreateBookingRequest) (*model.CreatedBooking, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	GetByCode(ctx context.Context, code string) (*model.Booking, error)
	List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error)
	History(ctx context.Context, id uuid.UUID) ([]*model.StatusHistoryEntry, error)
	Accept(ctx context.Context, id, therapistID uuid.UUID) (*model.Booking, error)
	Decline(ctx context.Context, id, therapistID uuid.UUID, seekAlternate bool, reason string) (*model.Booking, error)
	Reassign(ctx context.Context, id, therapistID uuid.UUID, changedBy string) (*model.Booking, error)
	Start(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error)
	CancelByAdmin(ctx context.Context, id uuid.UUID, reason, changedBy string) (*model.CancellationOutcome, error)
	RevertReschedule(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error)
	QuoteCancellation(ctx context.Context, token string) (*model.CancellationOutcome, error)
	CancelByToken(ctx context.Context, token string) (*model.CancellationOutcome, error)
	QuoteReschedule(ctx context.Context, token string, req *model.RescheduleRequest) (*model.RescheduleOutcome, error)
	RescheduleByToken(ctx context.Context, token string, req *model.RescheduleRequest) (*model.RescheduleOutcome, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the customer-facing routes. Link routes are
// authorised by the token in the path.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)

	links := r.Group("/links")
	{
		links.GET("/cancel/:token", h.QuoteCancellation)
		links.POST("/cancel/:token", h.Cancel)
		links.GET("/reschedule/:token", h.QuoteReschedule)
		links.POST("/reschedule/:token", h.Reschedule)
	}
}

// RegisterRoutes mounts the back-office booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMW *middleware.AuthMiddleware) {
	bookings := r.Group("/bookings")
	{
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/history", h.GetHistory)
		bookings.POST("/:id/accept", h.Accept)
		bookings.POST("/:id/decline", h.Decline)
		bookings.POST("/:id/start", h.Start)
		bookings.POST("/:id/complete", h.Complete)

		admin := bookings.Group("", authMW.RequireRole(auth.RoleAdmin))
		admin.POST("/:id/reassign", h.Reassign)
		admin.POST("/:id/cancel", h.CancelByAdmin)
		admin.POST("/:id/revert-reschedule", h.RevertReschedule)
	}
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req model.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	created, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, created)
}

// GetBooking accepts either the UUID or the human booking code.
func (h *Handler) GetBooking(c *gin.Context) {
	var (
		b   *model.Booking
		err error
	)
	if id, parseErr := uuid.Parse(c.Param("id")); parseErr == nil {
		b, err = h.service.Get(c.Request.Context(), id)
	} else {
		b, err = h.service.GetByCode(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := visibleTo(c, b); err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, b)
}

func (h *Handler) ListBookings(c *gin.Context) {
	var filter model.BookingFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	var err error
	if filter.TherapistID, err = httputil.ParseUUIDQuery(c, "therapist_id"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.CustomerID, err = httputil.ParseUUIDQuery(c, "customer_id"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.From, err = parseTimeQuery(c, "from"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.To, err = parseTimeQuery(c, "to"); err != nil {
		_ = c.Error(err)
		return
	}

	// Therapists only ever see their own bookings.
	if c.GetString(middleware.ContextRole) == auth.RoleTherapist {
		self, err := callerTherapist(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		filter.TherapistID = &self
	}

	bookings, err := h.service.List(c.Request.Context(), &filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, _ := filter.Pagination.Offset()
	page := filter.Page
	if page < 1 {
		page = 1
	}
	httputil.RespondWithPagination(c, bookings, page, limit, len(bookings))
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	if c.GetString(middleware.ContextRole) == auth.RoleTherapist {
		b, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := visibleTo(c, b); err != nil {
			_ = c.Error(err)
			return
		}
	}

	entries, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, entries)
}

type therapistActionRequest struct {
	TherapistID   *uuid.UUID `json:"therapist_id"`
	SeekAlternate bool       `json:"seek_alternate"`
	Reason        string     `json:"reason" binding:"max=500"`
}

func (h *Handler) Accept(c *gin.Context) {
	id, therapistID, _, ok := h.therapistAction(c)
	if !ok {
		return
	}

	b, err := h.service.Accept(c.Request.Context(), id, therapistID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, b)
}

func (h *Handler) Decline(c *gin.Context) {
	id, therapistID, req, ok := h.therapistAction(c)
	if !ok {
		return
	}

	b, err := h.service.Decline(c.Request.Context(), id, therapistID, req.SeekAlternate, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, b)
}

// therapistAction resolves the acting therapist: a therapist token acts for
// itself, an admin names the therapist in the body.
func (h *Handler) therapistAction(c *gin.Context) (uuid.UUID, uuid.UUID, *therapistActionRequest, bool) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, uuid.Nil, nil, false
	}

	var req therapistActionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(validator.Translate(err))
			return uuid.Nil, uuid.Nil, nil, false
		}
	}

	if c.GetString(middleware.ContextRole) == auth.RoleTherapist {
		self, err := callerTherapist(c)
		if err != nil {
			_ = c.Error(err)
			return uuid.Nil, uuid.Nil, nil, false
		}
		return id, self, &req, true
	}

	if req.TherapistID == nil {
		_ = c.Error(apperrors.NewBadRequest("therapist_id is required", nil))
		return uuid.Nil, uuid.Nil, nil, false
	}
	return id, *req.TherapistID, &req, true
}

type reassignRequest struct {
	TherapistID uuid.UUID `json:"therapist_id" binding:"required"`
}

func (h *Handler) Reassign(c *gin.Context) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	b, err := h.service.Reassign(c.Request.Context(), id, req.TherapistID, middleware.Actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, b)
}

func (h *Handler) Start(c *gin.Context) {
	h.lifecycle(c, h.service.Start)
}

func (h *Handler) Complete(c *gin.Context) {
	h.lifecycle(c, h.service.Complete)
}

func (h *Handler) RevertReschedule(c *gin.Context) {
	h.lifecycle(c, h.service.RevertReschedule)
}

func (h *Handler) lifecycle(c *gin.Context, op func(context.Context, uuid.UUID, string) (*model.Booking, error)) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	if c.GetString(middleware.ContextRole) == auth.RoleTherapist {
		b, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := visibleTo(c, b); err != nil {
			_ = c.Error(err)
			return
		}
	}

	b, err := op(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, b)
}

type adminCancelRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

func (h *Handler) CancelByAdmin(c *gin.Context) {
	id, err := httputil.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req adminCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	outcome, err := h.service.CancelByAdmin(c.Request.Context(), id, req.Reason, middleware.Actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, outcome)
}

func callerTherapist(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.GetString(middleware.ContextActor))
	if err != nil {
		return uuid.Nil, apperrors.Forbidden("therapist token has no therapist id")
	}
	return id, nil
}

func visibleTo(c *gin.Context, b *model.Booking) error {
	if c.GetString(middleware.ContextRole) != auth.RoleTherapist {
		return nil
	}
	self, err := callerTherapist(c)
	if err != nil {
		return err
	}
	if b.TherapistID == nil || *b.TherapistID != self {
		return apperrors.NotFound("booking", nil)
	}
	return nil
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.NewBadRequest(name+" must be an RFC3339 timestamp", err)
	}
	return &t, nil
}
