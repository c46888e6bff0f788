package booking

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/massage-booking/internal/model"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

// QuoteCancellation shows the refund the customer would get without
// cancelling anything.
func (h *Handler) QuoteCancellation(c *gin.Context) {
	outcome, err := h.service.QuoteCancellation(c.Request.Context(), c.Param("token"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, outcome)
}

func (h *Handler) Cancel(c *gin.Context) {
	outcome, err := h.service.CancelByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, outcome)
}

// QuoteReschedule prices a proposed slot given as ?new_booking_time=.
func (h *Handler) QuoteReschedule(c *gin.Context) {
	raw := c.Query("new_booking_time")
	if raw == "" {
		_ = c.Error(apperrors.NewBadRequest("new_booking_time is required", nil))
		return
	}
	newTime, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("new_booking_time must be an RFC3339 timestamp", err))
		return
	}
	therapistID, err := httputil.ParseUUIDQuery(c, "new_therapist_id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	req := &model.RescheduleRequest{NewBookingTime: newTime, NewTherapistID: therapistID}
	outcome, err := h.service.QuoteReschedule(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, outcome)
}

func (h *Handler) Reschedule(c *gin.Context) {
	var req model.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}

	outcome, err := h.service.RescheduleByToken(c.Request.Context(), c.Param("token"), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, outcome)
}
