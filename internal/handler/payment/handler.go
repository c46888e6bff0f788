package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/massage-booking/internal/model"
	gateway "github.com/jwalitptl/massage-booking/internal/payment"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

type Handler struct {
	gateway gateway.Gateway
}

func NewHandler(gw gateway.Gateway) *Handler {
	return &Handler{gateway: gw}
}

func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/payments/authorize", h.Authorize)
}

// Authorize holds funds on the customer's card. The returned intent id is
// then passed to booking creation or a reschedule top-up.
func (h *Handler) Authorize(c *gin.Context) {
	var req model.AuthorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Translate(err))
		return
	}
	if !req.Amount.IsPositive() {
		_ = c.Error(apperrors.NewBadRequest("amount must be positive", nil))
		return
	}

	intentID, err := h.gateway.Authorize(c.Request.Context(), req.Amount, req.CustomerToken)
	if err != nil {
		_ = c.Error(apperrors.NewGateway(apperrors.ReasonAuthorizationFailed, err))
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, model.AuthorizePaymentResponse{
		PaymentIntentID: intentID,
		Amount:          req.Amount,
	})
}
