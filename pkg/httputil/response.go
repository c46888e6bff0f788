package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string                 `json:"status"`
	Data    interface{}            `json:"data,omitempty"`
	Message string                 `json:"message,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Count    int `json:"count"`
}

// PaginatedResponse wraps paginated data
type PaginatedResponse struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Status: "success",
		Data:   data,
	})
}

// ErrorResponse maps err to a status and body. Errors that are not an
// AppError are reported as a bare 500 so internals never leak.
func ErrorResponse(err error, traceID string) (int, Response) {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError, Response{
			Status:  "error",
			Message: "internal server error",
			Code:    apperrors.ErrInternal.String(),
			TraceID: traceID,
		}
	}
	status := appErr.StatusCode()
	message := appErr.Message
	if status >= http.StatusInternalServerError && appErr.Code != apperrors.ErrGateway {
		message = "internal server error"
	}
	return status, Response{
		Status:  "error",
		Message: message,
		Code:    appErr.Code.String(),
		Reason:  appErr.Reason,
		Details: appErr.Details,
		TraceID: traceID,
	}
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error, traceID string) {
	status, body := ErrorResponse(err, traceID)
	c.JSON(status, body)
}

// RespondWithPagination sends a paginated response
func RespondWithPagination(c *gin.Context, items interface{}, page, pageSize, count int) {
	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data: PaginatedResponse{
			Items: items,
			Pagination: Pagination{
				Page:     page,
				PageSize: pageSize,
				Count:    count,
			},
		},
	})
}

// ParseUUIDParam reads a path parameter as a UUID.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequest("invalid "+name, err)
	}
	return id, nil
}

// ParseUUIDQuery reads an optional query parameter as a UUID.
func ParseUUIDQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.NewBadRequest("invalid "+name, err)
	}
	return &id, nil
}
