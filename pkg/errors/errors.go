package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Reason  string                 `json:"reason,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports a match when code and reason agree, so sentinel values work with errors.Is
// even after details or a cause were attached.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Reason == "" {
		return e.Code == t.Code
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// StatusCode maps the error to an HTTP status
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrPolicyViolation:
		switch e.Reason {
		case ReasonAlreadyClosed, ReasonInvalidTransition, ReasonAlreadyPaid:
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case ErrGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns a copy carrying the given details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap returns a copy carrying err as its cause
func (e *AppError) Wrap(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrPolicyViolation
	ErrRateDataMissing
	ErrGateway
	ErrNotification
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:        "not_found",
	ErrBadRequest:      "validation_error",
	ErrUnauthorized:    "unauthorized",
	ErrForbidden:       "forbidden",
	ErrInternal:        "internal",
	ErrPolicyViolation: "policy_violation",
	ErrRateDataMissing: "rate_data_missing",
	ErrGateway:         "gateway_error",
	ErrNotification:    "notification_error",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error_%d", int(c))
}

// Reasons are stable machine-readable strings returned to clients.
const (
	ReasonBelowMinimumDuration     = "below_minimum_duration"
	ReasonMissingBasePrice         = "missing_base_price"
	ReasonMissingRateCard          = "missing_rate_card"
	ReasonCancellationWindowClosed = "cancellation_window_closed"
	ReasonAlreadyClosed            = "already_closed"
	ReasonRescheduleLimitReached   = "reschedule_limit_reached"
	ReasonRescheduleWindowClosed   = "reschedule_window_closed"
	ReasonInvalidTransition        = "invalid_transition"
	ReasonRefundFailed             = "refund_failed"
	ReasonCaptureFailed            = "capture_failed"
	ReasonReleaseFailed            = "release_failed"
	ReasonPaymentRequired          = "payment_required"
	ReasonAlreadyPaid              = "already_paid"
	ReasonAuthorizationFailed      = "authorization_failed"
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// NewPolicyViolation builds a user-facing, non-retryable rejection
func NewPolicyViolation(reason, message string) *AppError {
	return &AppError{
		Code:    ErrPolicyViolation,
		Reason:  reason,
		Message: message,
	}
}

// NewRateDataMissing reports missing pricing or rate configuration
func NewRateDataMissing(reason, message string) *AppError {
	return &AppError{
		Code:    ErrRateDataMissing,
		Reason:  reason,
		Message: message,
	}
}

// NewGateway wraps a payment provider failure
func NewGateway(reason string, err error) *AppError {
	return &AppError{
		Code:    ErrGateway,
		Reason:  reason,
		Message: "payment gateway error",
		Err:     err,
	}
}

// NewNotification wraps a delivery failure on a single channel
func NewNotification(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrNotification,
		Reason:  channel,
		Message: fmt.Sprintf("%s notification failed", channel),
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// As extracts an *AppError from an error chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
