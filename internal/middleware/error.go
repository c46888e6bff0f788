package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Server-side failures are logged at error level; configuration gaps
// (missing rate cards or base prices) are tagged so they alert.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)
		lastErr := c.Errors.Last().Err
		status, body := httputil.ErrorResponse(lastErr, traceID)

		var event *zerolog.Event
		switch {
		case apperrors.HasCode(lastErr, apperrors.ErrRateDataMissing):
			event = log.Error().Str("alert", "rate_data_missing")
		case status >= http.StatusInternalServerError:
			event = log.Error()
		default:
			event = log.Debug()
		}
		event.
			Err(lastErr).
			Str("request_id", traceID).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Int("status", status).
			Msg("Request error")

		if !c.Writer.Written() {
			c.JSON(status, body)
		}
	}
}

func abortWithError(c *gin.Context, err error) {
	status, body := httputil.ErrorResponse(err, c.GetString(ContextRequestID))
	c.AbortWithStatusJSON(status, body)
}
