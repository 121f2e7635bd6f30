package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
)

type errorResponse struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	CorrelationID     string `json:"correlation_id"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidPolygon:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidHeadline, apperr.KindInvalidDescription, apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindInvalidOperation, apperr.KindConcurrentDecision:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts the request with err rendered for the caller. Internal
// errors are logged in full and reported without detail.
func writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	resp := errorResponse{
		Kind:          string(kind),
		Message:       err.Error(),
		CorrelationID: logging.CorrelationID(ctx),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Field = ae.Field
		if ae.Message != "" {
			resp.Message = ae.Message
		}
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		resp.Message = "internal error"
		resp.Field = ""
	}

	if d := apperr.RetryAfterOf(err); d > 0 {
		secs := retryAfterSeconds(d)
		c.Header("Retry-After", strconv.Itoa(secs))
		resp.RetryAfterSeconds = secs
	}

	c.AbortWithStatusJSON(status, resp)
}

// retryAfterSeconds rounds up so callers never retry early.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
