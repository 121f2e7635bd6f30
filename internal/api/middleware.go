package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalRole = "X-Principal-Role"

	defaultRole = "anonymous"

	principalKey = "principal"
	roleKey      = "role"
)

// CorrelationID tags every request with the caller's correlation id, or a
// fresh one, and echoes it back.
func CorrelationID(ids idgen.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderCorrelationID))
		if id == "" || len(id) > 128 {
			id = ids.NewID()
		}
		c.Header(HeaderCorrelationID, id)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

// Principal reads the identity set by the upstream identity layer. Requests
// without one are keyed by client IP.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderPrincipalID))
		if id == "" {
			id = c.ClientIP()
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderPrincipalRole)))
		if role == "" {
			role = defaultRole
		}
		c.Set(principalKey, id)
		c.Set(roleKey, role)
		c.Next()
	}
}

func principalOf(c *gin.Context) string {
	if id := c.GetString(principalKey); id != "" {
		return id
	}
	return c.ClientIP()
}

func roleOf(c *gin.Context) string {
	if r := c.GetString(roleKey); r != "" {
		return r
	}
	return defaultRole
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logging.FromContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"principal", principalOf(c),
		)
	}
}
