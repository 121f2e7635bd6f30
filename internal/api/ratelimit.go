package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/ratelimit"
)

// GlobalRateLimitMiddleware caps the whole server at rps requests per second,
// independent of who is calling. Requests the policy bypasses are never
// counted. rps <= 0 disables it. It must run after Principal.
func GlobalRateLimitMiddleware(rps int, policy *ratelimit.Policy) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(c *gin.Context) {
		if policy != nil && policy.Bypass(principalOf(c), c.Request.URL.Path) {
			c.Next()
			return
		}
		if !limiter.Allow() {
			writeError(c, apperr.Unavailable(apperr.KindRateLimited, "admit request", "server is busy", time.Second))
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware admits requests through the per-principal sliding
// window. It must run after Principal.
func RateLimitMiddleware(limiter *ratelimit.Limiter, policy *ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalOf(c)
		if policy.Bypass(principal, c.Request.URL.Path) {
			c.Next()
			return
		}

		path := ratelimit.NormalizePath(c.Request.URL.Path)
		op := policy.Operation(c.Request.Method, path)
		d := limiter.Allow(ratelimit.Key(principal, c.Request.Method, path), policy.Limit(op, roleOf(c)))

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			writeError(c, apperr.Unavailable(apperr.KindRateLimited, "admit request",
				"rate limit exceeded", d.RetryAfter))
			return
		}
		c.Next()
	}
}
