package ratelimit

import (
	"log/slog"
	"strconv"

	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/gin-gonic/gin"
)

// IPRateLimitMiddleware creates middleware for IP-based rate limiting
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			// limiter failures never block traffic
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		WriteHeaders(c, "X-RateLimit", result)

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}
			Reject(c, result)
			return
		}

		c.Next()
	}
}

// CheckRefresh applies the per-user refresh limit inside a handler. It reports
// whether the request may proceed; on false the response has been written.
func (rl *RateLimiter) CheckRefresh(c *gin.Context, userID string) bool {
	result, err := rl.AllowRefresh(c.Request.Context(), userID)
	if err != nil {
		slog.Error("Refresh rate limit check failed", "user_id", userID, "error", err)
		return true
	}

	WriteHeaders(c, "X-RateLimit-Refresh", result)

	if !result.Allowed {
		Reject(c, result)
		return false
	}
	return true
}

// WriteHeaders sets <prefix>-Limit, -Remaining and -Reset
func WriteHeaders(c *gin.Context, prefix string, result *Result) {
	c.Header(prefix+"-Limit", strconv.Itoa(result.Limit))
	c.Header(prefix+"-Remaining", strconv.Itoa(result.Remaining))
	c.Header(prefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// Reject aborts with 429 and a Retry-After header in whole seconds
func Reject(c *gin.Context, result *Result) {
	seconds := int(result.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	retryAfter := strconv.Itoa(seconds)
	c.Header("Retry-After", retryAfter)

	appErr := apperrors.NewRateLimitError(retryAfter + "s")
	if id, ok := c.Get("request_id"); ok {
		appErr.RequestID, _ = id.(string)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}
