package ratelimit

import (
	"net/http"
	"time"

	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/gin-gonic/gin"
)

// HandleRateLimitStatus reports the configured limits and limiter state
func (rl *RateLimiter) HandleRateLimitStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ip": c.ClientIP(),
			"limits": gin.H{
				"ip_per_minute": gin.H{
					"limit":  rl.config.IPLimitPerMin,
					"period": "1 minute",
				},
				"refresh_per_hour": gin.H{
					"limit":  rl.config.RefreshPerHour,
					"period": "1 hour",
				},
			},
			"limiter":   rl.GetStats(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// HandleResetUser clears the refresh budget of :userID (admin only)
func (rl *RateLimiter) HandleResetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		if userID == "" {
			_ = c.Error(apperrors.NewValidationError("user ID is required"))
			return
		}

		if err := rl.InvalidateUser(c.Request.Context(), userID); err != nil {
			_ = c.Error(apperrors.NewInternalError("failed to reset rate limit", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   "rate limit reset successfully",
			"user_id":   userID,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
