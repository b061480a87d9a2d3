package middleware

import (
	"net/http" // HTTP status codes
	"strconv"  // Retry-After header
	"time"     // Window

	"banking_system/internal/utils" // Rate limiter

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// RateLimitMiddleware limits attempts per client IP within scope
func RateLimitMiddleware(limiter *utils.RateLimiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter, err := limiter.Allow(c.Request.Context(), scope, c.ClientIP(), limit, window)
		if err != nil {
			// Fail open: Redis trouble must not lock every user out
			logrus.WithFields(logrus.Fields{
				"scope": scope,
				"error": err.Error(),
			}).Warn("Rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many attempts, please try again later",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
