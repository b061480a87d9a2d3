package middleware

import (
	"crypto/subtle" // Constant-time comparison
	"net/http"      // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// ExternalAPIKeyMiddleware guards the interbank callback with a shared key. Without a configured
// key the route is unavailable.
func ExternalAPIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "External payments are not configured"})
			return
		}
		provided := c.GetHeader("X-External-Api-Key")
		if provided == "" {
			provided = c.GetHeader("X-Api-Key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			logrus.WithField("client_ip", c.ClientIP()).Warn("Rejected external payment callback")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid external API key"})
			return
		}
		c.Next()
	}
}
