package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"banking_system/internal/utils" // Token parsing

	"github.com/gin-gonic/gin" // Gin web framework
)

// Cookie names
const (
	SessionCookie = "banking_session"     // Full session token
	PendingCookie = "banking_pending_2fa" // Pending two-factor token
)

// Context keys
const (
	UserIDKey    = "userID"    // Authenticated user id
	RequestIDKey = "requestID" // Request id set by RequestLogger
)

// SessionAuthMiddleware validates the session token from the session cookie or a Bearer header
func SessionAuthMiddleware(tokens *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, _ := c.Cookie(SessionCookie) // Browser clients
		// Fall back to the Authorization header
		if tokenStr == "" {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				tokenStr = strings.TrimPrefix(authHeader, "Bearer ") // Extract the token string
			}
		}
		// Check that a token was supplied
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		claims, err := tokens.ParseSession(tokenStr) // Parse the session token
		if err != nil {
			// If parsing fails, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.Set(UserIDKey, claims.UserID) // Store userID in context
		c.Next()                        // Proceed to the next handler
	}
}

// UserID returns the authenticated user id set by SessionAuthMiddleware
func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
