package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes

	"banking_system/internal/domain"     // Error taxonomy
	"banking_system/internal/middleware" // Request id

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrMisconfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Unknown errors are logged and hidden behind a generic message.
func respondError(c *gin.Context, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		fields := logrus.Fields{
			"action": action,      // What failed
			"error":  err.Error(), // Error message
		}
		if id, ok := middleware.UserID(c); ok {
			fields["user_id"] = id
		}
		if rid, ok := c.Get(middleware.RequestIDKey); ok {
			fields["request_id"] = rid
		}
		logrus.WithFields(fields).Error(action + " failed")
		c.JSON(status, gin.H{"error": action + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// badRequest rejects a request that failed binding
func badRequest(c *gin.Context, err error) {
	if middleware.IsBodyTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}
