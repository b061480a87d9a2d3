package middleware

import (
	"bytes"    // Response capture
	"errors"   // Error inspection
	"net/http" // HTTP status codes

	"banking_system/internal/utils" // Idempotency store

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// IdempotencyHeader carries the client's retry key
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKey = 128

// captureWriter copies the response body while writing it
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first response of a request retried with the same
// Idempotency-Key. Server errors release the key so the retry runs again.
func IdempotencyMiddleware(store *utils.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		userID, authed := UserID(c)
		if key == "" || !authed || !store.Enabled() {
			c.Next() // Plain request
			return
		}
		if len(key) > maxIdempotencyKey {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
			return
		}

		ctx := c.Request.Context()
		stored, err := store.Begin(ctx, userID, key)
		switch {
		case errors.Is(err, utils.ErrRequestInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			logrus.WithField("error", err.Error()).Warn("Idempotency store unavailable")
			c.Next()
			return
		case stored != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			err = store.Release(ctx, userID, key)
		} else {
			err = store.Complete(ctx, userID, key, status, w.Header().Get("Content-Type"), w.body.Bytes())
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err.Error(),
			}).Warn("Failed to record idempotent response")
		}
	}
}
