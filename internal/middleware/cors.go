package middleware

import (
	"net/http" // Handler adapter

	"github.com/gin-gonic/gin" // Gin web framework
	"github.com/go-chi/cors"   // CORS handling
)

// CORSMiddleware allows browser clients from origins to call the API with cookies. An empty list
// reflects any origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", IdempotencyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true, // Session cookies
		MaxAge:           600,  // Preflight cache in seconds
	}
	if len(origins) == 0 {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true } // Echo the caller's origin
	}
	handler := cors.Handler(opts)

	return func(c *gin.Context) {
		passed := false
		handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort() // Preflight answered
		}
	}
}
