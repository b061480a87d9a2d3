package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"banking_system/internal/domain"
	"banking_system/internal/store/storetest"
	"banking_system/internal/utils"
	"banking_system/internal/utils/redistest"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionAuthMiddleware(t *testing.T) {
	tokens := utils.NewTokenIssuer("mw-secret", time.Hour, time.Minute)
	r := newRouter(SessionAuthMiddleware(tokens))
	session, _, err := tokens.GenerateSession(9)
	require.NoError(t, err)
	pending, _, err := tokens.GeneratePending(9, utils.IntentLogin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session})
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":9}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: pending})
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestExternalAPIKeyMiddleware(t *testing.T) {
	req := func(header, value string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set(header, value)
		}
		return r
	}

	unconfigured := newRouter(ExternalAPIKeyMiddleware(""))
	assert.Equal(t, http.StatusServiceUnavailable, serve(unconfigured, req("X-Api-Key", "")).Code)

	r := newRouter(ExternalAPIKeyMiddleware("s3cret"))
	assert.Equal(t, http.StatusUnauthorized, serve(r, req("", "")).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req("X-Api-Key", "s3cre")).Code)
	assert.Equal(t, http.StatusOK, serve(r, req("X-Api-Key", "s3cret")).Code)
	assert.Equal(t, http.StatusOK, serve(r, req("X-External-Api-Key", "s3cret")).Code)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	admin := &domain.User{Username: "root", Email: "root@example.com", Role: domain.RoleAdmin}
	plain := &domain.User{Username: "joe", Email: "joe@example.com"}
	require.NoError(t, s.Users().Create(ctx, admin))
	require.NoError(t, s.Users().Create(ctx, plain))

	as := func(id uint) gin.HandlerFunc {
		return func(c *gin.Context) {
			if id != 0 {
				c.Set(UserIDKey, id)
			}
		}
	}
	get := func(id uint) int {
		r := newRouter(as(id), AdminOnlyMiddleware(s.Users()))
		return serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code
	}

	assert.Equal(t, http.StatusUnauthorized, get(0))
	assert.Equal(t, http.StatusForbidden, get(plain.ID))
	assert.Equal(t, http.StatusForbidden, get(999))
	assert.Equal(t, http.StatusOK, get(admin.ID))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	r := newRouter(RequestLoggerMiddleware())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", id)
	assert.Equal(t, id, serve(r, req).Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not a uuid")
	assert.NotEqual(t, "not a uuid", serve(r, req).Header().Get("X-Request-ID"))
}

func TestRedisBackedMiddlewareWithoutRedis(t *testing.T) {
	r := newRouter(
		RateLimitMiddleware(utils.NewRateLimiter(nil, ""), "login", 1, time.Minute),
		IdempotencyMiddleware(utils.NewIdempotencyStore(nil)),
	)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(IdempotencyHeader, "retry-1")
		assert.Equal(t, http.StatusOK, serve(r, req).Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimitMiddleware(utils.NewRateLimiter(redistest.NewCounter(), ""), "api", 2, time.Minute))
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestCORSMiddleware(t *testing.T) {
	r := newRouter(CORSMiddleware([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Idempotency-Key")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Empty(t, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
	assert.JSONEq(t, `{"user_id":0}`, w.Body.String())

	// Unknown origins still reach the handler but get no grant
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareWithoutOriginListEchoesOrigin(t *testing.T) {
	r := newRouter(CORSMiddleware(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := serve(newRouter(SecurityHeadersMiddleware(false)), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "same-origin", w.Header().Get("Cross-Origin-Resource-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serve(newRouter(SecurityHeadersMiddleware(true)), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

// echoRouter returns the bound JSON body, the query and the path parameter
func echoRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.POST("/echo/:name", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			status := http.StatusBadRequest
			if IsBodyTooLarge(err) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"body": body, "q": c.Query("q"), "name": c.Param("name")})
	})
	return r
}

func TestBodyLimitMiddleware(t *testing.T) {
	r := echoRouter(BodyLimitMiddleware(64), SanitizeMiddleware())
	big := `{"note":"` + strings.Repeat("x", 100) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/echo/a", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(r, req).Code)

	// Chunked bodies carry no length up front
	req = httptest.NewRequest(http.MethodPost, "/echo/a", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/echo/a", strings.NewReader(`{"note":"ok"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestSanitizeMiddleware(t *testing.T) {
	r := echoRouter(SanitizeMiddleware())
	body := `{"name":"  Alice\u0000 ","amount":100.10,"tags":[" a ","b\u0000"],"nested":{"ref":" x "}}`
	req := httptest.NewRequest(http.MethodPost, "/echo/%20bob%20?q=%20hi%00%20", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Body map[string]any `json:"body"`
		Q    string         `json:"q"`
		Name string         `json:"name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Alice", got.Body["name"])
	assert.Equal(t, 100.1, got.Body["amount"])
	assert.Equal(t, []any{"a", "b"}, got.Body["tags"])
	assert.Equal(t, map[string]any{"ref": "x"}, got.Body["nested"])
	assert.Equal(t, "hi", got.Q)
	assert.Equal(t, "bob", got.Name)

	// Malformed JSON reaches the binder unchanged
	req = httptest.NewRequest(http.MethodPost, "/echo/a", strings.NewReader(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}
