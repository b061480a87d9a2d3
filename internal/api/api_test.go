package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"banking_system/internal/domain"
	"banking_system/internal/identifier"
	"banking_system/internal/ledger"
	"banking_system/internal/middleware"
	"banking_system/internal/schedule"
	"banking_system/internal/store/storetest"
	"banking_system/internal/twofactor"
	"banking_system/internal/utils"
	"banking_system/internal/utils/redistest"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "interbank-key"

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *storetest.Store
	tokens *utils.TokenIssuer
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()
	s := storetest.New()
	gen, err := identifier.NewGenerator("DE", "37040044")
	require.NoError(t, err)
	tokens := utils.NewTokenIssuer("api-test-secret", 15*time.Minute, 5*time.Minute)
	engine := ledger.NewEngine(s, gen)

	d := Deps{
		Store:          s,
		Engine:         engine,
		Auth:           twofactor.NewService(s, tokens, "Test Bank"),
		Payments:       schedule.NewService(s),
		Tokens:         tokens,
		Limiter:        utils.NewRateLimiter(nil, ""),
		Idempotency:    utils.NewIdempotencyStore(nil),
		ExternalAPIKey: apiKey,
		AuthRateLimit:  100,
		AuthRateWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(&d)
	}
	r := gin.New()
	RegisterRoutes(r, d)
	return &testServer{t: t, router: r, store: s, tokens: tokens}
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
	cookies []*http.Cookie
}

func (ts *testServer) do(c call) (*httptest.ResponseRecorder, map[string]any) {
	ts.t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// signUp registers a user, completes two-factor setup and returns the session token
func (ts *testServer) signUp(name string) (string, uint) {
	ts.t.Helper()
	w, body := ts.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{
		"username": name, "email": name + "@example.com", "password": "Str0ng!Pass",
	}})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(ts.t, "setup", body["status"])
	assert.NotEmpty(ts.t, body["manualCode"])
	pending := cookie(w, middleware.PendingCookie)
	require.NotNil(ts.t, pending)
	assert.True(ts.t, pending.HttpOnly)
	assert.Equal(ts.t, http.SameSiteStrictMode, pending.SameSite)

	userID := uint(body["user"].(map[string]any)["id"].(float64))
	u, err := ts.store.Users().FindByID(context.Background(), userID)
	require.NoError(ts.t, err)
	code, err := totp.GenerateCode(*u.TwoFactorSecret, time.Now())
	require.NoError(ts.t, err)

	w, body = ts.do(call{method: http.MethodPost, path: "/api/auth/two-factor/verify",
		body: gin.H{"code": code}, cookies: []*http.Cookie{pending}})
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(ts.t, cookie(w, middleware.SessionCookie))
	return body["token"].(string), userID
}

func (ts *testServer) openAccount(token string) (uint, string) {
	ts.t.Helper()
	w, body := ts.do(call{method: http.MethodPost, path: "/api/accounts", token: token, body: gin.H{"account_type": "checking"}})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	acc := body["account"].(map[string]any)
	return uint(acc["id"].(float64)), acc["iban"].(string)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.signUp("alice")

	w, body := ts.do(call{method: http.MethodGet, path: "/api/auth/me", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, float64(userID), user["id"])
	assert.Equal(t, true, user["two_factor_enabled"])

	w, body = ts.do(call{method: http.MethodPost, path: "/api/auth/login", body: gin.H{"email": "alice@example.com", "password": "Str0ng!Pass"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verify", body["status"])
	assert.Nil(t, body["manualCode"])

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/two-factor/regenerate", cookies: []*http.Cookie{cookie(w, middleware.PendingCookie)}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/login", body: gin.H{"email": "alice@example.com", "password": "nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/two-factor/verify", body: gin.H{"code": "123456"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/logout"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -1, cookie(w, middleware.SessionCookie).MaxAge)

	w, _ = ts.do(call{method: http.MethodGet, path: "/api/auth/me"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestHardening(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Limiter = utils.NewRateLimiter(redistest.NewCounter(), "")
		d.APIRateLimit = 3
		d.APIRateWindow = time.Minute
		d.MaxBodyBytes = 512
		d.CORSOrigins = []string{"https://bank.example.com"}
	})

	// Strings are trimmed and stripped of NUL before validation
	w, body := ts.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{
		"username": "  carol\x00 ", "email": " carol@example.com ", "password": "Str0ng!Pass",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "carol", body["user"].(map[string]any)["username"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "same-origin", w.Header().Get("Cross-Origin-Resource-Policy"))

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/login", body: gin.H{
		"email": "carol@example.com", "password": "Str0ng!Pass", "padding": strings.Repeat("x", 1024),
	}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w, _ = ts.do(call{method: http.MethodGet, path: "/health", headers: map[string]string{"Origin": "https://bank.example.com"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://bank.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w, _ = ts.do(call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Fourth counted request in the window; the oversized body was rejected before the limiter
	w, body = ts.do(call{method: http.MethodGet, path: "/api/auth/me"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, float64(60), body["retry_after"])
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{"username": "al", "email": "al@example.com", "password": "Str0ng!Pass"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{"username": "alice", "email": "not-an-email", "password": "Str0ng!Pass"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ts.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{"username": "alice", "email": "a@example.com", "password": "weakpassword"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoneyMovementRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signUp("alice")
	bob, _ := ts.signUp("bob")
	a1, _ := ts.openAccount(alice)
	b1, bobIBAN := ts.openAccount(bob)

	w, body := ts.do(call{method: http.MethodPost, path: "/api/transactions/deposit", token: alice, body: gin.H{"account_id": a1, "amount": "100.00"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "100", body["new_balance"])

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/transactions/deposit", token: bob, body: gin.H{"account_id": a1, "amount": 5}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = ts.do(call{method: http.MethodPost, path: "/api/transactions/deposit", token: alice, body: gin.H{"account_id": a1, "amount": "10000000000000000.00"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "largest supported value")

	w, body = ts.do(call{method: http.MethodPost, path: "/api/transactions/transfer", token: alice, body: gin.H{
		"from_account_id": a1, "to_account_id": b1, "amount": 30, "reference": "dinner",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "70", body["new_balance"])

	w, body = ts.do(call{method: http.MethodPost, path: "/api/transactions/withdraw", token: alice, body: gin.H{"account_id": a1, "amount": 500}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "insufficient funds")

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/transactions/withdraw", token: alice, body: gin.H{"account_id": a1, "amount": "1.001"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/transactions/external/outgoing", token: alice, body: gin.H{
		"from_account_id": a1, "recipient_name": "Utility", "recipient_iban": "GB00WEST12345698765432", "amount": 10,
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.do(call{method: http.MethodPost, path: "/api/transactions/external/outgoing", token: alice, body: gin.H{
		"from_account_id": a1, "recipient_name": "Utility", "recipient_iban": "GB82 WEST 1234 5698 7654 32", "amount": 20,
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "50", body["new_balance"])

	w, body = ts.do(call{method: http.MethodGet, path: fmt.Sprintf("/api/transactions/balance/%d", b1), token: bob})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", body["balance"])

	w, body = ts.do(call{method: http.MethodGet, path: "/api/transactions?type=transfer", token: bob})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])
	row := body["transactions"].([]any)[0].(map[string]any)
	assert.Equal(t, "dinner", row["reference"])

	w, body = ts.do(call{method: http.MethodGet, path: fmt.Sprintf("/api/accounts/%d/transactions?limit=2", a1), token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["total_pages"])
	assert.Len(t, body["transactions"], 2)

	w, _ = ts.do(call{method: http.MethodGet, path: "/api/transactions?type=bogus", token: alice})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Inbound interbank payment needs the shared key
	incoming := gin.H{"iban": bobIBAN, "sender_name": "ACME GmbH", "amount": 12.5}
	w, _ = ts.do(call{method: http.MethodPost, path: "/api/transactions/external/incoming", body: incoming})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, body = ts.do(call{method: http.MethodPost, path: "/api/transactions/external/incoming", body: incoming,
		headers: map[string]string{"X-External-Api-Key": apiKey}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "42.5", body["new_balance"])
}

func TestAccountRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signUp("alice")
	bob, _ := ts.signUp("bob")
	a1, _ := ts.openAccount(alice)
	a2, _ := ts.openAccount(alice)

	w, _ := ts.do(call{method: http.MethodPost, path: "/api/accounts", token: alice, body: gin.H{"account_type": "crypto"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := ts.do(call{method: http.MethodGet, path: "/api/accounts", token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["accounts"], 2)
	assert.Equal(t, false, body["cached"])

	w, _ = ts.do(call{method: http.MethodGet, path: fmt.Sprintf("/api/accounts/%d", a1), token: bob})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = ts.do(call{method: http.MethodGet, path: "/api/accounts/999", token: alice})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = ts.do(call{method: http.MethodGet, path: "/api/accounts/abc", token: alice})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(call{method: http.MethodPost, path: "/api/transactions/deposit", token: alice, body: gin.H{"account_id": a1, "amount": 25}})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = ts.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/accounts/%d", a1), token: alice})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/accounts/%d?transfer_account_id=%d", a1, a2), token: alice})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "25", body["closure"].(map[string]any)["transferred_amount"])

	w, body = ts.do(call{method: http.MethodGet, path: fmt.Sprintf("/api/transactions/balance/%d", a2), token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "25", body["balance"])
}

func TestScheduledPaymentRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signUp("alice")
	bob, _ := ts.signUp("bob")
	a1, _ := ts.openAccount(alice)

	w, _ := ts.do(call{method: http.MethodPost, path: "/api/scheduled-payments", token: alice, body: gin.H{
		"account_id": a1, "payee_name": "Landlord", "payee_iban": "GB82WEST12345698765432",
		"amount": 950, "frequency": "daily", "start_date": "2025-04-01",
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := ts.do(call{method: http.MethodPost, path: "/api/scheduled-payments", token: alice, body: gin.H{
		"account_id": a1, "payee_name": "Landlord", "payee_iban": "GB82WEST12345698765432",
		"amount": 950, "frequency": "monthly", "start_date": "2025-04-01",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := uint(body["scheduled_payment"].(map[string]any)["id"].(float64))

	w, body = ts.do(call{method: http.MethodGet, path: "/api/scheduled-payments", token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["scheduled_payments"], 1)

	w, _ = ts.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/scheduled-payments/%d", id), token: bob})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = ts.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/scheduled-payments/%d", id), token: alice})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signUp("alice")
	ts.openAccount(alice)

	admin := &domain.User{Username: "root", Email: "root@example.com", Role: domain.RoleAdmin}
	require.NoError(t, ts.store.Users().Create(context.Background(), admin))
	adminToken, _, err := ts.tokens.GenerateSession(admin.ID)
	require.NoError(t, err)

	w, _ := ts.do(call{method: http.MethodGet, path: "/admin/users", token: alice})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := ts.do(call{method: http.MethodGet, path: "/admin/users?page_size=1", token: adminToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["total_pages"])
	assert.NotContains(t, w.Body.String(), "two_factor_secret")

	w, body = ts.do(call{method: http.MethodGet, path: "/admin/accounts", token: adminToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = ts.do(call{method: http.MethodGet, path: "/admin/transactions?page_size=500", token: adminToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(maxPageSize), body["page_size"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("account 3: %w", domain.ErrAccessDenied), http.StatusForbidden},
		{domain.ErrInsufficientFunds, http.StatusBadRequest},
		{domain.ErrSameAccount, http.StatusBadRequest},
		{domain.ErrChallengeExpired, http.StatusUnauthorized},
		{domain.ErrMisconfigured, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
