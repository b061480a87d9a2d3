package api

import (
	"net/http" // HTTP status codes
	"time"     // Rate limit window

	"banking_system/internal/ledger"     // Money-movement engine
	"banking_system/internal/middleware" // Middleware
	"banking_system/internal/schedule"   // Scheduled payments
	"banking_system/internal/store"      // Repositories
	"banking_system/internal/twofactor"  // Two-factor state machine
	"banking_system/internal/utils"      // Tokens and Redis helpers

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// Deps are the services the routes are wired to
type Deps struct {
	Store          store.Store             // Repositories
	Engine         *ledger.Engine          // Money-movement engine
	Auth           *twofactor.Service      // Two-factor state machine
	Payments       *schedule.Service       // Scheduled payments
	Tokens         *utils.TokenIssuer      // Session token parser
	Redis          *redis.Client           // Cache, nil disables caching
	Limiter        *utils.RateLimiter      // API and auth attempt limiter
	Idempotency    *utils.IdempotencyStore // Replay store for money movements
	Cookies        Cookies                 // Cookie flags
	ExternalAPIKey string                  // Interbank callback key, empty disables the route
	AuthRateLimit  int                     // Auth attempts per window
	AuthRateWindow time.Duration           // Auth rate limit window
	APIRateLimit   int                     // Requests per client per window
	APIRateWindow  time.Duration           // API rate limit window
	CORSOrigins    []string                // Browser origins allowed with credentials, empty echoes any
	MaxBodyBytes   int64                   // Request body cap
	HSTS           bool                    // Send Strict-Transport-Security
}

// HealthHandler reports liveness
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	}
}

// RegisterRoutes mounts every route on r
func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(
		middleware.SecurityHeadersMiddleware(d.HSTS),
		middleware.CORSMiddleware(d.CORSOrigins),
		middleware.BodyLimitMiddleware(d.MaxBodyBytes),
		middleware.SanitizeMiddleware(),
		middleware.RateLimitMiddleware(d.Limiter, "api", d.APIRateLimit, d.APIRateWindow), // Per-client budget for every route
	)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "banking_system", "health": "/health"})
	})
	r.GET("/health", HealthHandler())

	authLimit := middleware.RateLimitMiddleware(d.Limiter, "auth", d.AuthRateLimit, d.AuthRateWindow)
	session := middleware.SessionAuthMiddleware(d.Tokens)
	idempotent := middleware.IdempotencyMiddleware(d.Idempotency)

	apiGroup := r.Group("/api")

	// Auth routes
	auth := apiGroup.Group("/auth")
	auth.POST("/register", authLimit, RegisterHandler(d.Auth, d.Cookies))                         // Registration endpoint
	auth.POST("/login", authLimit, LoginHandler(d.Auth, d.Cookies))                               // Login endpoint
	auth.POST("/two-factor/verify", authLimit, VerifyTwoFactorHandler(d.Auth, d.Cookies))         // Code verification
	auth.POST("/two-factor/regenerate", authLimit, RegenerateTwoFactorHandler(d.Auth, d.Cookies)) // New secret during setup
	auth.POST("/two-factor/cancel", authLimit, CancelTwoFactorHandler(d.Cookies))                 // Abandon the challenge
	auth.POST("/two-factor/disable", session, DisableTwoFactorHandler(d.Auth, d.Cookies))         // Remove the secret
	auth.POST("/logout", LogoutHandler(d.Cookies))                                                // Clear cookies
	auth.GET("/me", session, MeHandler(d.Auth))                                                   // Current user

	// Account routes (protected by session)
	accounts := apiGroup.Group("/accounts", session)
	accounts.GET("", ListAccountsHandler(d.Engine, d.Redis))                // List accounts
	accounts.POST("", CreateAccountHandler(d.Engine, d.Redis))              // Open account
	accounts.GET("/:id", GetAccountHandler(d.Engine))                       // Account details
	accounts.DELETE("/:id", DeleteAccountHandler(d.Engine, d.Redis))        // Close account
	accounts.GET("/:id/transactions", AccountTransactionsHandler(d.Engine)) // Account history

	// Inbound interbank rail, guarded by the shared key instead of a session
	apiGroup.POST("/transactions/external/incoming",
		middleware.ExternalAPIKeyMiddleware(d.ExternalAPIKey), ExternalIncomingHandler(d.Engine, d.Redis))

	// Transaction routes (protected by session)
	txs := apiGroup.Group("/transactions", session)
	txs.GET("", TransactionHistoryHandler(d.Engine, d.Redis))                              // History with filters
	txs.POST("/deposit", idempotent, DepositHandler(d.Engine, d.Redis))                    // Cash in
	txs.POST("/withdraw", idempotent, WithdrawHandler(d.Engine, d.Redis))                  // Cash out
	txs.POST("/transfer", idempotent, TransferHandler(d.Engine, d.Redis))                  // Internal transfer
	txs.POST("/external/outgoing", idempotent, ExternalOutgoingHandler(d.Engine, d.Redis)) // Outbound IBAN payment
	txs.GET("/balance/:account_id", BalanceHandler(d.Engine))                              // Account balance

	// Scheduled payment routes (protected by session)
	bills := apiGroup.Group("/scheduled-payments", session)
	bills.GET("", ListScheduledPaymentsHandler(d.Payments))         // List bills
	bills.POST("", CreateScheduledPaymentHandler(d.Payments))       // Schedule a bill
	bills.DELETE("/:id", CancelScheduledPaymentHandler(d.Payments)) // Cancel a bill

	// Admin routes (protected, admin only)
	admin := r.Group("/admin", session, middleware.AdminOnlyMiddleware(d.Store.Users()))
	admin.GET("/users", ListUsersHandler(d.Store.Users(), d.Redis))                      // List users endpoint
	admin.GET("/accounts", ListAllAccountsHandler(d.Store.Accounts(), d.Redis))          // List accounts endpoint
	admin.GET("/transactions", ListTransactionsHandler(d.Store.Transactions(), d.Redis)) // List transactions endpoint
}
