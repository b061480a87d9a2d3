package main

import (
	"banking_system/internal/api"        // Custom package for API handlers
	"banking_system/internal/codec"      // Field encryption
	"banking_system/internal/config"     // Custom package for configuration
	"banking_system/internal/db"         // Database connection
	"banking_system/internal/identifier" // IBAN generation
	"banking_system/internal/ledger"     // Money-movement engine
	"banking_system/internal/middleware" // Custom package for middleware
	"banking_system/internal/schedule"   // Scheduled payments
	"banking_system/internal/store"      // Repositories
	"banking_system/internal/twofactor"  // Two-factor state machine
	"banking_system/internal/utils"      // Tokens, rate limiting and idempotency

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg, err := config.LoadConfig() // Load configuration
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	config.SetupLogger(cfg) // Setup logger

	// Connect to the database
	gormDB, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Field cipher for account numbers, IBANs and two-factor secrets
	fieldCodec, err := codec.New(cfg.DataEncryptionKey)
	if err != nil {
		logrus.Fatalf("failed to set up encryption: %v", err)
	}

	// Setup Redis client when configured
	redisClient, err := db.OpenRedis(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}
	var (
		scripter  redis.Scripter        // Rate limiter backend, nil disables limiting
		universal redis.UniversalClient // Idempotency backend, nil disables replay
	)
	if redisClient != nil {
		scripter, universal = redisClient, redisClient
	} else {
		logrus.Warn("REDIS_ADDR not set, caching, rate limiting and idempotency are disabled")
	}

	ibans, err := identifier.NewGenerator(cfg.IBANCountry, cfg.IBANBankCode)
	if err != nil {
		logrus.Fatalf("invalid IBAN settings: %v", err)
	}
	s := store.New(gormDB, fieldCodec)
	tokens := utils.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL, cfg.PendingTTL)

	if err := api.RegisterValidators(); err != nil {
		logrus.Fatalf("failed to register validators: %v", err)
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.New() // Gin router instance
	r.Use(gin.Recovery(), middleware.RequestLoggerMiddleware())

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	api.RegisterRoutes(r, api.Deps{
		Store:          s,
		Engine:         ledger.NewEngine(s, ibans),
		Auth:           twofactor.NewService(s, tokens, cfg.TOTPIssuer),
		Payments:       schedule.NewService(s),
		Tokens:         tokens,
		Redis:          redisClient,
		Limiter:        utils.NewRateLimiter(scripter, ""),
		Idempotency:    utils.NewIdempotencyStore(universal),
		Cookies:        api.Cookies{Secure: cfg.CookieSec},
		ExternalAPIKey: cfg.ExternalAPIKey,
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateWindow: cfg.AuthRateWindow,
		APIRateLimit:   cfg.APIRateLimit,
		APIRateWindow:  cfg.APIRateWindow,
		CORSOrigins:    cfg.CORSOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		HSTS:           cfg.CookieSec, // Secure cookies imply TLS
	})

	logrus.WithField("port", cfg.AppPort).Info("Server running") // Log server start
	// Start the server on port cfg.AppPort
	if err := r.Run(":" + cfg.AppPort); err != nil {
		logrus.Fatalf("server stopped: %v", err)
	}
}
