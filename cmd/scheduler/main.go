package main

import (
	"os"        // Signals
	"os/signal" // Signal notification
	"syscall"   // SIGTERM

	"banking_system/internal/codec"      // Field encryption
	"banking_system/internal/config"     // Configuration
	"banking_system/internal/db"         // Database connection
	"banking_system/internal/identifier" // IBAN generation
	"banking_system/internal/ledger"     // Money-movement engine
	"banking_system/internal/schedule"   // Scheduled payments
	"banking_system/internal/store"      // Repositories
	"banking_system/internal/utils"      // Cache invalidation

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Main runs the scheduled payment executor until interrupted
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	config.SetupLogger(cfg)

	gormDB, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}
	fieldCodec, err := codec.New(cfg.DataEncryptionKey)
	if err != nil {
		logrus.Fatalf("failed to set up encryption: %v", err)
	}
	ibans, err := identifier.NewGenerator(cfg.IBANCountry, cfg.IBANBankCode)
	if err != nil {
		logrus.Fatalf("invalid IBAN settings: %v", err)
	}

	redisClient, err := db.OpenRedis(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}
	if redisClient == nil {
		logrus.Warn("REDIS_ADDR not set, cached balances are not invalidated by scheduled payments")
	} else {
		defer redisClient.Close()
	}

	s := store.New(gormDB, fieldCodec)
	exec := schedule.NewExecutor(s, ledger.NewEngine(s, ibans)).
		WithInvalidator(utils.UserInvalidator(redisClient)) // Server reads cached balances
	runner := schedule.NewRunner(exec, cfg.SchedulerSpec)
	if err := runner.Start(); err != nil {
		logrus.Fatalf("invalid SCHEDULER_SPEC %q: %v", cfg.SchedulerSpec, err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down scheduler")
	<-runner.Stop().Done() // Let a running pass finish
}
