package main

import (
	"context" // Backfill context

	"banking_system/internal/codec"  // Field encryption
	"banking_system/internal/config" // Custom import path (Config)
	"banking_system/internal/db"     // Custom import path (Database)

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Main entry point for migration: schema first, then sealing of legacy plaintext
func main() {
	cfg, err := config.LoadConfig() // Load configuration
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	config.SetupLogger(cfg)

	gormDB, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect database: %v", err) // Log fatal error if connection fails
	}
	if err := db.Migrate(gormDB); err != nil {
		logrus.Fatalf("%v", err) // Log fatal error if migration fails
	}

	fieldCodec, err := codec.New(cfg.DataEncryptionKey)
	if err != nil {
		logrus.Fatalf("failed to set up encryption: %v", err)
	}
	n, err := db.Backfill(context.Background(), gormDB, fieldCodec)
	if err != nil {
		logrus.Fatalf("backfill failed: %v", err)
	}
	logrus.WithField("sealed", n).Info("Backfill completed.")
}
