package db

import (
	"fmt"  // Error formatting
	"time" // Slow query threshold

	"banking_system/internal/config" // Connection settings

	"github.com/sirupsen/logrus" // Logrus for structured logging
	"gorm.io/driver/mysql"       // MySQL driver for GORM
	"gorm.io/driver/postgres"    // Postgres driver for GORM
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/logger"        // GORM logger
)

// dialector picks the GORM driver for the configured database
func dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DSN()), nil
	case config.DriverMySQL:
		return mysql.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.DBDriver)
	}
}

// Open connects to the configured database. Driver errors are translated so unique
// violations surface as gorm.ErrDuplicatedKey.
func Open(cfg *config.Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		TranslateError: true, // Map driver errors to gorm errors
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond, // Warn on slow queries
			LogLevel:                  logger.Warn,            // Only warnings and errors
			IgnoreRecordNotFoundError: true,                   // Misses are not errors
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return db, nil
}
