package config

import (
	"errors"  // For error values
	"fmt"     // For DSN formatting
	"strings" // For normalizing enum-like settings
	"time"    // For token lifetimes and windows

	"github.com/joho/godotenv"             // For loading .env files
	"github.com/kelseyhightower/envconfig" // For typed environment decoding
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ErrMissingSecret is returned when a required secret is absent from the environment
var ErrMissingSecret = errors.New("config: required secret is not set")

// Config holds the application configuration
type Config struct {
	AppPort    string `envconfig:"APP_PORT" default:"5000"`       // Application port
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`  // Database driver: postgres or mysql
	DBUser     string `envconfig:"DB_USER" default:"postgres"`    // Database user
	DBPassword string `envconfig:"DB_PASSWORD"`                   // Database password
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`   // Database host
	DBPort     string `envconfig:"DB_PORT" default:"5432"`        // Database port
	DBName     string `envconfig:"DB_NAME" default:"banking"`     // Database name
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`  // Postgres sslmode
	JWTSecret  string `envconfig:"JWT_SECRET"`                    // JWT secret key
	RedisAddr  string `envconfig:"REDIS_ADDR"`                    // Redis server address, empty disables redis
	RedisPass  string `envconfig:"REDIS_PASS"`                    // Redis password
	RedisDB    int    `envconfig:"REDIS_DB" default:"0"`          // Redis database number
	IsProd     bool   `envconfig:"IS_PROD" default:"false"`       // Is production environment
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`      // Logrus level name
	CookieSec  bool   `envconfig:"COOKIE_SECURE" default:"false"` // Set the Secure flag on auth cookies

	DataEncryptionKey string `envconfig:"DATA_ENCRYPTION_KEY"`       // Secret the field cipher key is derived from
	ExternalAPIKey    string `envconfig:"EXTERNAL_PAYMENTS_API_KEY"` // Shared key for the inbound interbank rail

	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"15m"`    // Session token lifetime
	PendingTTL time.Duration `envconfig:"PENDING_2FA_TTL" default:"5m"` // Pending two-factor token lifetime
	TOTPIssuer string        `envconfig:"TOTP_ISSUER" default:"Banking System"`

	IBANCountry  string `envconfig:"IBAN_COUNTRY" default:"DE"`         // Country prefix for generated IBANs
	IBANBankCode string `envconfig:"IBAN_BANK_CODE" default:"37040044"` // Bank code embedded in generated IBANs

	AuthRateLimit  int           `envconfig:"AUTH_RATE_LIMIT" default:"20"`   // Auth attempts allowed per window
	AuthRateWindow time.Duration `envconfig:"AUTH_RATE_WINDOW" default:"15m"` // Auth rate limit window
	APIRateLimit   int           `envconfig:"API_RATE_LIMIT" default:"300"`   // Requests per client per window
	APIRateWindow  time.Duration `envconfig:"API_RATE_WINDOW" default:"15m"`  // API rate limit window

	CORSOrigins  []string `envconfig:"CORS_ORIGINS"`                     // Comma separated browser origins, empty echoes any
	MaxBodyBytes int64    `envconfig:"MAX_BODY_BYTES" default:"1048576"` // Request body cap

	SchedulerSpec string `envconfig:"SCHEDULER_SPEC" default:"@every 1m"` // Cron spec for the payment executor
}

// LoadConfig loads configuration from environment variables and fails on missing secrets
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Load .env file if present
	var cfg Config
	// Decode environment into the struct
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver)) // Normalize driver name
	cfg.CORSOrigins = cleanOrigins(cfg.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err // Refuse to run with insecure defaults
	}
	return &cfg, nil
}

// cleanOrigins trims entries and drops empty ones and trailing slashes
func cleanOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks settings the process cannot run without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("%w: JWT_SECRET", ErrMissingSecret)
	}
	if strings.TrimSpace(c.DataEncryptionKey) == "" {
		return fmt.Errorf("%w: DATA_ENCRYPTION_KEY", ErrMissingSecret)
	}
	if c.DBDriver != DriverPostgres && c.DBDriver != DriverMySQL {
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.SessionTTL <= 0 || c.PendingTTL <= 0 {
		return errors.New("config: SESSION_TTL and PENDING_2FA_TTL must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: MAX_BODY_BYTES must be positive")
	}
	return nil
}

// DSN builds the Data Source Name for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == DriverMySQL {
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}
