// Package config defines the service configuration, loaded once at
// startup and immutable thereafter. Values resolve through a priority
// chain:
//
//	OS Environment (highest) -> dotenv file -> AWS SSM Parameter Store
//
// A missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"vitalog/internal/types"
)

// SecretString aliases types.SecretString for use in config struct tags.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"vitalog"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Billing     BillingConfig
	Entitlement EntitlementConfig
	Security    SecurityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the usage-counter store connection.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL" validate:"required"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-1"`

	// Queue the bot consumer reads entitlement.changed events from.
	EntitlementQueueURL string `envconfig:"SQS_ENTITLEMENT_EVENTS" validate:"required,url"`

	// LocalStack support; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe credentials and the price catalogue.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	PriceIDMonthly  string `envconfig:"STRIPE_PRICE_MONTHLY" validate:"required"`
	PriceIDBiannual string `envconfig:"STRIPE_PRICE_BIANNUAL" validate:"required"`
}

// EntitlementConfig holds domain tuning knobs.
type EntitlementConfig struct {
	TrialDays int `envconfig:"TRIAL_DAYS" default:"7"`

	// Timezone the daily quota boundary is computed in.
	Timezone string `envconfig:"QUOTA_TIMEZONE" default:"Asia/Tokyo"`

	// Retention for webhook idempotency records (default 90 days).
	EventRetention time.Duration `envconfig:"EVENT_RETENTION" default:"2160h"`
}

// Location resolves the configured quota timezone.
func (c EntitlementConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// bcrypt hash of the admin API key; the plaintext never reaches config.
	AdminAPIKeyHash    SecretString `envconfig:"ADMIN_API_KEY_HASH" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
