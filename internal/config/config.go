// Package config defines the configuration for the ticketing services.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/fees"
	"ticketing/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"ticketing-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Webhook       WebhookConfig
	Fees          FeeConfig
	Billing       BillingConfig
	Email         EmailConfig
	Notify        NotifyConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s" validate:"gt=0"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// UserHeader carries the authenticated user id set by the gateway.
	UserHeader string `envconfig:"USER_ID_HEADER" default:"X-User-ID"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig configures the processed-event cache. An empty URL disables it.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// WebhookConfig holds inbound payment webhook settings.
type WebhookConfig struct {
	SigningSecret SecretString `envconfig:"WEBHOOK_SIGNING_SECRET" validate:"required"`
	// UnverifiedPolicy decides what happens to deliveries whose signature
	// does not verify: "reject" answers 401, "process" handles them anyway.
	UnverifiedPolicy string        `envconfig:"WEBHOOK_UNVERIFIED_POLICY" default:"reject" validate:"oneof=reject process"`
	ReplayTolerance  time.Duration `envconfig:"WEBHOOK_REPLAY_TOLERANCE" default:"5m" validate:"gt=0"`
	DedupeTTL        time.Duration `envconfig:"WEBHOOK_DEDUPE_TTL" default:"24h"`
	SignatureHeader  string        `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Signature"`
	ArchiveBodies    bool          `envconfig:"WEBHOOK_ARCHIVE_BODIES" default:"true"`
}

// FeeConfig holds the financial terms applied to ticket sales.
type FeeConfig struct {
	PlatformRate      decimal.Decimal `envconfig:"FEE_PLATFORM_RATE" default:"0.05"`
	ProcessorRate     decimal.Decimal `envconfig:"FEE_PROCESSOR_RATE" default:"0.029"`
	ProcessorFixedFee decimal.Decimal `envconfig:"FEE_PROCESSOR_FIXED" default:"0.30"`
	CurrencyPlaces    int32           `envconfig:"FEE_CURRENCY_PLACES" default:"2" validate:"gte=0,lte=4"`
}

// Schedule converts the configured terms into a fee schedule.
func (f FeeConfig) Schedule() fees.Schedule {
	return fees.Schedule{
		PlatformRate:      f.PlatformRate,
		ProcessorRate:     f.ProcessorRate,
		ProcessorFixedFee: f.ProcessorFixedFee,
		Places:            f.CurrencyPlaces,
	}
}

// BillingConfig holds payment provider credentials and checkout redirects.
type BillingConfig struct {
	StripeSecretKey    SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeAPIBase      string       `envconfig:"STRIPE_API_BASE"`
	CheckoutSuccessURL string       `envconfig:"CHECKOUT_SUCCESS_URL" validate:"required,url"`
	CheckoutCancelURL  string       `envconfig:"CHECKOUT_CANCEL_URL" validate:"required,url"`
	Currency           string       `envconfig:"CHECKOUT_CURRENCY" default:"usd" validate:"len=3"`
}

// EmailConfig holds email delivery provider settings.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"tickets@example.com" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Tickets"`
}

// NotifyConfig controls how ticket emails leave the API process. In "direct"
// mode the API calls the provider itself; in "queue" mode it publishes to SQS
// and the email worker sends.
type NotifyConfig struct {
	Mode     string        `envconfig:"NOTIFY_MODE" default:"direct" validate:"oneof=direct queue"`
	QueueURL string        `envconfig:"SQS_TICKET_EMAILS" validate:"required_if=Mode queue"`
	Timeout  time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s" validate:"gt=0"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Ticketing"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
