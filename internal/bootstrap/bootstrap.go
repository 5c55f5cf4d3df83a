// Package bootstrap builds the collaborators shared by the ticketing
// binaries: the logger, the AWS config, the email provider, the ticket email
// notifier and the reconciler.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"ticketing/internal/config"
	"ticketing/internal/db"
	"ticketing/internal/external"
	"ticketing/internal/fees"
	"ticketing/internal/notify"
	"ticketing/internal/reconciler"
	"ticketing/internal/types"
)

// NewLogger returns a JSON logger on stdout at level. Unknown levels log at
// info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// SecretProvider picks where _SSM_PARAM references resolve: nothing for
// APP_ENV=local, the environment itself when SECRET_SOURCE=env (CI), and
// AWS SSM otherwise.
func SecretProvider() config.SecretProvider {
	switch {
	case os.Getenv("APP_ENV") == "local":
		return nil
	case os.Getenv("SECRET_SOURCE") == "env":
		return config.NewEnvVarProvider()
	default:
		return config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
}

// LoadAWSConfig loads the default AWS config for region. A non-empty
// endpoint (LocalStack) overrides every service endpoint.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// Sender returns the From identity of ticket emails.
func Sender(cfg config.EmailConfig) types.SenderIdentity {
	return types.SenderIdentity{Name: cfg.FromName, Address: cfg.FromAddress}
}

// NewEmailProvider returns the configured provider and its metric name.
func NewEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (external.EmailProvider, string, error) {
	switch cfg.Provider {
	case "ses", "":
		return external.NewSESClient(awsCfg, cfg.SESConfigSet, logger), "ses", nil
	case "sendgrid":
		base := external.NewBaseClient(
			&http.Client{Timeout: 10 * time.Second},
			"sendgrid",
			external.DefaultRetryPolicy(),
			config.NewBuildInfo().UserAgent(),
		)
		return external.NewSendGridClient(base, cfg.SendGridAPIKey, "", logger), "sendgrid", nil
	default:
		return nil, "", fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// NewNotifier returns the ticket email notifier for the configured mode:
// direct sends from this process, queue publishes for the email worker.
func NewNotifier(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (reconciler.Notifier, error) {
	switch cfg.Notify.Mode {
	case "queue":
		return notify.NewQueueNotifier(sqs.NewFromConfig(awsCfg), cfg.Notify.QueueURL, logger), nil
	case "direct", "":
		provider, _, err := NewEmailProvider(cfg.Email, awsCfg, logger)
		if err != nil {
			return nil, err
		}
		return notify.NewDirectNotifier(provider, Sender(cfg.Email), logger), nil
	default:
		return nil, fmt.Errorf("unknown notify mode %q", cfg.Notify.Mode)
	}
}

// TicketStore is what the reconciler needs from ticket persistence.
// *db.TicketRepo implements it.
type TicketStore interface {
	reconciler.TicketStore
	reconciler.DetailFetcher
}

// Reconciliation bundles the reconciler with the fee calculator it uses.
type Reconciliation struct {
	Reconciler *reconciler.Reconciler
	Fees       *fees.Calculator
}

// NewReconciliation wires a Reconciler over tickets.
func NewReconciliation(cfg *config.Config, tickets TicketStore, notifier reconciler.Notifier, logger *slog.Logger) (*Reconciliation, error) {
	calc, err := fees.NewCalculator(cfg.Fees.Schedule())
	if err != nil {
		return nil, fmt.Errorf("fee calculator: %w", err)
	}
	renderer, err := notify.NewRenderer(notify.WithCurrencyPlaces(cfg.Fees.CurrencyPlaces))
	if err != nil {
		return nil, fmt.Errorf("email renderer: %w", err)
	}

	rec := reconciler.New(reconciler.Config{
		Store:         tickets,
		Details:       tickets,
		Fees:          calc,
		Renderer:      renderer,
		Notifier:      notifier,
		NotifyTimeout: cfg.Notify.Timeout,
		Logger:        logger,
	})
	return &Reconciliation{Reconciler: rec, Fees: calc}, nil
}

// PoolOptions converts the database section into pool settings.
func PoolOptions(cfg config.DatabaseConfig) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
		ConnectTimeout:    cfg.AcquireTimeout,
	}
}
