// Package main is the entrypoint for the Email Worker Lambda function.
//
// The worker consumes ticket email messages published by the API in queue
// notify mode and sends each through the configured email provider. Failed
// sends are reported as partial batch failures so SQS redelivers only those.
//
// With APP_ENV=local the worker reads one SQS event as JSON from stdin
// instead of starting the Lambda runtime:
//
//	echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/email-worker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"ticketing/internal/bootstrap"
	"ticketing/internal/config"
	"ticketing/internal/notify"
)

// workerConfig is the subset of settings the worker reads. It must not fail
// on API-only settings such as DATABASE_URL.
type workerConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Email         config.EmailConfig
	AWS           config.AWSConfig
	Observability config.ObservabilityConfig
}

func loadWorkerConfig() (*workerConfig, error) {
	var cfg workerConfig
	if err := config.Process(bootstrap.SecretProvider(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newWorker(ctx context.Context, cfg *workerConfig, logger *slog.Logger) (*notify.Worker, error) {
	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	provider, name, err := bootstrap.NewEmailProvider(cfg.Email, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	var metrics notify.DeliveryMetrics = notify.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = notify.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	return notify.NewWorker(notify.WorkerConfig{
		Provider:     provider,
		ProviderName: name,
		From:         bootstrap.Sender(cfg.Email),
		Metrics:      metrics,
		Logger:       logger,
	}), nil
}

func main() {
	cfg, err := loadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("email worker initializing", "provider", cfg.Email.Provider)

	worker, err := newWorker(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email worker", "error", err)
		os.Exit(1)
	}

	if os.Getenv("APP_ENV") == "local" {
		if err := runLocal(context.Background(), worker, os.Stdin, os.Stderr, logger); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(worker.Handle)
}

// sqsHandler is the Lambda handler shape runLocal drives.
type sqsHandler interface {
	Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)
}

// runLocal feeds one SQS event read from in through h and writes any partial
// failures to out.
func runLocal(ctx context.Context, h sqsHandler, in io.Reader, out io.Writer, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parse stdin as SQS event: %w", err)
	}

	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}
	if len(resp.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures", "failed_count", len(resp.BatchItemFailures))
		respJSON, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(out, string(respJSON))
	}
	logger.Info("local run completed",
		"records_processed", len(event.Records),
		"failures", len(resp.BatchItemFailures),
	)
	return nil
}
