package bootstrap

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing/internal/config"
	"ticketing/internal/notify"
	"ticketing/internal/types"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"verbose", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(tt.level)
			assert.True(t, logger.Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Enabled(context.Background(), tt.muted))
		})
	}
}

func TestSender(t *testing.T) {
	got := Sender(config.EmailConfig{FromAddress: "tickets@example.com", FromName: "Box Office"})
	assert.Equal(t, types.SenderIdentity{Name: "Box Office", Address: "tickets@example.com"}, got)
}

func TestNewEmailProvider(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}

	provider, name, err := NewEmailProvider(config.EmailConfig{Provider: "ses"}, awsCfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "ses", name)

	provider, name, err = NewEmailProvider(config.EmailConfig{Provider: "sendgrid", SendGridAPIKey: "SG.key"}, awsCfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "sendgrid", name)

	_, _, err = NewEmailProvider(config.EmailConfig{Provider: "pigeon"}, awsCfg, nil)
	assert.ErrorContains(t, err, "pigeon")
}

func TestNewNotifier(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}

	n, err := NewNotifier(&config.Config{Notify: config.NotifyConfig{Mode: "queue", QueueURL: "https://sqs.local/ticket-emails"}}, awsCfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.QueueNotifier{}, n)

	n, err = NewNotifier(&config.Config{
		Notify: config.NotifyConfig{Mode: "direct"},
		Email:  config.EmailConfig{Provider: "ses"},
	}, awsCfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.DirectNotifier{}, n)

	_, err = NewNotifier(&config.Config{Notify: config.NotifyConfig{Mode: "carrier"}}, awsCfg, nil)
	assert.Error(t, err)
}

func TestPoolOptions(t *testing.T) {
	opts := PoolOptions(config.DatabaseConfig{
		MaxConns:          12,
		MinConns:          3,
		MaxConnLifetime:   30 * time.Minute,
		AcquireTimeout:    2 * time.Second,
		HealthCheckPeriod: time.Minute,
	})

	assert.Equal(t, 12, opts.MaxConns)
	assert.Equal(t, 3, opts.MinConns)
	assert.Equal(t, 30*time.Minute, opts.MaxConnLifetime)
	assert.Equal(t, 2*time.Second, opts.ConnectTimeout)
	assert.Equal(t, time.Minute, opts.HealthCheckPeriod)
}

type nopStore struct{}

func (nopStore) GetBySession(context.Context, string) (*types.Ticket, error) { return nil, nil }
func (nopStore) Approve(context.Context, int64, types.Approval) (bool, error) {
	return false, nil
}
func (nopStore) MarkExpired(context.Context, int64, string) (bool, error)   { return false, nil }
func (nopStore) MarkCancelled(context.Context, int64, string) (bool, error) { return false, nil }
func (nopStore) GetDetails(context.Context, int64) (*types.TicketDetails, error) {
	return nil, nil
}

func TestNewReconciliation(t *testing.T) {
	cfg := &config.Config{Fees: config.FeeConfig{
		PlatformRate:      decimal.RequireFromString("0.05"),
		ProcessorRate:     decimal.RequireFromString("0.029"),
		ProcessorFixedFee: decimal.RequireFromString("0.30"),
		CurrencyPlaces:    2,
	}}

	recon, err := NewReconciliation(cfg, nopStore{}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, recon.Reconciler)

	snap, err := recon.Fees.Compute(decimal.RequireFromString("100"), types.FeeBearerBuyer)
	require.NoError(t, err)
	assert.Equal(t, "108.20", snap.AmountPaid.StringFixed(2))
}

func TestNewReconciliation_InvalidSchedule(t *testing.T) {
	cfg := &config.Config{Fees: config.FeeConfig{
		PlatformRate:   decimal.RequireFromString("-0.05"),
		CurrencyPlaces: 2,
	}}

	_, err := NewReconciliation(cfg, nopStore{}, nil, nil)
	assert.Error(t, err)
}

func TestSecretProvider(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	assert.Nil(t, SecretProvider())

	t.Setenv("APP_ENV", "dev")
	t.Setenv("SECRET_SOURCE", "env")
	assert.IsType(t, &config.EnvVarProvider{}, SecretProvider())

	t.Setenv("SECRET_SOURCE", "")
	assert.IsType(t, &config.SSMProvider{}, SecretProvider())
}
