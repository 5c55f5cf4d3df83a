package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

type stubHandler struct {
	got  events.SQSEvent
	fail []string
}

func (s *stubHandler) Handle(_ context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	s.got = event
	var resp events.SQSEventResponse
	for _, id := range s.fail {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunLocal_DrivesHandler(t *testing.T) {
	h := &stubHandler{}
	var out bytes.Buffer

	err := runLocal(context.Background(), h,
		strings.NewReader(`{"Records":[{"messageId":"m1","body":"{}"},{"messageId":"m2","body":"{}"}]}`),
		&out, discard())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.got.Records) != 2 || h.got.Records[1].MessageId != "m2" {
		t.Errorf("unexpected event %+v", h.got)
	}
	if out.Len() != 0 {
		t.Errorf("expected no failure output, got %s", out.String())
	}
}

func TestRunLocal_PrintsFailures(t *testing.T) {
	h := &stubHandler{fail: []string{"m1"}}
	var out bytes.Buffer

	if err := runLocal(context.Background(), h, strings.NewReader(`{"Records":[{"messageId":"m1"}]}`), &out, discard()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), `"itemIdentifier": "m1"`) {
		t.Errorf("expected failure listing, got %s", out.String())
	}
}

func TestRunLocal_BadInput(t *testing.T) {
	for name, in := range map[string]string{"empty": "", "not json": "records please"} {
		t.Run(name, func(t *testing.T) {
			if err := runLocal(context.Background(), &stubHandler{}, strings.NewReader(in), io.Discard, discard()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadWorkerConfig_IgnoresAPISettings(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("EMAIL_PROVIDER", "sendgrid")
	t.Setenv("SENDGRID_API_KEY", "SG.key")
	t.Setenv("EMAIL_FROM_ADDRESS", "tickets@example.com")
	t.Setenv("DATABASE_URL", "")

	cfg, err := loadWorkerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Email.Provider != "sendgrid" || cfg.Email.SendGridAPIKey.Unmask() != "SG.key" {
		t.Errorf("unexpected email config %+v", cfg.Email)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestLoadWorkerConfig_RejectsMissingSendGridKey(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("EMAIL_PROVIDER", "sendgrid")
	t.Setenv("SENDGRID_API_KEY", "")

	if _, err := loadWorkerConfig(); err == nil {
		t.Error("expected validation error")
	}
}
