package core

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ticketing/internal/types"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Fatal("expected a generated request id in context")
		}
		if w.Header().Get("X-Request-Id") != seen {
			t.Errorf("response header %q does not match context %q", w.Header().Get("X-Request-Id"), seen)
		}
	})

	t.Run("propagates inbound", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "evt-req-1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		if seen != "evt-req-1" {
			t.Errorf("expected inbound id, got %q", seen)
		}
	})
}

func TestRequestLogger_RedactsSignatureHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(logger, []string{"X-Signature", "Authorization"})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.Header.Set("X-Signature", "sha256=deadbeef")
	req.Header.Set("authorization", "Bearer secret-token")
	req.Header.Set("User-Agent", "payments-relay/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "secret-token") {
		t.Errorf("sensitive header leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in log: %s", out)
	}
	if !strings.Contains(out, "payments-relay/1.0") {
		t.Errorf("expected non-sensitive header in log: %s", out)
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, `"level":"INFO"`},
		{http.StatusConflict, `"level":"WARN"`},
		{http.StatusBadGateway, `"level":"ERROR"`},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("status %d: expected %s in %s", tt.status, tt.level, buf.String())
		}
	}
}

func TestMetricsMiddleware_UnmatchedRoute(t *testing.T) {
	metrics := &mockMetricsCollector{}
	srv := &Server{Metrics: metrics}

	h := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	got := metrics.last()
	if got.route != "unmatched" || got.status != "404" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	srv := &Server{}
	w := httptest.NewRecorder()
	srv.MetricsMiddleware(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected pass-through, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"*"})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://tickets.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("expected *, got %q", w.Header().Get("Access-Control-Allow-Origin"))
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Error("credentials must not be allowed with a wildcard origin")
		}
	})

	t.Run("listed origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://tickets.example.com"})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://tickets.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "https://tickets.example.com" {
			t.Errorf("unexpected origin %q", w.Header().Get("Access-Control-Allow-Origin"))
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "true" || w.Header().Get("Vary") != "Origin" {
			t.Error("expected credentials and Vary for a specific origin")
		}
	})

	t.Run("unlisted origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://tickets.example.com"})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.net")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unlisted origin must not be allowed")
		}
		if w.Code != http.StatusOK {
			t.Errorf("request should still be served, got %d", w.Code)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"*"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("preflight must not reach the handler")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/checkin", nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := &Server{}
	w := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("missing security headers: %v", w.Header())
	}
}

func TestRecoverer_RepanicsAbortHandler(t *testing.T) {
	srv := &Server{Logger: testLogger()}
	h := srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rvr := recover(); rvr != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rvr)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestWriteJSON_EscapesValues(t *testing.T) {
	w := httptest.NewRecorder()
	_ = writeJSON(w, APIErrorResponse{Error: ErrorDetail{Code: "x", Message: "say \"hi\"\n", RequestID: `a\b`}})

	want := `{"error":{"code":"x","message":"say \"hi\"\n","request_id":"a\\b"}}`
	if w.Body.String() != want {
		t.Errorf("got %s, want %s", w.Body.String(), want)
	}
}
