// Package core provides the HTTP chassis of the ticketing API: a chi router
// with the cross-cutting middleware (recovery, request ids, logging,
// metrics, CORS), the JSON response envelope, request validation, and the
// health endpoint. Domain handlers mount themselves through registrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketing/internal/config"
)

// MetricsCollector records per-request telemetry. route is the matched chi
// pattern, not the raw path.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of routes on r.
type RouteRegistrar func(r chi.Router)

// Server holds the API's shared dependencies and router.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	HealthProbes   []HealthProbe
	// UserResolver identifies the caller of /v1 routes.
	UserResolver UserResolver

	// RootRouteRegistrars mount routes outside /v1, such as provider
	// webhooks that carry their own authentication.
	RootRouteRegistrars []RouteRegistrar
	V1RouteRegistrars   []RouteRegistrar

	// Closers run on Shutdown in registration order.
	Closers []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes
// so tests can adjust registrars first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:       cfg,
		Logger:       logger,
		Validator:    NewValidator(logger),
		UserResolver: HeaderUserResolver(cfg.Server.UserHeader),
		router:       chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs every registered closer and joins their errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, closeFn := range s.Closers {
		if err := closeFn(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "error closing server resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
