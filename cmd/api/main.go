// Package main is the entry point for the ticketing API server.
//
// It loads configuration, connects to Postgres and (optionally) Redis, wires
// the reconciler, checkout and check-in services behind the core HTTP chassis,
// and serves until SIGINT or SIGTERM, then shuts down gracefully.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketing/internal/api/handlers"
	"ticketing/internal/bootstrap"
	"ticketing/internal/checkin"
	"ticketing/internal/checkout"
	"ticketing/internal/config"
	"ticketing/internal/core"
	"ticketing/internal/db"
	"ticketing/internal/dedupe"
	"ticketing/internal/external"
	"ticketing/internal/metrics"
	"ticketing/internal/reconciler"
	"ticketing/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ticketStore is every ticket operation the API performs. *db.TicketRepo
// implements it.
type ticketStore interface {
	bootstrap.TicketStore
	checkout.TicketStore
	checkin.TicketStore
}

// dependencies are the process-level resources buildServer wires together.
// Dedupe, Archive and Notifier may be nil.
type dependencies struct {
	Tickets  ticketStore
	Archive  handlers.DeliveryArchiver
	Dedupe   dedupe.Cache
	Notifier reconciler.Notifier
	Checkout external.CheckoutProvider
	Probes   []core.HealthProbe
	Closers  []func(ctx context.Context) error
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(bootstrap.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("ticketing API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"unverified_policy", cfg.Webhook.UnverifiedPolicy,
		"notify_mode", cfg.Notify.Mode,
	)

	ctx := context.Background()
	deps, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return runHTTPServer(srv, cfg, logger)
}

// connect opens the database, cache and vendor clients.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dependencies, error) {
	var deps dependencies

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), bootstrap.PoolOptions(cfg.Database))
	if err != nil {
		return deps, fmt.Errorf("connecting to database: %w", err)
	}
	deps.Probes = append(deps.Probes, core.PingProbe{ProbeName: "database", Target: pool})
	deps.Closers = append(deps.Closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	deps.Tickets = db.NewTicketRepo(pool, logger)
	archive, err := db.NewDeliveryRepo(pool, logger)
	if err != nil {
		return deps, fmt.Errorf("creating delivery archive: %w", err)
	}
	deps.Archive = archive
	deps.Closers = append(deps.Closers, func(context.Context) error {
		archive.Close()
		return nil
	})

	if cfg.Redis.URL.IsSet() {
		client, err := dedupe.NewRedisClient(cfg.Redis.URL.Unmask())
		if err != nil {
			return deps, err
		}
		cache := dedupe.NewRedisCache(client, cfg.Webhook.DedupeTTL, logger)
		deps.Dedupe = cache
		deps.Probes = append(deps.Probes, core.PingProbe{ProbeName: "redis", Target: cache})
		deps.Closers = append(deps.Closers, func(context.Context) error { return client.Close() })
	} else {
		logger.Warn("REDIS_URL not set, webhook dedupe cache disabled")
	}

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return deps, err
	}
	deps.Notifier, err = bootstrap.NewNotifier(cfg, awsCfg, logger)
	if err != nil {
		return deps, err
	}

	stripeBase := external.NewBaseClient(
		&http.Client{Timeout: 15 * time.Second},
		"stripe",
		external.DefaultRetryPolicy(),
		cfg.Build.UserAgent(),
	)
	deps.Checkout = external.NewStripeCheckoutClient(stripeBase, external.StripeConfig{
		SecretKey:      cfg.Billing.StripeSecretKey,
		BaseURL:        cfg.Billing.StripeAPIBase,
		CurrencyPlaces: cfg.Fees.CurrencyPlaces,
		Logger:         logger,
	})
	return deps, nil
}

// buildServer wires services and handlers onto a core.Server and mounts its
// routes.
func buildServer(cfg *config.Config, deps dependencies, logger *slog.Logger) (*core.Server, error) {
	if deps.Tickets == nil {
		return nil, errors.New("ticket store is required")
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.HealthProbes = deps.Probes
	srv.Closers = deps.Closers

	var webhookMetrics handlers.WebhookMetrics
	if cfg.Observability.EnableMetrics {
		prom := metrics.NewPrometheus()
		srv.Metrics = prom
		srv.MetricsHandler = prom.Handler()
		webhookMetrics = prom
	}

	recon, err := bootstrap.NewReconciliation(cfg, deps.Tickets, deps.Notifier, logger)
	if err != nil {
		return nil, err
	}

	webhookHandler := handlers.NewPaymentWebhookHandler(handlers.PaymentWebhookConfig{
		Verifier:         webhook.NewVerifier(cfg.Webhook.ReplayTolerance),
		Reconciler:       recon.Reconciler,
		Dedupe:           deps.Dedupe,
		Archive:          deps.Archive,
		Metrics:          webhookMetrics,
		Secret:           cfg.Webhook.SigningSecret.Unmask(),
		SignatureHeader:  cfg.Webhook.SignatureHeader,
		UnverifiedPolicy: cfg.Webhook.UnverifiedPolicy,
		ArchiveBodies:    cfg.Webhook.ArchiveBodies,
		Logger:           logger,
	})
	srv.RootRouteRegistrars = append(srv.RootRouteRegistrars, webhookHandler.RegisterRoutes)

	if deps.Checkout != nil {
		checkoutSvc := checkout.NewService(checkout.Config{
			Store:      deps.Tickets,
			Details:    deps.Tickets,
			Fees:       recon.Fees,
			Provider:   deps.Checkout,
			SuccessURL: cfg.Billing.CheckoutSuccessURL,
			CancelURL:  cfg.Billing.CheckoutCancelURL,
			Currency:   cfg.Billing.Currency,
			Logger:     logger,
		})
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
			handlers.NewCheckoutHandler(checkoutSvc, logger).RegisterRoutes)
	}

	checkinHandler := handlers.NewCheckinHandler(checkin.NewService(deps.Tickets, logger), srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, checkinHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// In-flight requests are drained; close pools and caches.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
