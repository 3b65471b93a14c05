package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/messmate/messmate/pkg/analytics"
	"github.com/messmate/messmate/pkg/api"
	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/config"
	"github.com/messmate/messmate/pkg/leave"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/middleware"
	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/payments"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/storage/postgres"
	"github.com/messmate/messmate/pkg/trial"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting messmate billing engine")

	db, err := postgres.Connect(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	if err := postgres.Migrate(db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	var cache *postgres.RedisClient
	if cfg.Storage.CacheEnabled {
		cache, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, running without cache")
			cache = nil
		}
	}

	proofs, err := postgres.NewProofStore(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to initialize proof store")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	auditor := audit.NewDBLogger(db, logger)

	ledgerSvc := ledger.NewPostgresService(db, logger, metrics)
	pricingSvc := pricing.NewPostgresService(db, logger, metrics, 5*time.Minute)
	catalogSvc := catalog.NewPostgresService(db, cache, logger, metrics)
	messSvc := messes.NewPostgresService(db, logger)
	trialSvc := trial.NewPostgresService(db, ledgerSvc, logger,
		cfg.Billing.TrialCredits, cfg.Billing.TrialDays)
	leaveSvc := leave.NewPostgresService(db, ledgerSvc, logger)
	billingSvc := billing.NewPostgresService(db, ledgerSvc, pricingSvc, messSvc,
		logger, metrics, cfg.Billing.BillDueDays)
	paymentSvc := payments.NewPostgresService(db, ledgerSvc, catalogSvc, proofs,
		auditor, logger, metrics, cfg.Gateway.WebhookSecret, cfg.Gateway.OrderExpiry)
	analyticsSvc := analytics.NewService(db)

	if err := seedSlabs(ctx, cfg, pricingSvc, logger); err != nil {
		logger.WithError(err).Error("failed to seed credit slabs")
		os.Exit(1)
	}

	limitCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Gateway.WebhookRateLimit,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Gateway.WebhookRateLimit / 10,
	}
	var webhookLimiter api.WebhookLimiter
	if cache != nil {
		// Redis holds the counters so the limit spans API replicas.
		webhookLimiter = middleware.NewDistributedRateLimitMiddleware(
			cache.Client(), limitCfg, "webhook")
	} else {
		inProc := middleware.NewRateLimitMiddleware(limitCfg)
		inProc.StartCleanup(ctx)
		webhookLimiter = inProc
	}

	server := api.NewServer(api.Options{
		Logger:         logger,
		WebhookLimiter: webhookLimiter,
		EnableOTel:     cfg.Observability.OTelEnabled,
	},
		api.NewLedgerHandlers(ledgerSvc),
		api.NewPaymentHandlers(paymentSvc, catalogSvc),
		api.NewTrialHandlers(trialSvc),
		api.NewBillingHandlers(billingSvc, auditor),
		api.NewLeaveHandlers(leaveSvc, messSvc, pricingSvc),
		api.NewMessHandlers(messSvc),
		api.NewAdminHandlers(ledgerSvc, pricingSvc, catalogSvc, analyticsSvc, auditor),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, db, cache, registry, logger)

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if cache != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return cache.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// seedSlabs loads the slab seed file when configured. Seeding is a no-op
// if the slab table already has rows.
func seedSlabs(ctx context.Context, cfg *config.Config, pricingSvc *pricing.PostgresService, logger *observability.Logger) error {
	if cfg.Billing.SlabSeedFile == "" {
		return nil
	}
	slabs, err := pricing.LoadSeedFile(cfg.Billing.SlabSeedFile)
	if err != nil {
		return err
	}
	if err := pricingSvc.Seed(ctx, slabs); err != nil {
		return err
	}
	logger.WithField("file", cfg.Billing.SlabSeedFile).Info("credit slabs seeded")
	return nil
}

// startHealthServer serves liveness, readiness, and metrics on a separate
// port so probes survive API saturation.
func startHealthServer(cfg *config.Config, db *sql.DB, cache *postgres.RedisClient,
	registry *prometheus.Registry, logger *observability.Logger) *http.Server {
	var pinger observability.Pinger
	if cache != nil {
		pinger = cache
	}
	checker := observability.NewHealthChecker(db, pinger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("health server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return srv
}
