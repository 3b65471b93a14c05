// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown, and OpenTelemetry tracing for the
// billing engine.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithMess(messID).Info("bill generated")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics, registry := observability.InitMetrics()
//	metrics.TransactionsTotal.WithLabelValues("purchase").Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	http.HandleFunc("/healthz", checker.Liveness)
//	http.HandleFunc("/readyz", checker.Readiness)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
