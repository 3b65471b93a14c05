package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	TransactionsTotal        *prometheus.CounterVec
	DuplicatePostsTotal      *prometheus.CounterVec
	InsufficientCreditsTotal prometheus.Counter

	// Billing metrics
	BillsGeneratedTotal *prometheus.CounterVec
	BillsOverdueTotal   prometheus.Counter
	DebitRetriesTotal   *prometheus.CounterVec

	// Payment metrics
	OrdersCreatedTotal       prometheus.Counter
	OrdersExpiredTotal       prometheus.Counter
	VerificationsTotal       *prometheus.CounterVec
	SignatureMismatchesTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business gauges
	MessesTotal        prometheus.Gauge
	LowBalanceAccounts prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "messmate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_ledger_transactions_total",
				Help: "Total number of credit transactions posted",
			},
			[]string{"reason"},
		),
		DuplicatePostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_ledger_duplicate_posts_total",
				Help: "Posts deduplicated by the (reason, reference) idempotency key",
			},
			[]string{"reason"},
		),
		InsufficientCreditsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messmate_ledger_insufficient_credits_total",
				Help: "Posts rejected because the balance would go negative",
			},
		),

		BillsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_bills_generated_total",
				Help: "Bills generated by initial status",
			},
			[]string{"status"},
		),
		BillsOverdueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messmate_bills_overdue_total",
				Help: "Bills transitioned to overdue by the daily sweep",
			},
		),
		DebitRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_bill_debit_retries_total",
				Help: "Manual bill debit retries by outcome",
			},
			[]string{"outcome"},
		),

		OrdersCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messmate_payment_orders_created_total",
				Help: "Payment orders created",
			},
		),
		OrdersExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messmate_payment_orders_expired_total",
				Help: "Payment orders expired unverified",
			},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_payment_verifications_total",
				Help: "Payment verifications by method and result",
			},
			[]string{"method", "result"},
		),
		SignatureMismatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messmate_gateway_signature_mismatches_total",
				Help: "Webhook deliveries rejected for bad signatures",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messmate_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messmate_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messmate_db_connections_idle",
				Help: "Idle database connections",
			},
		),

		MessesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messmate_messes_total",
				Help: "Total registered mess accounts",
			},
		),
		LowBalanceAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messmate_low_balance_accounts",
				Help: "Accounts currently below their low-balance threshold",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransactionsTotal,
		m.DuplicatePostsTotal,
		m.InsufficientCreditsTotal,
		m.BillsGeneratedTotal,
		m.BillsOverdueTotal,
		m.DebitRetriesTotal,
		m.OrdersCreatedTotal,
		m.OrdersExpiredTotal,
		m.VerificationsTotal,
		m.SignatureMismatchesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.MessesTotal,
		m.LowBalanceAccounts,
	)

	return m
}

// InitMetrics creates metrics with a new registry and returns both
func InitMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewMetrics(registry), registry
}

// MetricsHandler returns the Prometheus scrape handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
