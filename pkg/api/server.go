package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/observability"
)

// Server wires the domain handlers onto a single router.
type Server struct {
	router  *mux.Router
	logger  *observability.Logger
	otel    bool
	handler http.Handler
}

// RouteRegistrar is implemented by every handler group.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// WebhookLimiter is the slice of the rate-limit middleware the server
// needs. Both the in-process limiter and the Redis-backed one satisfy it.
type WebhookLimiter interface {
	Handler(next http.Handler) http.Handler
}

// Options configures server-level middleware.
type Options struct {
	Logger *observability.Logger

	// WebhookLimiter rate limits the payment webhook endpoint. Optional;
	// nil leaves the endpoint unlimited.
	WebhookLimiter WebhookLimiter

	// EnableOTel wraps the router in otelhttp tracing.
	EnableOTel bool
}

// NewServer creates a server and registers every handler group.
func NewServer(opts Options, registrars ...RouteRegistrar) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
		otel:   opts.EnableOTel,
	}

	for _, r := range registrars {
		r.RegisterRoutes(s.router)
	}

	if opts.WebhookLimiter != nil {
		// The webhook route is registered by PaymentHandlers; the limiter
		// wraps just that path so gateway floods cannot starve the API.
		s.router.Use(func(next http.Handler) http.Handler {
			limited := opts.WebhookLimiter.Handler(next)
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == webhookPath {
					limited.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	var handler http.Handler = s.router
	handler = httputil.LoggingMiddleware(s.logger)(handler)
	handler = httputil.RecoveryMiddleware(s.logger)(handler)
	if s.otel {
		handler = otelhttp.NewHandler(handler, "messmate-api")
	}
	s.handler = handler
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying mux for late registrations.
func (s *Server) Router() *mux.Router {
	return s.router
}
