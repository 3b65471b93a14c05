// Package middleware provides HTTP middleware for the API server. The
// in-process token bucket limiter covers single-instance deployments; the
// Redis-backed limiter shares budgets across replicas and fails open when
// Redis is unreachable.
package middleware
