// Package config loads application configuration from MESSMATE_-prefixed
// environment variables and validates it at startup. Storage, gateway,
// billing, and observability settings each get their own section with
// sensible defaults; only the postgres URL and the gateway webhook secret
// are required.
package config
