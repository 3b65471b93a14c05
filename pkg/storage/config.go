// Package storage holds configuration shared by the persistence backends:
// PostgreSQL for all billing state, Redis for read caches, and an
// S3-compatible store for payment proof blobs.
package storage

import "time"

// Config holds persistence backend configuration
type Config struct {
	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration

	// Proof blob store (S3-compatible) config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"plans":   5 * time.Minute,
			"slabs":   5 * time.Minute,
			"balance": 30 * time.Second,
		},
		S3Region: "us-east-1",
		S3Bucket: "messmate-payment-proofs",
	}
}
