// Package postgres provides the persistence adapters for the billing
// engine: the PostgreSQL connection pool and schema migrations, a Redis
// read cache for read-mostly catalog data, and an S3-compatible store for
// payment proof blobs.
//
// All billing state lives in PostgreSQL. The ledger balance is a column on
// the mess row updated in the same transaction as the log append, so the
// cache layers here never hold authoritative money state.
package postgres
