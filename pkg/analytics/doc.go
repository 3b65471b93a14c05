// Package analytics rolls ledger and billing activity into daily per-mess
// usage rows and answers the cross-tenant reporting queries built on them.
// The alerter scans for low balances and for stored balances that drift
// from the transaction log.
package analytics
