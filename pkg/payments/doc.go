// Package payments turns gateway money movement into ledger credits. An
// order snapshots a plan's price and credits, and a verification closes it
// either through a signed gateway webhook or a manually reviewed payment
// proof. Verifications are unique per gateway transaction id, so duplicate
// webhook deliveries and reviewer retries never credit twice.
package payments
