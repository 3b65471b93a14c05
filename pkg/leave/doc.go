// Package leave computes and applies credit refunds for approved member
// leave. The proration math is pure; application posts through the ledger
// exactly once per adjustment.
package leave
