// Package ledger implements the append-only credit ledger that backs every
// mess account. All balance changes are posted as transactions; the stored
// balance column is a cache of the log's sum and the two are updated in a
// single database transaction. Posts are idempotent on (reason, reference
// id) so callers can retry without double-charging.
package ledger
