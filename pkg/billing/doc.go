// Package billing generates bills at cycle boundaries, debits them from
// the credit ledger, and tracks their lifecycle through pending, paid,
// overdue, and waived states.
package billing
