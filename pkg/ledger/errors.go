package ledger

import "errors"

var (
	// ErrInsufficientCredits is returned when a debit would take the balance
	// below zero and the post does not permit overdraft.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountNotFound is returned when the mess does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidReason is returned for posts with an unknown reason.
	ErrInvalidReason = errors.New("invalid transaction reason")

	// ErrEmptyReference is returned for posts without a reference id; every
	// post must carry its idempotency key.
	ErrEmptyReference = errors.New("reference id required")
)
