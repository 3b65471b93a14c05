package ledger

import (
	"time"
)

// Reason categorizes a credit transaction. Together with ReferenceID it
// forms the idempotency key for a post.
type Reason string

const (
	ReasonPurchase    Reason = "purchase"
	ReasonBillDebit   Reason = "bill_debit"
	ReasonLeaveRefund Reason = "leave_refund"
	ReasonTrialGrant  Reason = "trial_grant"
	ReasonAdjustment  Reason = "adjustment"
)

// Valid reports whether r is a known transaction reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonBillDebit, ReasonLeaveRefund, ReasonTrialGrant, ReasonAdjustment:
		return true
	}
	return false
}

// AccountStatus represents the lifecycle state of a mess account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusTrial     AccountStatus = "trial"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account is the credit-bearing view of a mess. Balance is denominated in
// whole credits and always equals the sum of the account's transaction log.
type Account struct {
	MessID              int64         `json:"mess_id"`
	Name                string        `json:"name"`
	Balance             int64         `json:"balance"`
	LowBalanceThreshold int64         `json:"low_balance_threshold"`
	AutoRenewal         bool          `json:"auto_renewal"`
	Status              AccountStatus `json:"status"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Transaction is one append-only entry in the credit log.
type Transaction struct {
	ID           int64     `json:"id"`
	MessID       int64     `json:"mess_id"`
	Delta        int64     `json:"delta"`
	Reason       Reason    `json:"reason"`
	ReferenceID  string    `json:"reference_id"`
	BalanceAfter int64     `json:"balance_after"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// Duplicate is set when a post was absorbed by the idempotency key and
	// the returned transaction is the pre-existing one.
	Duplicate bool `json:"duplicate,omitempty"`
}

// PostRequest describes a single ledger post.
type PostRequest struct {
	MessID      int64  `json:"mess_id"`
	Delta       int64  `json:"delta"`
	Reason      Reason `json:"reason"`
	ReferenceID string `json:"reference_id"`
	Note        string `json:"note,omitempty"`

	// AllowOverdraft permits the balance to go negative. Leave refunds set
	// this so a refund is never blocked by an already-drained account.
	AllowOverdraft bool `json:"-"`
}

// HistoryFilter narrows a transaction history query. BeforeID is a cursor:
// only transactions with a smaller id are returned.
type HistoryFilter struct {
	Reason   Reason
	BeforeID int64
	Limit    int
}

// BalanceCheck is the result of recomputing an account's balance from its
// transaction log.
type BalanceCheck struct {
	MessID        int64 `json:"mess_id"`
	StoredBalance int64 `json:"stored_balance"`
	LedgerSum     int64 `json:"ledger_sum"`
	Consistent    bool  `json:"consistent"`
}
