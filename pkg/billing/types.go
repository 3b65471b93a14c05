package billing

import (
	"errors"
	"time"
)

// BillStatus is the state of a bill. paid and waived are terminal.
type BillStatus string

const (
	BillStatusPending BillStatus = "pending"
	BillStatusPaid    BillStatus = "paid"
	BillStatusOverdue BillStatus = "overdue"
	BillStatusWaived  BillStatus = "waived"
)

// Terminal reports whether the status accepts no further transitions.
func (s BillStatus) Terminal() bool {
	return s == BillStatusPaid || s == BillStatusWaived
}

// CycleWindow is one billing cycle, dates inclusive.
type CycleWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Bill is one cycle's charge for a mess. ActiveUsers and SlabCost are
// snapshots taken at generation time; later roster or slab changes do not
// rewrite an existing bill.
type Bill struct {
	ID                   int64      `json:"id"`
	MessID               int64      `json:"mess_id"`
	CycleStart           time.Time  `json:"cycle_start"`
	CycleEnd             time.Time  `json:"cycle_end"`
	ActiveUsers          int        `json:"active_users"`
	SlabCost             int64      `json:"slab_cost"`
	LeaveAdjustmentTotal int64      `json:"leave_adjustment_total"`
	NetAmount            int64      `json:"net_amount"`
	Status               BillStatus `json:"status"`
	DueDate              time.Time  `json:"due_date"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	WaivedReason         string     `json:"waived_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// Existing is set when Generate found the cycle already billed and
	// returned the stored bill unchanged.
	Existing bool `json:"existing,omitempty"`
}

// Preview is a dry-run bill: same math, nothing written, nothing debited.
type Preview struct {
	MessID               int64     `json:"mess_id"`
	CycleStart           time.Time `json:"cycle_start"`
	CycleEnd             time.Time `json:"cycle_end"`
	ActiveUsers          int       `json:"active_users"`
	SlabCost             int64     `json:"slab_cost"`
	LeaveAdjustmentTotal int64     `json:"leave_adjustment_total"`
	NetAmount            int64     `json:"net_amount"`
	Balance              int64     `json:"balance"`
	AutoRenewal          bool      `json:"auto_renewal"`
}

var (
	// ErrBillNotFound is returned for operations on a missing bill.
	ErrBillNotFound = errors.New("bill not found")

	// ErrBillNotPayable is returned when a debit retry or waiver targets a
	// bill in a terminal state.
	ErrBillNotPayable = errors.New("bill is in a terminal state")

	// ErrInvalidWindow is returned for inverted cycle windows.
	ErrInvalidWindow = errors.New("invalid cycle window")
)
