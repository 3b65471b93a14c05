package leave

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidLeaveState means the leave request is not approved. Pending
	// and rejected leaves never produce an adjustment.
	ErrInvalidLeaveState = errors.New("leave request not in approved state")

	// ErrAlreadyApplied is returned when the adjustment's refund has already
	// been posted. Callers treat it as success at the HTTP layer.
	ErrAlreadyApplied = errors.New("leave adjustment already applied")

	// ErrInvalidRange is returned for inverted or empty leave ranges.
	ErrInvalidRange = errors.New("invalid leave date range")

	// ErrAdjustmentNotFound is returned for operations on a missing
	// adjustment.
	ErrAdjustmentNotFound = errors.New("leave adjustment not found")
)

// RequestStatus is the state of a member's leave request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Request is an approved-or-not leave request as received from the
// membership side of the platform.
type Request struct {
	MembershipID int64         `json:"membership_id"`
	MessID       int64         `json:"mess_id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Status       RequestStatus `json:"status"`
}

// CycleInfo describes the billing cycle the leave falls into.
type CycleInfo struct {
	Start                time.Time `json:"start"`
	End                  time.Time `json:"end"`
	CycleCost            int64     `json:"cycle_cost"`
	MaxLeaveDaysPerCycle int       `json:"max_leave_days_per_cycle"`
}

// Days returns the number of days in the cycle, inclusive of both ends.
func (c CycleInfo) Days() int {
	return int(c.End.Sub(c.Start).Hours()/24) + 1
}

// Adjustment is a computed leave refund. RefundAmount is posted to the
// ledger once, guarded by the applied flag and the ledger idempotency key.
type Adjustment struct {
	ID               int64     `json:"id"`
	MembershipID     int64     `json:"membership_id"`
	MessID           int64     `json:"mess_id"`
	LeaveStart       time.Time `json:"leave_start"`
	LeaveEnd         time.Time `json:"leave_end"`
	DailyCreditValue int64     `json:"daily_credit_value"`
	RefundAmount     int64     `json:"refund_amount"`
	Applied          bool      `json:"applied"`
	TransactionID    *int64    `json:"transaction_id,omitempty"`
	BillID           *int64    `json:"bill_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ComputeAdjustment turns an approved leave request into a refund. Pure:
// no storage, no clock.
//
// The daily credit value is the cycle cost divided by the cycle length,
// truncated to whole credits; the fractional remainder is not refunded.
// Refundable days are the leave days that fall inside the cycle, capped at
// the mess's max leave days per cycle. Days beyond the cap refund zero.
func ComputeAdjustment(req Request, cycle CycleInfo) (*Adjustment, error) {
	if req.Status != RequestStatusApproved {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidLeaveState, req.Status)
	}
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidRange,
			req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))
	}

	cycleDays := cycle.Days()
	if cycleDays <= 0 {
		return nil, fmt.Errorf("%w: cycle has no days", ErrInvalidRange)
	}

	daily := cycle.CycleCost / int64(cycleDays)

	days := overlapDays(req.Start, req.End, cycle.Start, cycle.End)
	if cycle.MaxLeaveDaysPerCycle >= 0 && days > cycle.MaxLeaveDaysPerCycle {
		days = cycle.MaxLeaveDaysPerCycle
	}

	return &Adjustment{
		MembershipID:     req.MembershipID,
		MessID:           req.MessID,
		LeaveStart:       req.Start,
		LeaveEnd:         req.End,
		DailyCreditValue: daily,
		RefundAmount:     daily * int64(days),
	}, nil
}

// overlapDays counts whole days in [aStart, aEnd] that also fall inside
// [bStart, bEnd], both ranges inclusive.
func overlapDays(aStart, aEnd, bStart, bEnd time.Time) int {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}
