package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Payment events
	EventTypeSignatureMismatch EventType = "payment.signature_mismatch"
	EventTypeLateWebhook       EventType = "payment.late_webhook"
	EventTypeProofApproved     EventType = "payment.proof_approved"
	EventTypeProofRejected     EventType = "payment.proof_rejected"

	// Admin events
	EventTypeCreditAdjustment EventType = "admin.credit_adjustment"
	EventTypeBillWaived       EventType = "admin.bill_waived"
	EventTypeSlabChange       EventType = "admin.slab_change"
	EventTypePlanChange       EventType = "admin.plan_change"

	// Ledger events
	EventTypeBalanceMismatch EventType = "ledger.balance_mismatch"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is one append-only audit record.
type Event struct {
	ID         int64                  `json:"id"`
	Type       EventType              `json:"type"`
	MessID     *int64                 `json:"mess_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Status     EventStatus            `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Filter narrows an audit query.
type Filter struct {
	Type   EventType
	MessID int64
	Since  time.Time
	Limit  int
}
