package payments

import (
	"errors"
	"time"
)

// OrderStatus is the lifecycle state of a payment order.
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "created"
	OrderStatusVerified OrderStatus = "verified"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusExpired  OrderStatus = "expired"
)

// VerificationMethod is how a payment was confirmed.
type VerificationMethod string

const (
	MethodWebhook     VerificationMethod = "webhook"
	MethodManualProof VerificationMethod = "manual_proof"
)

// VerificationStatus is the state of a verification record.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
	VerificationFailed   VerificationStatus = "failed"
)

// Order is one attempt to buy credits. The plan's credits and price are
// snapshotted here so catalog edits never change an in-flight order.
type Order struct {
	ID               string      `json:"id"`
	MessID           int64       `json:"mess_id"`
	PlanID           int64       `json:"plan_id"`
	RequestedCredits int64       `json:"requested_credits"`
	AmountCents      int64       `json:"amount_cents"`
	Currency         string      `json:"currency"`
	GatewayRef       string      `json:"gateway_ref,omitempty"`
	Status           OrderStatus `json:"status"`
	ExpiresAt        time.Time   `json:"expires_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Verification records one attempt to confirm an order's payment.
// GatewayTxnID is globally unique; it is the idempotency key that makes
// duplicate webhook deliveries harmless.
type Verification struct {
	ID            int64              `json:"id"`
	OrderID       string             `json:"order_id"`
	GatewayTxnID  string             `json:"gateway_txn_id"`
	Method        VerificationMethod `json:"method"`
	Status        VerificationStatus `json:"status"`
	ProofKey      string             `json:"proof_key,omitempty"`
	ReviewedBy    string             `json:"reviewed_by,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	VerifiedAt    *time.Time         `json:"verified_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`

	// Duplicate is set when the gateway txn id was already processed and
	// this is the stored verification.
	Duplicate bool `json:"duplicate,omitempty"`
}

// WebhookEvent is the gateway's server-to-server notification payload.
type WebhookEvent struct {
	OrderID       string `json:"orderId"`
	GatewayTxnID  string `json:"gatewayTransactionId"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	Signature     string `json:"signature"`
}

// ProofUpload is a client-submitted payment proof.
type ProofUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

var (
	// ErrOrderNotFound is returned when the order does not exist.
	ErrOrderNotFound = errors.New("payment order not found")

	// ErrOrderExpired is returned when a webhook or approval arrives for an
	// order past its expiry window. Rejected and logged, never silently
	// dropped.
	ErrOrderExpired = errors.New("payment order expired")

	// ErrOrderClosed is returned when the order is already verified or
	// failed.
	ErrOrderClosed = errors.New("payment order already closed")

	// ErrSignatureMismatch means the webhook signature did not verify.
	// Fatal, audit-logged, no side effects.
	ErrSignatureMismatch = errors.New("gateway signature mismatch")

	// ErrVerificationNotFound is returned for review actions on a missing
	// verification.
	ErrVerificationNotFound = errors.New("verification not found")

	// ErrNotReviewable is returned when approving or rejecting a
	// verification that is not pending manual review.
	ErrNotReviewable = errors.New("verification is not pending review")
)
