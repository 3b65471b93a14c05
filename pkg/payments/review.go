package payments

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/ledger"
)

// reviewLog is the dedicated logger for the manual-review workflow. Human
// reviewers read these lines in the ops console, so they stay plain text.
var reviewLog = logrus.New()

// SubmitProof stores a client-submitted payment proof and opens a pending
// manual verification. The proof blob goes to the opaque blob store; only
// its key is persisted. Crediting waits for a reviewer's approval.
func (s *PostgresService) SubmitProof(ctx context.Context, orderID, gatewayTxnID string, proof ProofUpload) (*Verification, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case OrderStatusExpired:
		return nil, fmt.Errorf("%w: order %s", ErrOrderExpired, orderID)
	case OrderStatusVerified, OrderStatusFailed:
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderClosed, orderID, order.Status)
	}

	proofKey, err := s.proofs.PutProof(ctx, orderID, bytes.NewReader(proof.Data), proof.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store proof: %w", err)
	}

	verification, err := s.insertVerification(ctx, &Verification{
		OrderID:      orderID,
		GatewayTxnID: gatewayTxnID,
		Method:       MethodManualProof,
		Status:       VerificationPending,
		ProofKey:     proofKey,
	})
	if err != nil {
		return nil, err
	}
	if verification.Duplicate {
		return verification, nil
	}

	reviewLog.Infof("Proof submitted for order %s (txn %s), awaiting review as verification #%d",
		orderID, gatewayTxnID, verification.ID)
	return verification, nil
}

// ApproveProof is the human-judgment step: an authorized reviewer accepts
// a manual proof and the purchase credit posts under the same idempotency
// rules as the webhook path. An already-verified verification is not an
// error: an earlier approval may have died between the status flip and
// the credit, so the post is re-issued and the ledger key absorbs it when
// the credit already landed.
func (s *PostgresService) ApproveProof(ctx context.Context, verificationID int64, reviewer string) (*Verification, error) {
	v, err := s.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if v.Status != VerificationPending && v.Status != VerificationVerified {
		return nil, fmt.Errorf("%w: verification %d is %s", ErrNotReviewable, verificationID, v.Status)
	}

	order, err := s.GetOrder(ctx, v.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderStatusExpired {
		s.auditor.Record(ctx, audit.Event{
			Type:       audit.EventTypeLateWebhook,
			MessID:     &order.MessID,
			ResourceID: order.ID,
			Actor:      reviewer,
			Status:     audit.EventStatusDenied,
			Message:    "proof approval for expired order rejected",
		})
		return nil, fmt.Errorf("%w: order %s", ErrOrderExpired, order.ID)
	}

	if v.Status == VerificationPending {
		reviewLog.Infof("Reviewer %s approving verification #%d for order %s", reviewer, verificationID, order.ID)

		res, err := s.db.ExecContext(ctx, `
			UPDATE payment_verifications
			SET status = $1, reviewed_by = $2, verified_at = NOW()
			WHERE id = $3 AND status = 'pending'`,
			VerificationVerified, reviewer, verificationID)
		if err != nil {
			return nil, fmt.Errorf("failed to approve verification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// A concurrent reviewer decided first; re-read to learn the
			// outcome. A verified row still falls through to the
			// idempotent credit, a rejected one does not.
			if v, err = s.GetVerification(ctx, verificationID); err != nil {
				return nil, err
			}
			if v.Status != VerificationVerified {
				return nil, fmt.Errorf("%w: verification %d", ErrNotReviewable, verificationID)
			}
		}
	}

	if _, err := s.ledger.Post(ctx, ledger.PostRequest{
		MessID:      order.MessID,
		Delta:       order.RequestedCredits,
		Reason:      ledger.ReasonPurchase,
		ReferenceID: v.GatewayTxnID,
		Note:        fmt.Sprintf("order %s (manual proof)", order.ID),
	}); err != nil {
		return nil, fmt.Errorf("failed to credit purchase: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE payment_orders SET status = $1, gateway_ref = $2, updated_at = NOW()
		WHERE id = $3`,
		OrderStatusVerified, v.GatewayTxnID, order.ID); err != nil {
		return nil, fmt.Errorf("failed to mark order verified: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		Type:       audit.EventTypeProofApproved,
		MessID:     &order.MessID,
		ResourceID: order.ID,
		Actor:      reviewer,
		Status:     audit.EventStatusSuccess,
		Details: map[string]interface{}{
			"verification_id": verificationID,
			"gateway_txn_id":  v.GatewayTxnID,
			"credits":         order.RequestedCredits,
		},
	})
	if s.metrics != nil {
		s.metrics.VerificationsTotal.WithLabelValues(string(MethodManualProof), "verified").Inc()
	}

	return s.GetVerification(ctx, verificationID)
}

// RejectProof closes a pending manual verification without crediting.
func (s *PostgresService) RejectProof(ctx context.Context, verificationID int64, reviewer, reason string) (*Verification, error) {
	v, err := s.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if v.Status != VerificationPending {
		return nil, fmt.Errorf("%w: verification %d is %s", ErrNotReviewable, verificationID, v.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_verifications
		SET status = $1, reviewed_by = $2, failure_reason = $3
		WHERE id = $4 AND status = 'pending'`,
		VerificationRejected, reviewer, reason, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to reject verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: verification %d", ErrNotReviewable, verificationID)
	}

	reviewLog.Warnf("Reviewer %s rejected verification #%d: %s", reviewer, verificationID, reason)

	order, err := s.GetOrder(ctx, v.OrderID)
	if err == nil {
		s.auditor.Record(ctx, audit.Event{
			Type:       audit.EventTypeProofRejected,
			MessID:     &order.MessID,
			ResourceID: order.ID,
			Actor:      reviewer,
			Status:     audit.EventStatusDenied,
			Message:    reason,
			Details:    map[string]interface{}{"verification_id": verificationID},
		})
	}
	if s.metrics != nil {
		s.metrics.VerificationsTotal.WithLabelValues(string(MethodManualProof), "rejected").Inc()
	}

	return s.GetVerification(ctx, verificationID)
}
