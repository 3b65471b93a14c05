package leave

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/observability"
)

// Service persists computed adjustments and posts their refunds.
type Service interface {
	Record(ctx context.Context, adj *Adjustment) (*Adjustment, error)
	Get(ctx context.Context, adjustmentID int64) (*Adjustment, error)
	ListUnapplied(ctx context.Context, messID int64) ([]*Adjustment, error)
	Apply(ctx context.Context, adjustmentID int64) (*ledger.Transaction, error)
}

// PostgresService implements Service using PostgreSQL and the credit
// ledger.
type PostgresService struct {
	db     *sql.DB
	ledger ledger.Service
	logger *observability.Logger
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB, ledgerSvc ledger.Service, logger *observability.Logger) *PostgresService {
	return &PostgresService{db: db, ledger: ledgerSvc, logger: logger}
}

// Record stores a computed adjustment for later application.
func (s *PostgresService) Record(ctx context.Context, adj *Adjustment) (*Adjustment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO leave_adjustments
			(membership_id, mess_id, leave_start, leave_end, daily_credit_value, refund_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		adj.MembershipID, adj.MessID, adj.LeaveStart, adj.LeaveEnd,
		adj.DailyCreditValue, adj.RefundAmount,
	).Scan(&adj.ID, &adj.CreatedAt, &adj.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record adjustment: %w", err)
	}
	return adj, nil
}

const adjustmentColumns = `id, membership_id, mess_id, leave_start, leave_end,
	daily_credit_value, refund_amount, applied, transaction_id, bill_id, created_at, updated_at`

// Get fetches an adjustment by id.
func (s *PostgresService) Get(ctx context.Context, adjustmentID int64) (*Adjustment, error) {
	adj := &Adjustment{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+adjustmentColumns+` FROM leave_adjustments WHERE id = $1`, adjustmentID,
	).Scan(&adj.ID, &adj.MembershipID, &adj.MessID, &adj.LeaveStart, &adj.LeaveEnd,
		&adj.DailyCreditValue, &adj.RefundAmount, &adj.Applied, &adj.TransactionID,
		&adj.BillID, &adj.CreatedAt, &adj.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrAdjustmentNotFound, adjustmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	return adj, nil
}

// ListUnapplied returns adjustments awaiting application for a mess. Bill
// generation consumes these into the cycle's bill.
func (s *PostgresService) ListUnapplied(ctx context.Context, messID int64) ([]*Adjustment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+adjustmentColumns+` FROM leave_adjustments WHERE mess_id = $1 AND NOT applied ORDER BY id`,
		messID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unapplied adjustments: %w", err)
	}
	defer rows.Close()

	var adjs []*Adjustment
	for rows.Next() {
		adj := &Adjustment{}
		if err := rows.Scan(&adj.ID, &adj.MembershipID, &adj.MessID, &adj.LeaveStart,
			&adj.LeaveEnd, &adj.DailyCreditValue, &adj.RefundAmount, &adj.Applied,
			&adj.TransactionID, &adj.BillID, &adj.CreatedAt, &adj.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		adjs = append(adjs, adj)
	}
	return adjs, rows.Err()
}

// Apply claims the adjustment row and then posts its refund to the
// ledger. The refund is overdraft-permitted so it can post ahead of a
// bill retry on a drained account.
//
// The claim goes first so the refund cannot post after bill generation
// has already folded the adjustment into a bill. A row that is applied
// but carries neither a transaction nor a bill belongs to an apply that
// died between claim and post; the retry re-posts under the same
// idempotency key, which either heals the missing credit or is absorbed.
func (s *PostgresService) Apply(ctx context.Context, adjustmentID int64) (*ledger.Transaction, error) {
	adj, err := s.Get(ctx, adjustmentID)
	if err != nil {
		return nil, err
	}

	if !adj.Applied {
		res, err := s.db.ExecContext(ctx, `
			UPDATE leave_adjustments
			SET applied = TRUE, updated_at = NOW()
			WHERE id = $1 AND NOT applied`,
			adj.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim adjustment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the claim; re-read to see who won.
			if adj, err = s.Get(ctx, adjustmentID); err != nil {
				return nil, err
			}
		}
	}
	if adj.Applied && (adj.TransactionID != nil || adj.BillID != nil) {
		return nil, fmt.Errorf("%w: id %d", ErrAlreadyApplied, adjustmentID)
	}

	txn, err := s.ledger.Post(ctx, ledger.PostRequest{
		MessID:         adj.MessID,
		Delta:          adj.RefundAmount,
		Reason:         ledger.ReasonLeaveRefund,
		ReferenceID:    fmt.Sprintf("leave-%d", adj.ID),
		Note:           "leave refund",
		AllowOverdraft: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post leave refund: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE leave_adjustments
		SET transaction_id = $1, updated_at = NOW()
		WHERE id = $2 AND transaction_id IS NULL`,
		txn.ID, adj.ID); err != nil {
		return nil, fmt.Errorf("failed to record refund transaction: %w", err)
	}

	s.logger.WithMess(adj.MessID).WithFields(map[string]interface{}{
		"adjustment_id":  adj.ID,
		"refund":         adj.RefundAmount,
		"transaction_id": txn.ID,
	}).Info("leave refund applied")
	return txn, nil
}
