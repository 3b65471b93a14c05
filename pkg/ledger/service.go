package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

// Service is the credit ledger. All mutations go through Post so every
// balance change leaves a transaction behind.
type Service interface {
	Post(ctx context.Context, req PostRequest) (*Transaction, error)
	Balance(ctx context.Context, messID int64) (int64, error)
	Account(ctx context.Context, messID int64) (*Account, error)
	History(ctx context.Context, messID int64, filter HistoryFilter) ([]*Transaction, error)
	AdjustCredits(ctx context.Context, messID, delta int64, referenceID, note string) (*Transaction, error)
	VerifyBalance(ctx context.Context, messID int64) (*BalanceCheck, error)
}

// PostgresService implements Service using PostgreSQL.
type PostgresService struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{db: db, logger: logger, metrics: metrics}
}

// Post applies a signed credit delta to a mess account. The row lock on the
// account serializes concurrent posts; the unique (reason, reference_id)
// index absorbs retries. The log append and the balance update commit in
// the same transaction.
func (s *PostgresService) Post(ctx context.Context, req PostRequest) (*Transaction, error) {
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}
	if req.ReferenceID == "" {
		return nil, ErrEmptyReference
	}

	var txn *Transaction
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Fast path for retries: if the idempotency key already exists the
		// post already happened and we return the recorded transaction.
		existing, err := s.findByReference(ctx, tx, req.Reason, req.ReferenceID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Duplicate = true
			txn = existing
			return nil
		}

		var balance int64
		err = tx.QueryRowContext(ctx,
			`SELECT balance FROM messes WHERE id = $1 FOR UPDATE`, req.MessID,
		).Scan(&balance)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: mess %d", ErrAccountNotFound, req.MessID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}

		newBalance := balance + req.Delta
		if newBalance < 0 && !req.AllowOverdraft {
			if s.metrics != nil {
				s.metrics.InsufficientCreditsTotal.Inc()
			}
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientCredits, balance, req.Delta)
		}

		ins := &Transaction{
			MessID:       req.MessID,
			Delta:        req.Delta,
			Reason:       req.Reason,
			ReferenceID:  req.ReferenceID,
			BalanceAfter: newBalance,
			Note:         req.Note,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO credit_transactions (mess_id, delta, reason, reference_id, balance_after, note)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (reason, reference_id) DO NOTHING
			RETURNING id, created_at`,
			ins.MessID, ins.Delta, ins.Reason, ins.ReferenceID, ins.BalanceAfter, nullString(ins.Note),
		).Scan(&ins.ID, &ins.CreatedAt)
		if err == sql.ErrNoRows {
			// Lost a race with another writer holding the same key.
			existing, ferr := s.findByReference(ctx, tx, req.Reason, req.ReferenceID)
			if ferr != nil {
				return ferr
			}
			if existing == nil {
				return fmt.Errorf("transaction insert conflicted but existing row not found")
			}
			existing.Duplicate = true
			txn = existing
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE messes SET balance = $1, updated_at = NOW() WHERE id = $2`,
			newBalance, req.MessID)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		txn = ins
		return nil
	})
	if err != nil {
		return nil, err
	}

	if txn.Duplicate {
		if s.metrics != nil {
			s.metrics.DuplicatePostsTotal.WithLabelValues(string(req.Reason)).Inc()
		}
		s.logger.WithMess(req.MessID).WithFields(map[string]interface{}{
			"reason":       string(req.Reason),
			"reference_id": req.ReferenceID,
		}).Info("duplicate ledger post absorbed")
	} else {
		if s.metrics != nil {
			s.metrics.TransactionsTotal.WithLabelValues(string(req.Reason)).Inc()
		}
		s.logger.WithMess(req.MessID).WithFields(map[string]interface{}{
			"transaction_id": txn.ID,
			"delta":          txn.Delta,
			"reason":         string(txn.Reason),
			"balance_after":  txn.BalanceAfter,
		}).Info("ledger transaction posted")
	}

	return txn, nil
}

func (s *PostgresService) findByReference(ctx context.Context, tx *sql.Tx, reason Reason, referenceID string) (*Transaction, error) {
	txn := &Transaction{}
	var note sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, mess_id, delta, reason, reference_id, balance_after, note, created_at
		FROM credit_transactions
		WHERE reason = $1 AND reference_id = $2`,
		reason, referenceID,
	).Scan(&txn.ID, &txn.MessID, &txn.Delta, &txn.Reason, &txn.ReferenceID,
		&txn.BalanceAfter, &note, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction by reference: %w", err)
	}
	txn.Note = note.String
	return txn, nil
}

// Balance returns the current stored balance for a mess.
func (s *PostgresService) Balance(ctx context.Context, messID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM messes WHERE id = $1`, messID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: mess %d", ErrAccountNotFound, messID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Account returns the credit-account view of a mess.
func (s *PostgresService) Account(ctx context.Context, messID int64) (*Account, error) {
	acct := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, low_balance_threshold, auto_renewal, status, updated_at
		FROM messes WHERE id = $1`, messID,
	).Scan(&acct.MessID, &acct.Name, &acct.Balance, &acct.LowBalanceThreshold,
		&acct.AutoRenewal, &acct.Status, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: mess %d", ErrAccountNotFound, messID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// History returns transactions for a mess, newest first.
func (s *PostgresService) History(ctx context.Context, messID int64, filter HistoryFilter) ([]*Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, mess_id, delta, reason, reference_id, balance_after, note, created_at
		FROM credit_transactions
		WHERE mess_id = $1`
	args := []interface{}{messID}

	if filter.Reason != "" {
		args = append(args, filter.Reason)
		query += fmt.Sprintf(" AND reason = $%d", len(args))
	}
	if filter.BeforeID > 0 {
		args = append(args, filter.BeforeID)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		var note sql.NullString
		if err := rows.Scan(&txn.ID, &txn.MessID, &txn.Delta, &txn.Reason,
			&txn.ReferenceID, &txn.BalanceAfter, &note, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Note = note.String
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// AdjustCredits posts an administrative correction. The caller supplies the
// reference id so repeated submissions of the same correction collapse into
// one transaction.
func (s *PostgresService) AdjustCredits(ctx context.Context, messID, delta int64, referenceID, note string) (*Transaction, error) {
	return s.Post(ctx, PostRequest{
		MessID:         messID,
		Delta:          delta,
		Reason:         ReasonAdjustment,
		ReferenceID:    referenceID,
		Note:           note,
		AllowOverdraft: true,
	})
}

// VerifyBalance recomputes the account balance from the transaction log and
// compares it to the stored column. Used by reconciliation jobs.
func (s *PostgresService) VerifyBalance(ctx context.Context, messID int64) (*BalanceCheck, error) {
	check := &BalanceCheck{MessID: messID}
	err := s.db.QueryRowContext(ctx, `
		SELECT m.balance, COALESCE(SUM(t.delta), 0)
		FROM messes m
		LEFT JOIN credit_transactions t ON t.mess_id = m.id
		WHERE m.id = $1
		GROUP BY m.balance`, messID,
	).Scan(&check.StoredBalance, &check.LedgerSum)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: mess %d", ErrAccountNotFound, messID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify balance: %w", err)
	}
	check.Consistent = check.StoredBalance == check.LedgerSum
	if !check.Consistent {
		s.logger.WithMess(messID).WithFields(map[string]interface{}{
			"stored_balance": check.StoredBalance,
			"ledger_sum":     check.LedgerSum,
		}).Error("ledger balance mismatch")
	}
	return check, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
