package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

// Service generates and settles bills at cycle boundaries.
type Service interface {
	Generate(ctx context.Context, messID int64, window CycleWindow) (*Bill, error)
	RetryDebit(ctx context.Context, billID int64) (*Bill, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	Waive(ctx context.Context, billID int64, reason string) (*Bill, error)
	SetAutoRenewal(ctx context.Context, messID int64, enabled bool) error
	Preview(ctx context.Context, messID int64, window CycleWindow) (*Preview, error)
	GetBill(ctx context.Context, billID int64) (*Bill, error)
	History(ctx context.Context, messID int64, limit int) ([]*Bill, error)
	GenerateDue(ctx context.Context, now time.Time) (int, error)
}

// PostgresService implements Service using PostgreSQL, the credit ledger,
// and the pricing engine.
type PostgresService struct {
	db      *sql.DB
	ledger  ledger.Service
	pricing pricing.Service
	messes  messes.Service
	logger  *observability.Logger
	metrics *observability.Metrics

	dueDays int
	// fanOut bounds concurrent bill generation in GenerateDue.
	fanOut int
}

// NewPostgresService creates a new PostgresService. dueDays is how long a
// pending bill has before the overdue sweep picks it up.
func NewPostgresService(db *sql.DB, ledgerSvc ledger.Service, pricingSvc pricing.Service,
	messSvc messes.Service, logger *observability.Logger, metrics *observability.Metrics,
	dueDays int) *PostgresService {
	if dueDays <= 0 {
		dueDays = 7
	}
	return &PostgresService{
		db:      db,
		ledger:  ledgerSvc,
		pricing: pricingSvc,
		messes:  messSvc,
		logger:  logger,
		metrics: metrics,
		dueDays: dueDays,
		fanOut:  8,
	}
}

const billColumns = `id, mess_id, cycle_start, cycle_end, active_users, slab_cost,
	leave_adjustment_total, net_amount, status, due_date, paid_at, waived_reason, created_at, updated_at`

// Generate produces the bill for one cycle. Idempotent per (mess, cycle):
// a retried scheduler tick gets the stored bill back unchanged. Unapplied
// leave adjustments are consumed into the bill's total instead of being
// refunded separately. With auto-renewal on and balance sufficient the
// bill is debited immediately and born paid.
func (s *PostgresService) Generate(ctx context.Context, messID int64, window CycleWindow) (*Bill, error) {
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidWindow,
			window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
	}

	mess, err := s.messes.GetMess(ctx, messID)
	if err != nil {
		return nil, err
	}
	activeUsers, err := s.messes.ActiveMemberCount(ctx, messID)
	if err != nil {
		return nil, err
	}
	slabCost, err := s.pricing.ResolveCost(ctx, activeUsers)
	if err != nil {
		return nil, err
	}

	bill := &Bill{
		MessID:      messID,
		CycleStart:  window.Start,
		CycleEnd:    window.End,
		ActiveUsers: activeUsers,
		SlabCost:    slabCost,
		Status:      BillStatusPending,
		DueDate:     window.End.AddDate(0, 0, s.dueDays),
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Lock the mess's unapplied adjustments so a concurrent Apply or a
		// second Generate cannot consume them twice.
		rows, err := tx.QueryContext(ctx, `
			SELECT id, refund_amount FROM leave_adjustments
			WHERE mess_id = $1 AND NOT applied
			ORDER BY id
			FOR UPDATE`, messID)
		if err != nil {
			return fmt.Errorf("failed to lock adjustments: %w", err)
		}
		var adjIDs []int64
		var leaveTotal int64
		for rows.Next() {
			var id, refund int64
			if err := rows.Scan(&id, &refund); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan adjustment: %w", err)
			}
			adjIDs = append(adjIDs, id)
			leaveTotal += refund
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		bill.LeaveAdjustmentTotal = leaveTotal
		bill.NetAmount = slabCost - leaveTotal
		if bill.NetAmount < 0 {
			bill.NetAmount = 0
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO bills
				(mess_id, cycle_start, cycle_end, active_users, slab_cost,
				 leave_adjustment_total, net_amount, status, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (mess_id, cycle_start) WHERE status <> 'waived' DO NOTHING
			RETURNING id, created_at, updated_at`,
			bill.MessID, bill.CycleStart, bill.CycleEnd, bill.ActiveUsers,
			bill.SlabCost, bill.LeaveAdjustmentTotal, bill.NetAmount,
			bill.Status, bill.DueDate,
		).Scan(&bill.ID, &bill.CreatedAt, &bill.UpdatedAt)
		if err == sql.ErrNoRows {
			// Cycle already billed; hand back the stored bill untouched and
			// leave the adjustments for the next cycle.
			existing, ferr := s.getBillTx(ctx, tx, messID, window.Start)
			if ferr != nil {
				return ferr
			}
			existing.Existing = true
			*bill = *existing
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert bill: %w", err)
		}

		// Consume the adjustments into this bill. No refund transaction is
		// posted; the bill's net already reflects them.
		for _, id := range adjIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE leave_adjustments
				SET applied = TRUE, bill_id = $1, updated_at = NOW()
				WHERE id = $2`, bill.ID, id); err != nil {
				return fmt.Errorf("failed to consume adjustment %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if bill.Existing {
		return bill, nil
	}

	if mess.AutoRenewal {
		if err := s.debit(ctx, bill); err != nil && !errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.BillsGeneratedTotal.WithLabelValues(string(bill.Status)).Inc()
	}
	s.logger.WithMess(messID).WithFields(map[string]interface{}{
		"bill_id":     bill.ID,
		"cycle_start": bill.CycleStart.Format("2006-01-02"),
		"net_amount":  bill.NetAmount,
		"status":      string(bill.Status),
	}).Info("bill generated")
	return bill, nil
}

// debit attempts the ledger debit for a bill and marks it paid on success.
// A Duplicate result means a previous attempt already debited; the bill is
// still marked paid. If the bill left the payable states between the debit
// and the status update (a concurrent waive), the debit is reversed and
// the conflict surfaced.
func (s *PostgresService) debit(ctx context.Context, bill *Bill) error {
	if bill.NetAmount > 0 {
		_, err := s.ledger.Post(ctx, ledger.PostRequest{
			MessID:      bill.MessID,
			Delta:       -bill.NetAmount,
			Reason:      ledger.ReasonBillDebit,
			ReferenceID: fmt.Sprintf("bill-%d", bill.ID),
			Note:        fmt.Sprintf("cycle %s", bill.CycleStart.Format("2006-01-02")),
		})
		if err != nil {
			return err
		}
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = $1, paid_at = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ('pending', 'overdue')`,
		BillStatusPaid, now, bill.ID)
	if err != nil {
		return fmt.Errorf("failed to mark bill paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if bill.NetAmount > 0 {
			if _, rerr := s.ledger.Post(ctx, ledger.PostRequest{
				MessID:         bill.MessID,
				Delta:          bill.NetAmount,
				Reason:         ledger.ReasonAdjustment,
				ReferenceID:    fmt.Sprintf("bill-%d-reversal", bill.ID),
				Note:           fmt.Sprintf("reversal of debit for bill %d", bill.ID),
				AllowOverdraft: true,
			}); rerr != nil {
				return fmt.Errorf("failed to reverse debit for bill %d: %w", bill.ID, rerr)
			}
		}
		return fmt.Errorf("%w: bill %d left payable state", ErrBillNotPayable, bill.ID)
	}
	bill.Status = BillStatusPaid
	bill.PaidAt = &now
	return nil
}

// RetryDebit re-attempts payment of a pending or overdue bill. An
// insufficient balance is reported to the caller, never retried here.
func (s *PostgresService) RetryDebit(ctx context.Context, billID int64) (*Bill, error) {
	bill, err := s.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.Status.Terminal() {
		return nil, fmt.Errorf("%w: bill %d is %s", ErrBillNotPayable, billID, bill.Status)
	}

	if err := s.debit(ctx, bill); err != nil {
		if s.metrics != nil {
			label := "insufficient"
			if errors.Is(err, ErrBillNotPayable) {
				label = "conflict"
			}
			s.metrics.DebitRetriesTotal.WithLabelValues(label).Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DebitRetriesTotal.WithLabelValues("paid").Inc()
	}
	s.logger.WithMess(bill.MessID).WithField("bill_id", bill.ID).Info("bill paid on retry")
	return bill, nil
}

// MarkOverdue is the daily sweep: pending bills past their due date become
// overdue. Status only, no ledger effect.
func (s *PostgresService) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = $1, updated_at = NOW()
		WHERE status = $2 AND due_date < $3`,
		BillStatusOverdue, BillStatusPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue bills: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if s.metrics != nil {
			s.metrics.BillsOverdueTotal.Add(float64(n))
		}
		s.logger.WithField("count", n).Info("bills marked overdue")
	}
	return n, nil
}

// Waive is the administrative override: a pending or overdue bill is
// closed without payment. The partial unique index ignores waived bills,
// so the cycle can be regenerated afterwards if needed.
func (s *PostgresService) Waive(ctx context.Context, billID int64, reason string) (*Bill, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = $1, waived_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ('pending', 'overdue')`,
		BillStatusWaived, reason, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to waive bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		bill, gerr := s.GetBill(ctx, billID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: bill %d is %s", ErrBillNotPayable, billID, bill.Status)
	}

	bill, err := s.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	s.logger.WithMess(bill.MessID).WithFields(map[string]interface{}{
		"bill_id": billID,
		"reason":  reason,
	}).Warn("bill waived")
	return bill, nil
}

// SetAutoRenewal flips the account setting. It never touches the ledger.
func (s *PostgresService) SetAutoRenewal(ctx context.Context, messID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messes SET auto_renewal = $1, updated_at = NOW() WHERE id = $2`,
		enabled, messID)
	if err != nil {
		return fmt.Errorf("failed to set auto renewal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", messes.ErrMessNotFound, messID)
	}
	return nil
}

// Preview runs the bill math without writing anything.
func (s *PostgresService) Preview(ctx context.Context, messID int64, window CycleWindow) (*Preview, error) {
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidWindow,
			window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
	}

	mess, err := s.messes.GetMess(ctx, messID)
	if err != nil {
		return nil, err
	}
	activeUsers, err := s.messes.ActiveMemberCount(ctx, messID)
	if err != nil {
		return nil, err
	}
	slabCost, err := s.pricing.ResolveCost(ctx, activeUsers)
	if err != nil {
		return nil, err
	}

	var leaveTotal int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(refund_amount), 0) FROM leave_adjustments
		WHERE mess_id = $1 AND NOT applied`, messID).Scan(&leaveTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to sum adjustments: %w", err)
	}

	net := slabCost - leaveTotal
	if net < 0 {
		net = 0
	}
	return &Preview{
		MessID:               messID,
		CycleStart:           window.Start,
		CycleEnd:             window.End,
		ActiveUsers:          activeUsers,
		SlabCost:             slabCost,
		LeaveAdjustmentTotal: leaveTotal,
		NetAmount:            net,
		Balance:              mess.Balance,
		AutoRenewal:          mess.AutoRenewal,
	}, nil
}

// GetBill fetches a bill by id.
func (s *PostgresService) GetBill(ctx context.Context, billID int64) (*Bill, error) {
	bill := &Bill{}
	var waived sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id = $1`, billID,
	).Scan(&bill.ID, &bill.MessID, &bill.CycleStart, &bill.CycleEnd, &bill.ActiveUsers,
		&bill.SlabCost, &bill.LeaveAdjustmentTotal, &bill.NetAmount, &bill.Status,
		&bill.DueDate, &bill.PaidAt, &waived, &bill.CreatedAt, &bill.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrBillNotFound, billID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	bill.WaivedReason = waived.String
	return bill, nil
}

func (s *PostgresService) getBillTx(ctx context.Context, tx *sql.Tx, messID int64, cycleStart time.Time) (*Bill, error) {
	bill := &Bill{}
	var waived sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT `+billColumns+` FROM bills
		WHERE mess_id = $1 AND cycle_start = $2 AND status <> 'waived'`,
		messID, cycleStart,
	).Scan(&bill.ID, &bill.MessID, &bill.CycleStart, &bill.CycleEnd, &bill.ActiveUsers,
		&bill.SlabCost, &bill.LeaveAdjustmentTotal, &bill.NetAmount, &bill.Status,
		&bill.DueDate, &bill.PaidAt, &waived, &bill.CreatedAt, &bill.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: mess %d cycle %s", ErrBillNotFound, messID, cycleStart.Format("2006-01-02"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get existing bill: %w", err)
	}
	bill.WaivedReason = waived.String
	return bill, nil
}

// History returns a mess's bills, newest cycle first.
func (s *PostgresService) History(ctx context.Context, messID int64, limit int) ([]*Bill, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE mess_id = $1 ORDER BY cycle_start DESC LIMIT $2`,
		messID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		bill := &Bill{}
		var waived sql.NullString
		if err := rows.Scan(&bill.ID, &bill.MessID, &bill.CycleStart, &bill.CycleEnd,
			&bill.ActiveUsers, &bill.SlabCost, &bill.LeaveAdjustmentTotal, &bill.NetAmount,
			&bill.Status, &bill.DueDate, &bill.PaidAt, &waived, &bill.CreatedAt, &bill.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bill.WaivedReason = waived.String
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

// dueMess is one account whose cycle boundary has passed.
type dueMess struct {
	messID int64
	window CycleWindow
}

// GenerateDue finds messes whose current cycle ended before now and
// generates their bills with a bounded fan-out. Idempotency of Generate
// makes overlapping scheduler ticks harmless.
func (s *PostgresService) GenerateDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.billing_cycle_days,
		       COALESCE(MAX(b.cycle_end), DATE(m.created_at) - 1) AS last_cycle_end
		FROM messes m
		LEFT JOIN bills b ON b.mess_id = m.id AND b.status <> 'waived'
		WHERE m.status IN ('active', 'trial')
		GROUP BY m.id, m.billing_cycle_days, m.created_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to find due messes: %w", err)
	}

	var due []dueMess
	for rows.Next() {
		var messID int64
		var cycleDays int
		var lastEnd time.Time
		if err := rows.Scan(&messID, &cycleDays, &lastEnd); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan due mess: %w", err)
		}
		start := lastEnd.AddDate(0, 0, 1)
		end := start.AddDate(0, 0, cycleDays-1)
		if end.Before(now) {
			due = append(due, dueMess{messID: messID, window: CycleWindow{Start: start, End: end}})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for _, d := range due {
		d := d
		g.Go(func() error {
			if _, err := s.Generate(gctx, d.messID, d.window); err != nil {
				// One broken mess must not block the rest of the sweep.
				s.logger.WithMess(d.messID).WithError(err).Error("cycle generation failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(due), nil
}
