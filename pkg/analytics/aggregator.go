package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/messmate/messmate/pkg/observability"
)

// Aggregator folds the day's ledger and billing activity into
// credit_usage_daily. Rows are upserted, so re-running a day is safe and
// overwrites with fresh numbers.
type Aggregator struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewAggregator creates a new aggregator.
func NewAggregator(db *sql.DB, logger *observability.Logger) *Aggregator {
	return &Aggregator{db: db, logger: logger}
}

// AggregateDaily computes per-mess credit usage for one calendar day.
func (a *Aggregator) AggregateDaily(ctx context.Context, date time.Time) error {
	query := `
		INSERT INTO credit_usage_daily (
			mess_id, date,
			purchased, debited, refunded, granted, adjusted,
			bills_generated, bills_paid, bills_overdue
		)
		SELECT
			m.id AS mess_id,
			$1::date AS date,
			COALESCE(SUM(t.delta) FILTER (WHERE t.reason = 'purchase'), 0) AS purchased,
			COALESCE(-SUM(t.delta) FILTER (WHERE t.reason = 'bill_debit'), 0) AS debited,
			COALESCE(SUM(t.delta) FILTER (WHERE t.reason = 'leave_refund'), 0) AS refunded,
			COALESCE(SUM(t.delta) FILTER (WHERE t.reason = 'trial_grant'), 0) AS granted,
			COALESCE(SUM(t.delta) FILTER (WHERE t.reason = 'adjustment'), 0) AS adjusted,
			COALESCE(COUNT(DISTINCT b.id), 0) AS bills_generated,
			COALESCE(COUNT(DISTINCT b.id) FILTER (WHERE b.status = 'paid'), 0) AS bills_paid,
			COALESCE(COUNT(DISTINCT b.id) FILTER (WHERE b.status = 'overdue'), 0) AS bills_overdue
		FROM messes m
		LEFT JOIN credit_transactions t ON t.mess_id = m.id
			AND t.created_at >= $1::date
			AND t.created_at < $1::date + INTERVAL '1 day'
		LEFT JOIN bills b ON b.mess_id = m.id
			AND b.created_at >= $1::date
			AND b.created_at < $1::date + INTERVAL '1 day'
		GROUP BY m.id
		ON CONFLICT (mess_id, date) DO UPDATE SET
			purchased = EXCLUDED.purchased,
			debited = EXCLUDED.debited,
			refunded = EXCLUDED.refunded,
			granted = EXCLUDED.granted,
			adjusted = EXCLUDED.adjusted,
			bills_generated = EXCLUDED.bills_generated,
			bills_paid = EXCLUDED.bills_paid,
			bills_overdue = EXCLUDED.bills_overdue
	`
	if _, err := a.db.ExecContext(ctx, query, date); err != nil {
		return fmt.Errorf("failed to aggregate credit usage for %s: %w",
			date.Format("2006-01-02"), err)
	}
	a.logger.WithField("date", date.Format("2006-01-02")).Info("daily credit usage aggregated")
	return nil
}

// Backfill re-aggregates every day in [from, to], inclusive. Used after an
// outage left gaps in credit_usage_daily.
func (a *Aggregator) Backfill(ctx context.Context, from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("invalid backfill range: %s after %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if err := a.AggregateDaily(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
