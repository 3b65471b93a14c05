package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/observability"
)

// Alerter scans accounts for conditions an operator should act on. Its
// findings surface through the structured log, the Prometheus gauges, and
// the audit trail; delivery to humans lives outside this service.
type Alerter struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
	auditor audit.Logger
}

// NewAlerter creates a new Alerter.
func NewAlerter(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, auditor audit.Logger) *Alerter {
	return &Alerter{db: db, logger: logger, metrics: metrics, auditor: auditor}
}

// LowBalanceAlert flags a mess whose balance dropped below its threshold.
type LowBalanceAlert struct {
	MessID    int64  `json:"mess_id"`
	Name      string `json:"name"`
	Balance   int64  `json:"balance"`
	Threshold int64  `json:"threshold"`
	// DaysLeft estimates how long the balance lasts at the recent burn
	// rate. -1 means no recent usage to estimate from.
	DaysLeft int `json:"days_left"`
}

// BalanceMismatch reports a stored balance that disagrees with the
// transaction log's sum for the same mess.
type BalanceMismatch struct {
	MessID        int64 `json:"mess_id"`
	StoredBalance int64 `json:"stored_balance"`
	LedgerSum     int64 `json:"ledger_sum"`
}

// CheckLowBalances finds active and trial messes below their low-balance
// threshold, estimating runway from the trailing week's debits.
func (a *Alerter) CheckLowBalances(ctx context.Context) ([]LowBalanceAlert, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			m.id, m.name, m.balance, m.low_balance_threshold,
			COALESCE(SUM(u.debited), 0) AS debited_7d
		FROM messes m
		LEFT JOIN credit_usage_daily u ON u.mess_id = m.id
			AND u.date >= CURRENT_DATE - INTERVAL '7 days'
		WHERE m.status IN ('active', 'trial')
		  AND m.balance < m.low_balance_threshold
		GROUP BY m.id, m.name, m.balance, m.low_balance_threshold
		ORDER BY m.balance ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query low balances: %w", err)
	}
	defer rows.Close()

	var alerts []LowBalanceAlert
	for rows.Next() {
		var alert LowBalanceAlert
		var debited7d int64
		if err := rows.Scan(&alert.MessID, &alert.Name, &alert.Balance,
			&alert.Threshold, &debited7d); err != nil {
			return nil, fmt.Errorf("failed to scan low balance alert: %w", err)
		}
		alert.DaysLeft = -1
		if debited7d > 0 && alert.Balance > 0 {
			daily := debited7d / 7
			if daily > 0 {
				alert.DaysLeft = int(alert.Balance / daily)
			}
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating low balance alerts: %w", err)
	}

	if a.metrics != nil {
		a.metrics.LowBalanceAccounts.Set(float64(len(alerts)))
	}
	for _, alert := range alerts {
		a.logger.WithMess(alert.MessID).WithFields(map[string]interface{}{
			"balance":   alert.Balance,
			"threshold": alert.Threshold,
			"days_left": alert.DaysLeft,
		}).Warn("mess balance below threshold")
	}
	return alerts, nil
}

// CheckLedgerConsistency compares every stored balance against the sum of
// its transaction log. Any mismatch means a bug or manual tampering and is
// written to the audit trail.
func (a *Alerter) CheckLedgerConsistency(ctx context.Context) ([]BalanceMismatch, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT m.id, m.balance, COALESCE(SUM(t.delta), 0) AS ledger_sum
		FROM messes m
		LEFT JOIN credit_transactions t ON t.mess_id = m.id
		GROUP BY m.id, m.balance
		HAVING m.balance <> COALESCE(SUM(t.delta), 0)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger consistency: %w", err)
	}
	defer rows.Close()

	var mismatches []BalanceMismatch
	for rows.Next() {
		var m BalanceMismatch
		if err := rows.Scan(&m.MessID, &m.StoredBalance, &m.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan balance mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance mismatches: %w", err)
	}

	for _, m := range mismatches {
		messID := m.MessID
		a.auditor.Record(ctx, audit.Event{
			Type:    audit.EventTypeBalanceMismatch,
			MessID:  &messID,
			Status:  audit.EventStatusFailure,
			Message: "stored balance disagrees with transaction log",
			Details: map[string]interface{}{
				"stored_balance": m.StoredBalance,
				"ledger_sum":     m.LedgerSum,
			},
		})
		a.logger.WithMess(m.MessID).WithFields(map[string]interface{}{
			"stored_balance": m.StoredBalance,
			"ledger_sum":     m.LedgerSum,
		}).Error("balance mismatch detected")
	}
	return mismatches, nil
}

// UpdateGauges refreshes the account-population gauges.
func (a *Alerter) UpdateGauges(ctx context.Context) error {
	if a.metrics == nil {
		return nil
	}
	var total int64
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messes WHERE status IN ('active', 'trial')`).Scan(&total); err != nil {
		return fmt.Errorf("failed to count messes: %w", err)
	}
	a.metrics.MessesTotal.Set(float64(total))
	return nil
}

// RunChecks executes every alert check. Individual failures are logged and
// do not stop the remaining checks.
func (a *Alerter) RunChecks(ctx context.Context) {
	start := time.Now()
	if _, err := a.CheckLowBalances(ctx); err != nil {
		a.logger.WithError(err).Error("low balance check failed")
	}
	if _, err := a.CheckLedgerConsistency(ctx); err != nil {
		a.logger.WithError(err).Error("ledger consistency check failed")
	}
	if err := a.UpdateGauges(ctx); err != nil {
		a.logger.WithError(err).Error("gauge refresh failed")
	}
	a.logger.WithField("duration", time.Since(start).String()).Info("alert checks completed")
}
