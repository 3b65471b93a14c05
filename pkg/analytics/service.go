package analytics

import (
	"context"
	"database/sql"
	"time"
)

// Service answers cross-tenant reporting queries for the admin surface.
type Service struct {
	db *sql.DB
}

// NewService creates a new analytics service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Overview contains platform-wide KPIs.
type Overview struct {
	TotalMesses         int64 `json:"total_messes"`
	ActiveMesses        int64 `json:"active_messes"`
	TrialMesses         int64 `json:"trial_messes"`
	CreditsPurchased7d  int64 `json:"credits_purchased_7d"`
	CreditsPurchased30d int64 `json:"credits_purchased_30d"`
	CreditsDebited7d    int64 `json:"credits_debited_7d"`
	CreditsDebited30d   int64 `json:"credits_debited_30d"`
	OutstandingBills    int64 `json:"outstanding_bills"`
	OverdueBills        int64 `json:"overdue_bills"`
	LowBalanceMesses    int64 `json:"low_balance_messes"`
}

// GetOverview retrieves platform KPIs.
func (s *Service) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'trial'),
			COUNT(*) FILTER (WHERE status IN ('active', 'trial') AND balance < low_balance_threshold)
		FROM messes`).Scan(&o.TotalMesses, &o.ActiveMesses, &o.TrialMesses, &o.LowBalanceMesses)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(purchased) FILTER (WHERE date >= CURRENT_DATE - INTERVAL '7 days'), 0),
			COALESCE(SUM(purchased) FILTER (WHERE date >= CURRENT_DATE - INTERVAL '30 days'), 0),
			COALESCE(SUM(debited) FILTER (WHERE date >= CURRENT_DATE - INTERVAL '7 days'), 0),
			COALESCE(SUM(debited) FILTER (WHERE date >= CURRENT_DATE - INTERVAL '30 days'), 0)
		FROM credit_usage_daily`).Scan(
		&o.CreditsPurchased7d, &o.CreditsPurchased30d,
		&o.CreditsDebited7d, &o.CreditsDebited30d)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'overdue')),
			COUNT(*) FILTER (WHERE status = 'overdue')
		FROM bills`).Scan(&o.OutstandingBills, &o.OverdueBills)
	if err != nil {
		return nil, err
	}

	return &o, nil
}

// UsagePoint is one day of credit activity for a mess.
type UsagePoint struct {
	Date      time.Time `json:"date"`
	Purchased int64     `json:"purchased"`
	Debited   int64     `json:"debited"`
	Refunded  int64     `json:"refunded"`
}

// UsageSeries returns a mess's daily credit usage for the trailing window.
func (s *Service) UsageSeries(ctx context.Context, messID int64, days int) ([]UsagePoint, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, purchased, debited, refunded
		FROM credit_usage_daily
		WHERE mess_id = $1 AND date >= CURRENT_DATE - $2::integer
		ORDER BY date`, messID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []UsagePoint
	for rows.Next() {
		var p UsagePoint
		if err := rows.Scan(&p.Date, &p.Purchased, &p.Debited, &p.Refunded); err != nil {
			return nil, err
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// MessUsage ranks a mess by credit consumption.
type MessUsage struct {
	MessID  int64  `json:"mess_id"`
	Name    string `json:"name"`
	Debited int64  `json:"debited"`
	Balance int64  `json:"balance"`
}

// TopMesses returns the heaviest credit consumers over the trailing window.
func (s *Service) TopMesses(ctx context.Context, days, limit int) ([]MessUsage, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, COALESCE(SUM(u.debited), 0) AS debited, m.balance
		FROM messes m
		LEFT JOIN credit_usage_daily u ON u.mess_id = m.id
			AND u.date >= CURRENT_DATE - $1::integer
		GROUP BY m.id, m.name, m.balance
		ORDER BY debited DESC
		LIMIT $2`, days, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []MessUsage
	for rows.Next() {
		var u MessUsage
		if err := rows.Scan(&u.MessID, &u.Name, &u.Debited, &u.Balance); err != nil {
			return nil, err
		}
		top = append(top, u)
	}
	return top, rows.Err()
}
