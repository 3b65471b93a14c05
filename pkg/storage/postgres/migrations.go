package postgres

import (
	"database/sql"
	"fmt"
)

// Migrate creates the billing schema if it does not exist. Statements are
// idempotent so the runner is safe to call on every startup.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messes (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		balance BIGINT NOT NULL DEFAULT 0,
		low_balance_threshold BIGINT NOT NULL DEFAULT 0,
		auto_renewal BOOLEAN NOT NULL DEFAULT FALSE,
		billing_cycle_days INTEGER NOT NULL DEFAULT 30,
		max_leave_days_per_cycle INTEGER NOT NULL DEFAULT 10,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS mess_members (
		id BIGSERIAL PRIMARY KEY,
		mess_id BIGINT NOT NULL REFERENCES messes(id),
		name VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		left_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mess_members_active ON mess_members(mess_id) WHERE active`,

	// The transaction log is append-only; the unique (reason, reference_id)
	// index is what makes retried posts idempotent.
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id BIGSERIAL PRIMARY KEY,
		mess_id BIGINT NOT NULL REFERENCES messes(id),
		delta BIGINT NOT NULL,
		reason VARCHAR(20) NOT NULL,
		reference_id VARCHAR(255) NOT NULL,
		balance_after BIGINT NOT NULL,
		note TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_transactions_ref
		ON credit_transactions(reason, reference_id)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_mess
		ON credit_transactions(mess_id, id DESC)`,

	`CREATE TABLE IF NOT EXISTS credit_slabs (
		id BIGSERIAL PRIMARY KEY,
		min_users INTEGER NOT NULL,
		max_users INTEGER NOT NULL,
		cycle_cost BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_slabs_min ON credit_slabs(min_users)`,

	`CREATE TABLE IF NOT EXISTS credit_plans (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		credits BIGINT NOT NULL,
		bonus_credits BIGINT NOT NULL DEFAULT 0,
		price_cents BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'INR',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	// Partial unique index: exactly one non-waived bill per (mess, cycle).
	`CREATE TABLE IF NOT EXISTS bills (
		id BIGSERIAL PRIMARY KEY,
		mess_id BIGINT NOT NULL REFERENCES messes(id),
		cycle_start DATE NOT NULL,
		cycle_end DATE NOT NULL,
		active_users INTEGER NOT NULL,
		slab_cost BIGINT NOT NULL,
		leave_adjustment_total BIGINT NOT NULL DEFAULT 0,
		net_amount BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		due_date DATE NOT NULL,
		paid_at TIMESTAMP WITH TIME ZONE,
		waived_reason TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bills_mess_cycle
		ON bills(mess_id, cycle_start) WHERE status <> 'waived'`,
	`CREATE INDEX IF NOT EXISTS idx_bills_due ON bills(due_date) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS leave_adjustments (
		id BIGSERIAL PRIMARY KEY,
		membership_id BIGINT NOT NULL,
		mess_id BIGINT NOT NULL REFERENCES messes(id),
		leave_start DATE NOT NULL,
		leave_end DATE NOT NULL,
		daily_credit_value BIGINT NOT NULL,
		refund_amount BIGINT NOT NULL,
		applied BOOLEAN NOT NULL DEFAULT FALSE,
		transaction_id BIGINT,
		bill_id BIGINT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leave_adjustments_unapplied
		ON leave_adjustments(mess_id) WHERE NOT applied`,

	// One trial per mess for the lifetime of the mess.
	`CREATE TABLE IF NOT EXISTS trial_records (
		id BIGSERIAL PRIMARY KEY,
		mess_id BIGINT NOT NULL UNIQUE REFERENCES messes(id),
		activated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payment_orders (
		id UUID PRIMARY KEY,
		mess_id BIGINT NOT NULL REFERENCES messes(id),
		plan_id BIGINT NOT NULL REFERENCES credit_plans(id),
		requested_credits BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		gateway_ref VARCHAR(255),
		status VARCHAR(20) NOT NULL DEFAULT 'created',
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_orders_expiry
		ON payment_orders(expires_at) WHERE status = 'created'`,

	// gateway_txn_id is the idempotency key: duplicate webhook deliveries
	// collide here instead of crediting twice.
	`CREATE TABLE IF NOT EXISTS payment_verifications (
		id BIGSERIAL PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES payment_orders(id),
		gateway_txn_id VARCHAR(255) NOT NULL UNIQUE,
		method VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		proof_key VARCHAR(512),
		reviewed_by VARCHAR(255),
		failure_reason TEXT,
		verified_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(50) NOT NULL,
		mess_id BIGINT,
		actor VARCHAR(255),
		resource_id VARCHAR(255),
		status VARCHAR(20) NOT NULL,
		message TEXT,
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_type
		ON audit_events(event_type, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_mess
		ON audit_events(mess_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS credit_usage_daily (
		mess_id BIGINT NOT NULL,
		date DATE NOT NULL,
		purchased BIGINT NOT NULL DEFAULT 0,
		debited BIGINT NOT NULL DEFAULT 0,
		refunded BIGINT NOT NULL DEFAULT 0,
		granted BIGINT NOT NULL DEFAULT 0,
		adjusted BIGINT NOT NULL DEFAULT 0,
		bills_generated INTEGER NOT NULL DEFAULT 0,
		bills_paid INTEGER NOT NULL DEFAULT 0,
		bills_overdue INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (mess_id, date)
	)`,
}
