package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

var (
	// ErrPlanNotFound is returned when the plan does not exist or is not
	// purchasable.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidPlan is returned for admin payloads that fail validation.
	ErrInvalidPlan = errors.New("invalid plan")
)

const activePlansCacheKey = "catalog:plans:active"

// Service exposes the purchase catalog.
type Service interface {
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	ResolvePlan(ctx context.Context, planID int64) (*Plan, error)
	CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error)
	UpdatePlan(ctx context.Context, planID int64, req PlanRequest) (*Plan, error)
	DeactivatePlan(ctx context.Context, planID int64) error
}

// PostgresService implements Service with PostgreSQL behind a Redis read
// cache. The active-plan list is the hottest catalog read; writes
// invalidate it.
type PostgresService struct {
	db      *sql.DB
	cache   *postgres.RedisClient
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPostgresService creates a new PostgresService. cache may be nil, in
// which case every read goes to the database.
func NewPostgresService(db *sql.DB, cache *postgres.RedisClient, logger *observability.Logger, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{db: db, cache: cache, logger: logger, metrics: metrics}
}

const planColumns = `id, name, credits, bonus_credits, price_cents, currency, active, created_at, updated_at`

// ListActivePlans returns purchasable plans, cheapest first.
func (s *PostgresService) ListActivePlans(ctx context.Context) ([]*Plan, error) {
	if s.cache != nil {
		var cached []*Plan
		hit, err := s.cache.GetJSON(ctx, activePlansCacheKey, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("plan cache read failed, falling through")
		}
		if hit {
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.WithLabelValues("plans").Inc()
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.WithLabelValues("plans").Inc()
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM credit_plans
		WHERE active
		ORDER BY price_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		if err := scanPlan(rows, plan); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, activePlansCacheKey, "plans", plans); err != nil {
			s.logger.WithError(err).Warn("plan cache write failed")
		}
	}
	return plans, nil
}

// ResolvePlan fetches a single active plan by id.
func (s *PostgresService) ResolvePlan(ctx context.Context, planID int64) (*Plan, error) {
	plan := &Plan{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM credit_plans
		WHERE id = $1 AND active`, planID,
	).Scan(&plan.ID, &plan.Name, &plan.Credits, &plan.BonusCredits,
		&plan.PriceCents, &plan.Currency, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}
	return plan, nil
}

// CreatePlan inserts a new plan.
func (s *PostgresService) CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if err := validatePlanRequest(req); err != nil {
		return nil, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	plan := &Plan{
		Name:         req.Name,
		Credits:      req.Credits,
		BonusCredits: req.BonusCredits,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		Active:       active,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credit_plans (name, credits, bonus_credits, price_cents, currency, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		plan.Name, plan.Credits, plan.BonusCredits, plan.PriceCents, plan.Currency, plan.Active,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.invalidate(ctx)
	s.logger.WithFields(map[string]interface{}{
		"plan_id": plan.ID,
		"name":    plan.Name,
		"credits": plan.Credits,
	}).Info("purchase plan created")
	return plan, nil
}

// UpdatePlan replaces a plan's fields.
func (s *PostgresService) UpdatePlan(ctx context.Context, planID int64, req PlanRequest) (*Plan, error) {
	if err := validatePlanRequest(req); err != nil {
		return nil, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	plan := &Plan{
		ID:           planID,
		Name:         req.Name,
		Credits:      req.Credits,
		BonusCredits: req.BonusCredits,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		Active:       active,
	}
	err := s.db.QueryRowContext(ctx, `
		UPDATE credit_plans
		SET name = $1, credits = $2, bonus_credits = $3, price_cents = $4,
		    currency = $5, active = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING created_at, updated_at`,
		plan.Name, plan.Credits, plan.BonusCredits, plan.PriceCents,
		plan.Currency, plan.Active, planID,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	s.invalidate(ctx)
	return plan, nil
}

// DeactivatePlan hides a plan from the catalog. Existing orders keep their
// snapshot of credits and price, so deactivation never rewrites history.
func (s *PostgresService) DeactivatePlan(ctx context.Context, planID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_plans SET active = FALSE, updated_at = NOW() WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("failed to deactivate plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrPlanNotFound, planID)
	}
	s.invalidate(ctx)
	return nil
}

func (s *PostgresService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, activePlansCacheKey); err != nil {
		s.logger.WithError(err).Warn("plan cache invalidation failed")
	}
}

func validatePlanRequest(req PlanRequest) error {
	switch {
	case req.Name == "":
		return fmt.Errorf("%w: name required", ErrInvalidPlan)
	case req.Credits <= 0:
		return fmt.Errorf("%w: credits must be positive", ErrInvalidPlan)
	case req.BonusCredits < 0:
		return fmt.Errorf("%w: bonus credits cannot be negative", ErrInvalidPlan)
	case req.PriceCents <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidPlan)
	case len(req.Currency) != 3:
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidPlan)
	}
	return nil
}

type planScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row planScanner, plan *Plan) error {
	if err := row.Scan(&plan.ID, &plan.Name, &plan.Credits, &plan.BonusCredits,
		&plan.PriceCents, &plan.Currency, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return fmt.Errorf("failed to scan plan: %w", err)
	}
	return nil
}
