package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

const slabCacheKey = "slabs"

// Service resolves per-cycle costs from the configured slabs and exposes
// admin CRUD over them.
type Service interface {
	ResolveCost(ctx context.Context, activeUsers int) (int64, error)
	ListSlabs(ctx context.Context) ([]Slab, error)
	CreateSlab(ctx context.Context, req SlabRequest) (*Slab, error)
	UpdateSlab(ctx context.Context, id int64, req SlabRequest) (*Slab, error)
	DeleteSlab(ctx context.Context, id int64) error
}

// PostgresService implements Service with a PostgreSQL store and an
// in-process expiring cache in front of the read path. Slabs change rarely
// and are read on every bill generation.
type PostgresService struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
	cache   *expirable.LRU[string, []Slab]
}

// NewPostgresService creates a new PostgresService. cacheTTL bounds how
// stale a resolved cost can be after an admin slab change on another
// replica.
func NewPostgresService(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, cacheTTL time.Duration) *PostgresService {
	return &PostgresService{
		db:      db,
		logger:  logger,
		metrics: metrics,
		cache:   expirable.NewLRU[string, []Slab](1, nil, cacheTTL),
	}
}

// ResolveCost returns the per-cycle cost for the given active member count.
func (s *PostgresService) ResolveCost(ctx context.Context, activeUsers int) (int64, error) {
	slabs, err := s.ListSlabs(ctx)
	if err != nil {
		return 0, err
	}
	for _, slab := range slabs {
		if slab.Covers(activeUsers) {
			return slab.CycleCost, nil
		}
	}
	return 0, fmt.Errorf("%w: %d active members", ErrNoSlabMatch, activeUsers)
}

// ListSlabs returns all slabs ordered by band, serving from cache when
// fresh.
func (s *PostgresService) ListSlabs(ctx context.Context) ([]Slab, error) {
	if cached, ok := s.cache.Get(slabCacheKey); ok {
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.WithLabelValues("slabs").Inc()
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues("slabs").Inc()
	}

	slabs, err := s.querySlabs(ctx, s.db)
	if err != nil {
		return nil, err
	}
	s.cache.Add(slabCacheKey, slabs)
	return slabs, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgresService) querySlabs(ctx context.Context, q queryer) ([]Slab, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, min_users, max_users, cycle_cost, created_at, updated_at
		FROM credit_slabs
		ORDER BY min_users ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list slabs: %w", err)
	}
	defer rows.Close()

	var slabs []Slab
	for rows.Next() {
		var slab Slab
		if err := rows.Scan(&slab.ID, &slab.MinUsers, &slab.MaxUsers,
			&slab.CycleCost, &slab.CreatedAt, &slab.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan slab: %w", err)
		}
		slabs = append(slabs, slab)
	}
	return slabs, rows.Err()
}

// slabWriteLockKey serializes slab mutations. The read-validate-write
// cycle is not safe under read committed on its own, so every writer
// takes this transaction-scoped advisory lock first.
const slabWriteLockKey = 412907

func lockSlabs(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, slabWriteLockKey); err != nil {
		return fmt.Errorf("failed to lock slab set: %w", err)
	}
	return nil
}

// CreateSlab inserts a new slab after validating the resulting set.
// Writers serialize on the slab advisory lock, so two concurrent admins
// cannot both slip through validation.
func (s *PostgresService) CreateSlab(ctx context.Context, req SlabRequest) (*Slab, error) {
	slab := &Slab{MinUsers: req.MinUsers, MaxUsers: req.MaxUsers, CycleCost: req.CycleCost}
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockSlabs(ctx, tx); err != nil {
			return err
		}
		current, err := s.querySlabs(ctx, tx)
		if err != nil {
			return err
		}
		if err := ValidateSlabs(append(current, *slab)); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO credit_slabs (min_users, max_users, cycle_cost)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at`,
			slab.MinUsers, slab.MaxUsers, slab.CycleCost,
		).Scan(&slab.ID, &slab.CreatedAt, &slab.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	s.logger.WithFields(map[string]interface{}{
		"slab_id":    slab.ID,
		"min_users":  slab.MinUsers,
		"max_users":  slab.MaxUsers,
		"cycle_cost": slab.CycleCost,
	}).Info("pricing slab created")
	return slab, nil
}

// UpdateSlab replaces a slab's band and cost, validating the resulting set.
func (s *PostgresService) UpdateSlab(ctx context.Context, id int64, req SlabRequest) (*Slab, error) {
	slab := &Slab{ID: id, MinUsers: req.MinUsers, MaxUsers: req.MaxUsers, CycleCost: req.CycleCost}
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockSlabs(ctx, tx); err != nil {
			return err
		}
		current, err := s.querySlabs(ctx, tx)
		if err != nil {
			return err
		}
		found := false
		next := make([]Slab, 0, len(current))
		for _, c := range current {
			if c.ID == id {
				found = true
				next = append(next, *slab)
				continue
			}
			next = append(next, c)
		}
		if !found {
			return fmt.Errorf("%w: id %d", ErrSlabNotFound, id)
		}
		if err := ValidateSlabs(next); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			UPDATE credit_slabs
			SET min_users = $1, max_users = $2, cycle_cost = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING created_at, updated_at`,
			slab.MinUsers, slab.MaxUsers, slab.CycleCost, id,
		).Scan(&slab.CreatedAt, &slab.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return slab, nil
}

// DeleteSlab removes a slab. The remaining set is re-validated, so deleting
// from the middle of the partition or deleting the last slab is rejected.
func (s *PostgresService) DeleteSlab(ctx context.Context, id int64) error {
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockSlabs(ctx, tx); err != nil {
			return err
		}
		current, err := s.querySlabs(ctx, tx)
		if err != nil {
			return err
		}
		next := make([]Slab, 0, len(current))
		found := false
		for _, c := range current {
			if c.ID == id {
				found = true
				continue
			}
			next = append(next, c)
		}
		if !found {
			return fmt.Errorf("%w: id %d", ErrSlabNotFound, id)
		}
		if err := ValidateSlabs(next); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM credit_slabs WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Seed loads slabs into an empty table. Called at startup with the parsed
// seed file; a non-empty table wins over the file.
func (s *PostgresService) Seed(ctx context.Context, slabs []Slab) error {
	if err := ValidateSlabs(slabs); err != nil {
		return err
	}
	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_slabs`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count slabs: %w", err)
		}
		if count > 0 {
			return nil
		}
		for _, slab := range slabs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO credit_slabs (min_users, max_users, cycle_cost)
				VALUES ($1, $2, $3)`,
				slab.MinUsers, slab.MaxUsers, slab.CycleCost); err != nil {
				return fmt.Errorf("failed to seed slab [%d, %d]: %w", slab.MinUsers, slab.MaxUsers, err)
			}
		}
		s.logger.WithField("slabs", len(slabs)).Info("seeded pricing slabs")
		return nil
	})
}

func (s *PostgresService) invalidate() {
	s.cache.Remove(slabCacheKey)
}
