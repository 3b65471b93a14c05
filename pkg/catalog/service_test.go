package catalog

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/storage"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := postgres.NewRedisClientWith(client, storage.Config{
		CacheTTL: map[string]time.Duration{"plans": time.Minute},
	})
	t.Cleanup(func() { cache.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgresService(db, cache, logger, nil), mock, mr
}

func planRows(plans ...*Plan) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "credits", "bonus_credits", "price_cents", "currency", "active", "created_at", "updated_at"})
	for _, p := range plans {
		rows.AddRow(p.ID, p.Name, p.Credits, p.BonusCredits, p.PriceCents, p.Currency, p.Active, time.Now(), time.Now())
	}
	return rows
}

func TestListActivePlans_CachesResult(t *testing.T) {
	svc, mock, mr := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_plans")).
		WillReturnRows(planRows(
			&Plan{ID: 1, Name: "Starter", Credits: 1000, PriceCents: 49900, Currency: "INR", Active: true},
			&Plan{ID: 2, Name: "Bulk", Credits: 5000, BonusCredits: 500, PriceCents: 199900, Currency: "INR", Active: true},
		))

	plans, err := svc.ListActivePlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.True(t, mr.Exists(activePlansCacheKey))

	// Second read is served from redis; no database expectation remains.
	plans, err = svc.ListActivePlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, int64(5500), plans[1].TotalCredits())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePlan_NotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND active")).
		WithArgs(int64(99)).
		WillReturnRows(planRows())

	_, err := svc.ResolvePlan(context.Background(), 99)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCreatePlan_InvalidatesCache(t *testing.T) {
	svc, mock, mr := newTestService(t)

	// Warm the cache.
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_plans")).
		WillReturnRows(planRows(&Plan{ID: 1, Name: "Starter", Credits: 1000, PriceCents: 49900, Currency: "INR", Active: true}))
	_, err := svc.ListActivePlans(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists(activePlansCacheKey))

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_plans")).
		WithArgs("Bulk", int64(5000), int64(500), int64(199900), "INR", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(2), time.Now(), time.Now()))

	_, err = svc.CreatePlan(context.Background(), PlanRequest{
		Name: "Bulk", Credits: 5000, BonusCredits: 500, PriceCents: 199900, Currency: "INR",
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(activePlansCacheKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlan_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name string
		req  PlanRequest
	}{
		{"missing name", PlanRequest{Credits: 100, PriceCents: 100, Currency: "INR"}},
		{"zero credits", PlanRequest{Name: "x", PriceCents: 100, Currency: "INR"}},
		{"negative bonus", PlanRequest{Name: "x", Credits: 100, BonusCredits: -1, PriceCents: 100, Currency: "INR"}},
		{"zero price", PlanRequest{Name: "x", Credits: 100, Currency: "INR"}},
		{"bad currency", PlanRequest{Name: "x", Credits: 100, PriceCents: 100, Currency: "RUPEES"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePlan(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestDeactivatePlan(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE credit_plans SET active = FALSE")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeactivatePlan(context.Background(), 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE credit_plans SET active = FALSE")).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.DeactivatePlan(context.Background(), 9)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}
