package pricing

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/observability"
)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgresService(db, logger, nil, time.Minute), mock
}

func slabRows(slabs ...Slab) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "min_users", "max_users", "cycle_cost", "created_at", "updated_at"})
	for _, s := range slabs {
		rows.AddRow(s.ID, s.MinUsers, s.MaxUsers, s.CycleCost, time.Now(), time.Now())
	}
	return rows
}

func TestResolveCost(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(
			Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500},
			Slab{ID: 2, MinUsers: 26, MaxUsers: 50, CycleCost: 900},
		))

	cost, err := svc.ResolveCost(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(900), cost)

	// Second resolve hits the cache, no further query expected.
	cost, err = svc.ResolveCost(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cost)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveCost_NoSlabMatch(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500}))

	_, err := svc.ResolveCost(context.Background(), 100)
	assert.ErrorIs(t, err, ErrNoSlabMatch)
}

func TestCreateSlab_RejectsOverlap(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs(slabWriteLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500}))
	mock.ExpectRollback()

	_, err := svc.CreateSlab(context.Background(), SlabRequest{MinUsers: 20, MaxUsers: 50, CycleCost: 900})
	assert.ErrorIs(t, err, ErrInvalidSlabs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSlab_InvalidatesCache(t *testing.T) {
	svc, mock := newTestService(t)

	// Warm the cache.
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500}))
	_, err := svc.ListSlabs(context.Background())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs(slabWriteLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500}))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_slabs")).
		WithArgs(26, 50, int64(900)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(2), time.Now(), time.Now()))
	mock.ExpectCommit()

	_, err = svc.CreateSlab(context.Background(), SlabRequest{MinUsers: 26, MaxUsers: 50, CycleCost: 900})
	require.NoError(t, err)

	// The next list must go back to the database.
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(
			Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500},
			Slab{ID: 2, MinUsers: 26, MaxUsers: 50, CycleCost: 900},
		))
	slabs, err := svc.ListSlabs(context.Background())
	require.NoError(t, err)
	assert.Len(t, slabs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSlab_RejectsGap(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs(slabWriteLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(
			Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500},
			Slab{ID: 2, MinUsers: 26, MaxUsers: 50, CycleCost: 900},
			Slab{ID: 3, MinUsers: 51, MaxUsers: 100, CycleCost: 1500},
		))
	mock.ExpectRollback()

	err := svc.DeleteSlab(context.Background(), 2)
	assert.ErrorIs(t, err, ErrInvalidSlabs)
}

func TestUpdateSlab_NotFound(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs(slabWriteLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_slabs")).
		WillReturnRows(slabRows(Slab{ID: 1, MinUsers: 0, MaxUsers: 25, CycleCost: 500}))
	mock.ExpectRollback()

	_, err := svc.UpdateSlab(context.Background(), 99, SlabRequest{MinUsers: 0, MaxUsers: 25, CycleCost: 600})
	assert.ErrorIs(t, err, ErrSlabNotFound)
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slabs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
slabs:
  - min_users: 0
    max_users: 25
    cycle_cost: 500
  - min_users: 26
    max_users: 50
    cycle_cost: 900
`), 0o644))

	slabs, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, slabs, 2)
	assert.Equal(t, int64(900), slabs[1].CycleCost)
}

func TestLoadSeedFile_InvalidSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slabs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
slabs:
  - min_users: 0
    max_users: 25
    cycle_cost: 500
  - min_users: 40
    max_users: 50
    cycle_cost: 900
`), 0o644))

	_, err := LoadSeedFile(path)
	assert.ErrorIs(t, err, ErrInvalidSlabs)
}
