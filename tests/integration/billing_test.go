//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/trial"
)

// TestBillingCycle_EndToEnd walks the full lifecycle: a mess signs up,
// activates its trial, gets billed for a cycle out of the trial grant, and
// a replayed generation returns the stored bill unchanged.
func TestBillingCycle_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()
	logger := testLogger()
	metrics := testMetrics()

	messSvc := messes.NewPostgresService(db, logger)
	ledgerSvc := ledger.NewPostgresService(db, logger, metrics)
	pricingSvc := pricing.NewPostgresService(db, logger, metrics, time.Minute)
	trialSvc := trial.NewPostgresService(db, ledgerSvc, logger, 2000, 14)
	billingSvc := billing.NewPostgresService(db, ledgerSvc, pricingSvc, messSvc,
		logger, metrics, 7)

	require.NoError(t, pricingSvc.Seed(ctx, []pricing.Slab{
		{MinUsers: 1, MaxUsers: 10, CycleCost: 500},
		{MinUsers: 11, MaxUsers: 50, CycleCost: 1500},
	}))

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Campus Mess"})
	require.NoError(t, err)
	for _, name := range []string{"asha", "ravi", "meera"} {
		_, err := messSvc.AddMember(ctx, mess.ID, name)
		require.NoError(t, err)
	}

	require.NoError(t, billingSvc.SetAutoRenewal(ctx, mess.ID, true))

	record, err := trialSvc.Activate(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), record.Credits)

	balance, err := ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	// The trial is single use per mess, even after the first one ends.
	_, err = trialSvc.Activate(ctx, mess.ID)
	require.ErrorIs(t, err, trial.ErrTrialAlreadyUsed)

	window := billing.CycleWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}

	bill, err := billingSvc.Generate(ctx, mess.ID, window)
	require.NoError(t, err)
	assert.Equal(t, 3, bill.ActiveUsers)
	assert.Equal(t, int64(500), bill.SlabCost)
	assert.Equal(t, billing.BillStatusPaid, bill.Status)
	assert.False(t, bill.Existing)

	balance, err = ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)

	// A second generation for the same cycle is a no-op replay.
	replay, err := billingSvc.Generate(ctx, mess.ID, window)
	require.NoError(t, err)
	assert.True(t, replay.Existing)
	assert.Equal(t, bill.ID, replay.ID)

	balance, err = ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance, "replayed generation must not debit again")

	check, err := ledgerSvc.VerifyBalance(ctx, mess.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

// TestBillingCycle_InsufficientCreditsThenRetry covers the pending-bill
// path: generation leaves the bill pending when the balance cannot cover
// it, and a retry after a purchase settles it.
func TestBillingCycle_InsufficientCreditsThenRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()
	logger := testLogger()
	metrics := testMetrics()

	messSvc := messes.NewPostgresService(db, logger)
	ledgerSvc := ledger.NewPostgresService(db, logger, metrics)
	pricingSvc := pricing.NewPostgresService(db, logger, metrics, time.Minute)
	billingSvc := billing.NewPostgresService(db, ledgerSvc, pricingSvc, messSvc,
		logger, metrics, 7)

	require.NoError(t, pricingSvc.Seed(ctx, []pricing.Slab{
		{MinUsers: 1, MaxUsers: 10, CycleCost: 800},
	}))

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Annex Mess"})
	require.NoError(t, err)
	_, err = messSvc.AddMember(ctx, mess.ID, "sunil")
	require.NoError(t, err)
	require.NoError(t, billingSvc.SetAutoRenewal(ctx, mess.ID, true))

	window := billing.CycleWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}

	bill, err := billingSvc.Generate(ctx, mess.ID, window)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPending, bill.Status)

	// Top up, then retry the debit.
	_, err = ledgerSvc.Post(ctx, ledger.PostRequest{
		MessID:      mess.ID,
		Delta:       1000,
		Reason:      ledger.ReasonPurchase,
		ReferenceID: "gw-txn-topup",
	})
	require.NoError(t, err)

	paid, err := billingSvc.RetryDebit(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	balance, err := ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	// Retrying a settled bill is rejected.
	_, err = billingSvc.RetryDebit(ctx, bill.ID)
	require.ErrorIs(t, err, billing.ErrBillNotPayable)
}
