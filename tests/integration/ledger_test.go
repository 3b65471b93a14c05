//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
)

func TestLedger_PostIdempotency(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()

	messSvc := messes.NewPostgresService(db, testLogger())
	ledgerSvc := ledger.NewPostgresService(db, testLogger(), testMetrics())

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Hostel A Mess"})
	require.NoError(t, err)

	req := ledger.PostRequest{
		MessID:      mess.ID,
		Delta:       5000,
		Reason:      ledger.ReasonPurchase,
		ReferenceID: "gw-txn-100",
	}

	first, err := ledgerSvc.Post(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), first.BalanceAfter)

	// Replaying the same (reason, reference) must return the stored
	// transaction without crediting again.
	second, err := ledgerSvc.Post(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestLedger_ConcurrentPostsSerialize(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()

	messSvc := messes.NewPostgresService(db, testLogger())
	ledgerSvc := ledger.NewPostgresService(db, testLogger(), testMetrics())

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Hostel B Mess"})
	require.NoError(t, err)

	const workers = 20
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		ref := fmt.Sprintf("gw-txn-%d", i)
		g.Go(func() error {
			_, err := ledgerSvc.Post(ctx, ledger.PostRequest{
				MessID:      mess.ID,
				Delta:       100,
				Reason:      ledger.ReasonPurchase,
				ReferenceID: ref,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	balance, err := ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), balance)

	check, err := ledgerSvc.VerifyBalance(ctx, mess.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent, "stored balance must equal the folded transaction log")
}

func TestLedger_InsufficientCredits(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()

	messSvc := messes.NewPostgresService(db, testLogger())
	ledgerSvc := ledger.NewPostgresService(db, testLogger(), testMetrics())

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Hostel C Mess"})
	require.NoError(t, err)

	_, err = ledgerSvc.Post(ctx, ledger.PostRequest{
		MessID:      mess.ID,
		Delta:       200,
		Reason:      ledger.ReasonPurchase,
		ReferenceID: "gw-txn-small",
	})
	require.NoError(t, err)

	_, err = ledgerSvc.Post(ctx, ledger.PostRequest{
		MessID:      mess.ID,
		Delta:       -500,
		Reason:      ledger.ReasonBillDebit,
		ReferenceID: "bill-1",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	balance, err := ledgerSvc.Balance(ctx, mess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance, "failed debit must not change the balance")
}

func TestLedger_OverdraftRefund(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()

	messSvc := messes.NewPostgresService(db, testLogger())
	ledgerSvc := ledger.NewPostgresService(db, testLogger(), testMetrics())

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Hostel D Mess"})
	require.NoError(t, err)

	// Adjustments allow overdraft, so a negative correction can push the
	// balance below zero.
	txn, err := ledgerSvc.AdjustCredits(ctx, mess.ID, -300, "corr-1", "billing correction")
	require.NoError(t, err)
	assert.Equal(t, int64(-300), txn.BalanceAfter)
}

func TestLedger_HistoryCursor(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	ctx := context.Background()

	messSvc := messes.NewPostgresService(db, testLogger())
	ledgerSvc := ledger.NewPostgresService(db, testLogger(), testMetrics())

	mess, err := messSvc.CreateMess(ctx, messes.CreateMessRequest{Name: "Hostel E Mess"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := ledgerSvc.Post(ctx, ledger.PostRequest{
			MessID:      mess.ID,
			Delta:       10,
			Reason:      ledger.ReasonPurchase,
			ReferenceID: fmt.Sprintf("gw-txn-h%d", i),
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	page1, err := ledgerSvc.History(ctx, mess.ID, ledger.HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Greater(t, page1[0].ID, page1[1].ID, "history is newest first")

	page2, err := ledgerSvc.History(ctx, mess.ID, ledger.HistoryFilter{
		Limit:    10,
		BeforeID: page1[1].ID,
	})
	require.NoError(t, err)
	require.Len(t, page2, 3)
	for _, txn := range page2 {
		assert.Less(t, txn.ID, page1[1].ID)
	}
}
