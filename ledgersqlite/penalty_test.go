package ledgersqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func newTestScheduler(t *testing.T, store *Store) *PenaltyScheduler {
	t.Helper()
	p, err := NewPenaltyScheduler(store, DefaultPenaltyConfig(), quietLogger())
	require.NoError(t, err)
	return p
}

func TestPenalty_AppliedOncePerRun(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)
	scheduler := newTestScheduler(t, store)

	res, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("20")})
	require.NoError(t, err)

	// Not old enough yet
	applied, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, applied)

	clock.Advance(31 * day)
	applied, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	requireBalance(t, store, res.CustomerID, "70.00")

	// An immediate rerun finds the fresh penalty
	applied, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, applied)
	requireBalance(t, store, res.CustomerID, "70.00")

	txs, err := store.ListTransactions(ctx, res.CustomerID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	penalty := txs[1]
	require.Equal(t, ledger.ActionOverduePenalty, penalty.Action)
	require.Equal(t, ledger.NoProduct, penalty.Product)
	require.Equal(t, "2025-04-01", penalty.Date)
	require.Equal(t, ledger.SyncPending, penalty.SyncStatus)

	// Another threshold later the debt is penalized again
	clock.Advance(31 * day)
	applied, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	requireBalance(t, store, res.CustomerID, "120.00")

	requireBalanceInvariant(t, store)
}

func TestPenalty_SkipsSettledButNotArchived(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)
	scheduler := newTestScheduler(t, store)

	_, err := store.AddCredit(ctx, CreditInput{CustomerName: "paid-up", Product: "rice", Quantity: 1, UnitAmount: dec("10")})
	require.NoError(t, err)
	_, err = store.RecordPayment(ctx, "paid-up", dec("10"))
	require.NoError(t, err)

	archived, err := store.AddCredit(ctx, CreditInput{CustomerName: "gone", Product: "rice", Quantity: 1, UnitAmount: dec("10")})
	require.NoError(t, err)
	require.ErrorIs(t, store.ArchiveCustomer(ctx, archived.CustomerID, true), ledger.ErrValidation)

	// An archived customer can still end up owing, e.g. through a pulled credit
	_, err = store.DB().Exec(`UPDATE customers SET archived = 1 WHERE id = ?`, archived.CustomerID)
	require.NoError(t, err)

	clock.Advance(45 * day)
	applied, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	requireBalance(t, store, archived.CustomerID, "60.00")
}

func TestPenalty_Config(t *testing.T) {
	store := newTestStore(t, newFakeClock())

	_, err := NewPenaltyScheduler(store, PenaltyConfig{Threshold: 0, Amount: decimal.NewFromInt(1)}, nil)
	require.Error(t, err)
	_, err = NewPenaltyScheduler(store, PenaltyConfig{Threshold: day, Amount: decimal.Zero}, nil)
	require.Error(t, err)
}

func TestPenalty_RunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	scheduler := newTestScheduler(t, store)

	_, err := store.AddCredit(context.Background(), CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("5")})
	require.NoError(t, err)
	clock.Advance(40 * day)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		c, err := store.FindCustomerByKey(context.Background(), "ana")
		return err == nil && c.Balance.Equal(dec("55"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
