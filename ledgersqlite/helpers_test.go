package ledgersqlite

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, WithClock(clock.Now), WithLogger(quietLogger()))
	require.NoError(t, err)
	return store
}

func newTestClient(t *testing.T, store *Store, remote ledgersync.RemoteStore, source string) *Client {
	t.Helper()
	client, err := NewClient(store, remote, DefaultConfig(source), quietLogger())
	require.NoError(t, err)
	return client
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireBalance(t *testing.T, store *Store, customerID, want string) {
	t.Helper()
	c, err := store.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	require.Equal(t, want, c.Balance.StringFixed(2))
}

// requireBalanceInvariant checks every stored balance against a fresh fold.
func requireBalanceInvariant(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	customers, err := store.ListCustomers(ctx, CustomerFilter{IncludeArchived: true})
	require.NoError(t, err)
	for _, c := range customers {
		txs, err := store.ListTransactions(ctx, c.ID)
		require.NoError(t, err)
		sum := ledger.FoldBalance(txs)
		require.True(t, sum.Equal(c.Balance), "customer %s balance %s, fold %s", c.DisplayName, c.Balance, sum)
	}
}
