package ledgersqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAddCredit_NewCustomer(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	res, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 3, UnitAmount: dec("10")})
	require.NoError(t, err)
	require.Equal(t, "30.00", res.Balance.StringFixed(2))
	requireBalance(t, store, res.CustomerID, "30.00")

	tx, err := store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.ActionCreditAdded, tx.Action)
	require.Equal(t, int64(3), tx.Quantity)
	require.Equal(t, "2025-03-01", tx.Date)
	require.Equal(t, "09:00", tx.Time)
	require.Equal(t, ledger.SyncPending, tx.SyncStatus)
	require.Empty(t, tx.RemoteID)

	c := mustCustomer(t, store, res.CustomerID)
	require.Equal(t, ledger.SyncPending, c.SyncStatus)
	require.Equal(t, "ana", c.NormalizedKey)
}

func TestAddCredit_ExistingCustomerMatchesNormalizedName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	first, err := store.AddCredit(ctx, CreditInput{CustomerName: "Ana", Product: "rice", Quantity: 1, UnitAmount: dec("10")})
	require.NoError(t, err)
	second, err := store.AddCredit(ctx, CreditInput{CustomerName: "  ANA ", Product: "beans", Quantity: 2, UnitAmount: dec("2.25")})
	require.NoError(t, err)

	require.Equal(t, first.CustomerID, second.CustomerID)
	require.Equal(t, "14.50", second.Balance.StringFixed(2))
	require.Equal(t, "Ana", mustCustomer(t, store, first.CustomerID).DisplayName)
}

func TestAddCredit_Validation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	cases := []CreditInput{
		{CustomerName: "", Product: "rice", Quantity: 1, UnitAmount: dec("1")},
		{CustomerName: "ana", Product: " ", Quantity: 1, UnitAmount: dec("1")},
		{CustomerName: "ana", Product: "rice", Quantity: 0, UnitAmount: dec("1")},
		{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("-1")},
	}
	for _, in := range cases {
		_, err := store.AddCredit(ctx, in)
		require.ErrorIs(t, err, ledger.ErrValidation, "%+v", in)
	}

	customers, err := store.ListCustomers(ctx, CustomerFilter{IncludeArchived: true})
	require.NoError(t, err)
	require.Empty(t, customers)
}

func TestAddCredit_CoBorrower(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	res, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", CoBorrower: "Bo", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	tx, err := store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "Bo", tx.CoBorrower)

	res, err = store.AddCredit(ctx, CreditInput{CustomerName: "ana", CoBorrower: "ANA", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	tx, err = store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Empty(t, tx.CoBorrower, "a customer cannot co-borrow with themselves")
}

func TestAddCredit_UnarchivesCustomer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	res, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	_, err = store.RecordPayment(ctx, "ana", dec("1"))
	require.NoError(t, err)
	require.NoError(t, store.ArchiveCustomer(ctx, res.CustomerID, true))
	require.True(t, mustCustomer(t, store, res.CustomerID).Archived)

	_, err = store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	require.False(t, mustCustomer(t, store, res.CustomerID).Archived)
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	credit, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 3, UnitAmount: dec("10")})
	require.NoError(t, err)

	paid, err := store.RecordPayment(ctx, "ana", dec("12.50"))
	require.NoError(t, err)
	require.Equal(t, credit.CustomerID, paid.CustomerID)
	require.Equal(t, "17.50", paid.Balance.StringFixed(2))

	_, err = store.RecordPayment(ctx, "ana", dec("40.00"))
	require.ErrorIs(t, err, ledger.ErrValidation)
	requireBalance(t, store, credit.CustomerID, "17.50")

	tx, err := store.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.ActionPaid, tx.Action)
	require.Equal(t, ledger.NoProduct, tx.Product)

	// Paying off exactly the balance is allowed
	paid, err = store.RecordPayment(ctx, "ANA", dec("17.50"))
	require.NoError(t, err)
	require.True(t, paid.Balance.IsZero())

	_, err = store.RecordPayment(ctx, "nobody", dec("1"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = store.RecordPayment(ctx, "ana", decimal.Zero)
	require.ErrorIs(t, err, ledger.ErrValidation)

	requireBalanceInvariant(t, store)
}

func TestUpdateTransaction(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	credit, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 2, UnitAmount: dec("10")})
	require.NoError(t, err)
	pay, err := store.RecordPayment(ctx, "ana", dec("5"))
	require.NoError(t, err)

	before, err := store.GetTransaction(ctx, credit.TransactionID)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	amount := dec("30")
	product := "brown rice"
	res, err := store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Amount: &amount, Product: &product})
	require.NoError(t, err)
	require.Equal(t, "25.00", res.Balance.StringFixed(2))

	after, err := store.GetTransaction(ctx, credit.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "brown rice", after.Product)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
	require.True(t, after.CreatedAt.Equal(before.CreatedAt))

	badDate := "01/03/2025"
	_, err = store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Date: &badDate})
	require.ErrorIs(t, err, ledger.ErrValidation)

	empty := ""
	_, err = store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Product: &empty})
	require.ErrorIs(t, err, ledger.ErrValidation)

	// The payment may grow up to the balance without it
	tooMuch := dec("30.01")
	_, err = store.UpdateTransaction(ctx, pay.TransactionID, TransactionUpdate{Amount: &tooMuch})
	require.ErrorIs(t, err, ledger.ErrValidation)
	exact := dec("30")
	res, err = store.UpdateTransaction(ctx, pay.TransactionID, TransactionUpdate{Amount: &exact})
	require.NoError(t, err)
	require.True(t, res.Balance.IsZero())

	_, err = store.UpdateTransaction(ctx, "missing", TransactionUpdate{})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	requireBalanceInvariant(t, store)
}

func TestUpdateTransaction_CreditAmountFollowsQuantityAndUnit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	credit, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 3, UnitAmount: dec("10")})
	require.NoError(t, err)

	qty := int64(5)
	res, err := store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, "50.00", res.Balance.StringFixed(2))
	tx, err := store.GetTransaction(ctx, credit.TransactionID)
	require.NoError(t, err)
	require.EqualValues(t, 5, tx.Quantity)
	require.Equal(t, "50", tx.Amount.String())

	unit := dec("2.50")
	res, err = store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{UnitAmount: &unit})
	require.NoError(t, err)
	require.Equal(t, "12.50", res.Balance.StringFixed(2))

	qty = 2
	unit = dec("4")
	res, err = store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Quantity: &qty, UnitAmount: &unit})
	require.NoError(t, err)
	require.Equal(t, "8.00", res.Balance.StringFixed(2))

	// A total amount cannot be mixed with quantity or unit
	total := dec("9")
	_, err = store.UpdateTransaction(ctx, credit.TransactionID, TransactionUpdate{Quantity: &qty, Amount: &total})
	require.ErrorIs(t, err, ledger.ErrValidation)

	pay, err := store.RecordPayment(ctx, "ana", dec("1"))
	require.NoError(t, err)
	_, err = store.UpdateTransaction(ctx, pay.TransactionID, TransactionUpdate{UnitAmount: &unit})
	require.ErrorIs(t, err, ledger.ErrValidation)

	requireBalanceInvariant(t, store)
}

func TestUpdateTransaction_SwitchAction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	_, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("20")})
	require.NoError(t, err)
	second, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "oil", Quantity: 1, UnitAmount: dec("5")})
	require.NoError(t, err)

	paid := ledger.ActionPaid
	res, err := store.UpdateTransaction(ctx, second.TransactionID, TransactionUpdate{Action: &paid})
	require.NoError(t, err)
	require.Equal(t, "15.00", res.Balance.StringFixed(2))

	// A payment larger than the rest of the balance is refused
	big := dec("25")
	_, err = store.UpdateTransaction(ctx, second.TransactionID, TransactionUpdate{Amount: &big})
	require.ErrorIs(t, err, ledger.ErrValidation)

	credit := ledger.ActionCreditAdded
	res, err = store.UpdateTransaction(ctx, second.TransactionID, TransactionUpdate{Action: &credit})
	require.NoError(t, err)
	require.Equal(t, "25.00", res.Balance.StringFixed(2))

	penalty := ledger.ActionOverduePenalty
	_, err = store.UpdateTransaction(ctx, second.TransactionID, TransactionUpdate{Action: &penalty})
	require.ErrorIs(t, err, ledger.ErrValidation)

	requireBalanceInvariant(t, store)
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	first, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("10")})
	require.NoError(t, err)
	_, err = store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "salt", Quantity: 1, UnitAmount: dec("4")})
	require.NoError(t, err)

	res, err := store.DeleteTransaction(ctx, first.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "4.00", res.Balance.StringFixed(2))

	tomb, err := store.GetTransaction(ctx, first.TransactionID)
	require.NoError(t, err)
	require.True(t, tomb.IsDeleted)
	require.Equal(t, ledger.SyncPending, tomb.SyncStatus)

	history, err := store.ListTransactions(ctx, first.CustomerID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "salt", history[0].Product)

	_, err = store.DeleteTransaction(ctx, first.TransactionID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	requireBalanceInvariant(t, store)
}

func TestListTransactions_Order(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	late, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "late", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "early", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)

	// Back-date the second entry by editing it
	txs, err := store.ListTransactions(ctx, late.CustomerID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	date := "2025-02-20"
	_, err = store.UpdateTransaction(ctx, txs[1].ID, TransactionUpdate{Date: &date})
	require.NoError(t, err)

	txs, err = store.ListTransactions(ctx, late.CustomerID)
	require.NoError(t, err)
	require.Equal(t, "early", txs[0].Product)
	require.Equal(t, "late", txs[1].Product)
}

func TestUpdateCustomerProfile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	ana, err := store.AddCredit(ctx, CreditInput{CustomerName: "ana", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)
	_, err = store.AddCredit(ctx, CreditInput{CustomerName: "bo", Product: "rice", Quantity: 1, UnitAmount: dec("1")})
	require.NoError(t, err)

	name := "Ana Maria"
	phone := "+1 555 0100"
	c, err := store.UpdateCustomerProfile(ctx, ana.CustomerID, ProfileUpdate{Name: &name, Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "Ana Maria", c.DisplayName)
	require.Equal(t, "ana maria", c.NormalizedKey)
	require.Equal(t, "+1 555 0100", c.Phone)
	require.Equal(t, "1.00", c.Balance.StringFixed(2))

	taken := "BO"
	_, err = store.UpdateCustomerProfile(ctx, ana.CustomerID, ProfileUpdate{Name: &taken})
	require.ErrorIs(t, err, ledger.ErrValidation)

	noPhone := ""
	c, err = store.UpdateCustomerProfile(ctx, ana.CustomerID, ProfileUpdate{Phone: &noPhone})
	require.NoError(t, err)
	require.Empty(t, c.Phone)

	var phoneCol *string
	require.NoError(t, store.DB().QueryRow(`SELECT phone_number FROM customers WHERE id = ?`, ana.CustomerID).Scan(&phoneCol))
	require.Nil(t, phoneCol)

	_, err = store.UpdateCustomerProfile(ctx, "missing", ProfileUpdate{Name: &name})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListCustomers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	for _, name := range []string{"carla", "Ana", "bo", "50%_off"} {
		_, err := store.AddCredit(ctx, CreditInput{CustomerName: name, Product: "rice", Quantity: 1, UnitAmount: dec("1")})
		require.NoError(t, err)
	}

	all, err := store.ListCustomers(ctx, CustomerFilter{})
	require.NoError(t, err)
	var names []string
	for _, c := range all {
		names = append(names, c.DisplayName)
	}
	require.Equal(t, []string{"50%_off", "Ana", "bo", "carla"}, names)
	require.Equal(t, "2025-03-01 09:00", all[1].LastTransaction)

	found, err := store.ListCustomers(ctx, CustomerFilter{Search: "AR"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "carla", found[0].DisplayName)

	// LIKE wildcards in the query are literal
	found, err = store.ListCustomers(ctx, CustomerFilter{Search: "%_"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	bo, err := store.FindCustomerByKey(ctx, "bo")
	require.NoError(t, err)
	// Customers who still owe cannot be archived
	require.ErrorIs(t, store.ArchiveCustomer(ctx, bo.ID, true), ledger.ErrValidation)
	require.False(t, mustCustomer(t, store, bo.ID).Archived)
	_, err = store.RecordPayment(ctx, "bo", dec("1"))
	require.NoError(t, err)
	require.NoError(t, store.ArchiveCustomer(ctx, bo.ID, true))

	active, err := store.ListCustomers(ctx, CustomerFilter{})
	require.NoError(t, err)
	require.Len(t, active, 3)
	withArchived, err := store.ListCustomers(ctx, CustomerFilter{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, withArchived, 4)

	require.ErrorIs(t, store.ArchiveCustomer(ctx, "missing", true), ledger.ErrNotFound)
}
