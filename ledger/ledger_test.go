package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Millisecond)

	require.Equal(t, TakeRemote, Resolve(t1, t2))
	require.Equal(t, KeepLocal, Resolve(t2, t1))
	require.Equal(t, KeepLocal, Resolve(t1, t1), "ties keep local")

	// Same instant in another zone is still a tie
	require.Equal(t, KeepLocal, Resolve(t1, t1.In(time.FixedZone("x", 3*3600))))
}

func TestFoldBalance(t *testing.T) {
	txs := []Transaction{
		{Action: ActionCreditAdded, Amount: decimal.RequireFromString("30")},
		{Action: ActionPaid, Amount: decimal.RequireFromString("12.50")},
		{Action: ActionOverduePenalty, Amount: decimal.RequireFromString("50")},
		{Action: ActionCreditAdded, Amount: decimal.RequireFromString("1000"), IsDeleted: true},
	}
	require.True(t, decimal.RequireFromString("67.50").Equal(FoldBalance(txs)))

	// Order independent
	reversed := []Transaction{txs[3], txs[2], txs[1], txs[0]}
	require.True(t, FoldBalance(txs).Equal(FoldBalance(reversed)))

	require.True(t, FoldBalance(nil).IsZero())
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6, time.FixedZone("x", -5*3600))
	s := FormatTimestamp(ts)
	require.Equal(t, "2025-01-02T08:04:05.000000006Z", s)

	parsed, err := ParseTimestamp(s)
	require.NoError(t, err)
	require.True(t, parsed.Equal(ts))

	// Fixed width keeps string order aligned with time order
	later := FormatTimestamp(ts.Add(time.Second))
	require.Less(t, s, later)

	zero, err := ParseTimestamp("")
	require.NoError(t, err)
	require.True(t, zero.IsZero())
	require.Equal(t, "", FormatTimestamp(time.Time{}))

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}

func TestValidateDateTime(t *testing.T) {
	require.NoError(t, ValidateDate("2025-02-28"))
	require.NoError(t, ValidateTime("09:05"))

	for _, bad := range []string{"2025-2-28", "2025-02-30", "28/02/2025", ""} {
		require.ErrorIs(t, ValidateDate(bad), ErrValidation, bad)
	}
	for _, bad := range []string{"9:05", "24:00", "09:60", "0905"} {
		require.ErrorIs(t, ValidateTime(bad), ErrValidation, bad)
	}
}

func TestParseInput(t *testing.T) {
	q, err := ParseQuantity(" 3 ")
	require.NoError(t, err)
	require.EqualValues(t, 3, q)

	_, err = ParseQuantity("2.5")
	require.ErrorIs(t, err, ErrValidation)
	_, err = ParseQuantity("0")
	require.ErrorIs(t, err, ErrValidation)

	amt, err := ParseAmount("amount", "12.50")
	require.NoError(t, err)
	require.Equal(t, "12.5", amt.String())

	_, err = ParseAmount("amount", "-1")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "amount", verr.Field)
	require.Equal(t, "amount: must not be negative", err.Error())

	_, err = ParseAmount("amount", "ten")
	require.ErrorIs(t, err, ErrValidation)
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "ana maria", NormalizeName("  Ana Maria "))
	require.Equal(t, NormalizeName("Jos\u00e9"), NormalizeName("JOSE\u0301"))
	require.True(t, ActionPaid.Valid())
	require.False(t, Action("Refund").Valid())
}
