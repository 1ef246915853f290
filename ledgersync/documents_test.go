package ledgersync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCustomerDocument_RoundTrip(t *testing.T) {
	created := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	c := ledger.Customer{
		ID:            "local-1",
		NormalizedKey: "ana",
		DisplayName:   "Ana",
		Phone:         "555-0100",
		Balance:       decimal.RequireFromString("17.50"),
		CreatedAt:     created,
		UpdatedAt:     created.Add(time.Minute),
	}

	raw, err := json.Marshal(NewCustomerDocument(c, "desktop", created.Add(time.Hour)))
	require.NoError(t, err)

	doc, err := DecodeCustomer(raw)
	require.NoError(t, err)
	require.Equal(t, "local-1", doc.LocalID)
	require.Equal(t, "desktop", doc.Source)
	require.Equal(t, "local-1", LocalIDOf(raw))

	back := doc.Customer()
	require.Equal(t, "ana", back.NormalizedKey)
	require.Equal(t, "Ana", back.DisplayName)
	require.Equal(t, "555-0100", back.Phone)
	require.True(t, back.Balance.Equal(c.Balance))
	require.True(t, back.UpdatedAt.Equal(c.UpdatedAt))
	require.True(t, back.LastSync.Equal(created.Add(time.Hour)))
}

func TestCustomerDocument_NullPhoneIsAlwaysSent(t *testing.T) {
	doc := NewCustomerDocument(ledger.Customer{NormalizedKey: "bo", DisplayName: "Bo"}, "", time.Time{})
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Equal(t, "null", string(fields["phone_number"]))
	require.NotContains(t, fields, "last_sync")
}

func TestDecodeCustomer_MissingFields(t *testing.T) {
	_, err := DecodeCustomer(json.RawMessage(`{"name":"ana","updated_at":"2025-01-01T00:00:00Z"}`))
	require.ErrorIs(t, err, ErrInvalidDocument)
	require.Contains(t, err.Error(), "display_name")
	require.Contains(t, err.Error(), "balance")
	require.Contains(t, err.Error(), "created_at")

	_, err = DecodeCustomer(json.RawMessage(`[1,2]`))
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestDecodeTransaction(t *testing.T) {
	valid := `{
		"customer_remote_id": "c-1",
		"date": "2025-05-01",
		"time": "09:30",
		"action": "CreditAdded",
		"product": "rice",
		"quantity": 3,
		"amount": "30",
		"co_borrower": null,
		"created_at": "2025-05-01T09:30:00Z",
		"updated_at": "2025-05-01T09:30:00Z",
		"is_deleted": false
	}`
	doc, err := DecodeTransaction(json.RawMessage(valid))
	require.NoError(t, err)
	tx := doc.Transaction()
	require.Equal(t, ledger.ActionCreditAdded, tx.Action)
	require.EqualValues(t, 3, tx.Quantity)
	require.True(t, decimal.NewFromInt(30).Equal(tx.Amount))
	require.Empty(t, tx.CoBorrower)

	// Tombstones only need the deleted flag
	_, err = DecodeTransaction(json.RawMessage(`{"is_deleted": true}`))
	require.NoError(t, err)

	cases := map[string]string{
		"missing amount": `{"customer_remote_id":"c","date":"2025-05-01","time":"09:30","action":"Paid","created_at":"2025-05-01T09:30:00Z","updated_at":"2025-05-01T09:30:00Z"}`,
		"bad action":     `{"customer_remote_id":"c","date":"2025-05-01","time":"09:30","action":"Refund","amount":1,"created_at":"2025-05-01T09:30:00Z","updated_at":"2025-05-01T09:30:00Z"}`,
		"negative":       `{"customer_remote_id":"c","date":"2025-05-01","time":"09:30","action":"Paid","amount":-1,"created_at":"2025-05-01T09:30:00Z","updated_at":"2025-05-01T09:30:00Z"}`,
		"bad date":       `{"customer_remote_id":"c","date":"1/5/2025","time":"09:30","action":"Paid","amount":1,"created_at":"2025-05-01T09:30:00Z","updated_at":"2025-05-01T09:30:00Z"}`,
		"no customer":    `{"date":"2025-05-01","time":"09:30","action":"Paid","amount":1,"created_at":"2025-05-01T09:30:00Z","updated_at":"2025-05-01T09:30:00Z"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransaction(json.RawMessage(raw))
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestTransactionDocument_ProductDefault(t *testing.T) {
	doc := NewTransactionDocument(ledger.Transaction{
		ID:     "t-1",
		Date:   "2025-05-01",
		Time:   "10:00",
		Action: ledger.ActionPaid,
		Amount: decimal.RequireFromString("12.5"),
	}, "c-1", "mobile", time.Time{})
	require.Equal(t, "c-1", doc.CustomerRemoteID)
	require.Nil(t, doc.CoBorrower)
	require.Equal(t, ledger.NoProduct, doc.Transaction().Product)
}

func TestValidateDocument_UnknownCollection(t *testing.T) {
	require.ErrorIs(t, ValidateDocument("orders", json.RawMessage(`{}`)), ErrUnknownCollection)
	_, err := ParseCollection("orders")
	require.ErrorIs(t, err, ErrUnknownCollection)
}
