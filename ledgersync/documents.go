// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
)

// CustomerDocument is the schema of a document in the customers collection.
type CustomerDocument struct {
	Name        string              `json:"name"`
	DisplayName string              `json:"display_name"`
	PhoneNumber *string             `json:"phone_number"`
	Balance     decimal.NullDecimal `json:"balance"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	LocalID     string              `json:"local_id,omitempty"`
	LastSync    *time.Time          `json:"last_sync,omitempty"`
	Source      string              `json:"source,omitempty"`
}

// Validate rejects documents missing required fields.
func (d *CustomerDocument) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.DisplayName) == "" {
		missing = append(missing, "display_name")
	}
	if !d.Balance.Valid {
		missing = append(missing, "balance")
	}
	if d.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if d.UpdatedAt.IsZero() {
		missing = append(missing, "updated_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: customer missing %s", ErrInvalidDocument, strings.Join(missing, ", "))
	}
	return nil
}

// Customer converts the document into a local entity without ids or sync state.
func (d *CustomerDocument) Customer() ledger.Customer {
	c := ledger.Customer{
		NormalizedKey: ledger.NormalizeName(d.Name),
		DisplayName:   strings.TrimSpace(d.DisplayName),
		Balance:       d.Balance.Decimal,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.PhoneNumber != nil {
		c.Phone = strings.TrimSpace(*d.PhoneNumber)
	}
	if d.LastSync != nil {
		c.LastSync = d.LastSync.UTC()
	}
	return c
}

// NewCustomerDocument builds the document pushed for c.
func NewCustomerDocument(c ledger.Customer, source string, syncedAt time.Time) CustomerDocument {
	d := CustomerDocument{
		Name:        c.NormalizedKey,
		DisplayName: c.DisplayName,
		Balance:     decimal.NewNullDecimal(c.Balance),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
		LocalID:     c.ID,
		Source:      source,
	}
	if c.Phone != "" {
		phone := c.Phone
		d.PhoneNumber = &phone
	}
	if !syncedAt.IsZero() {
		ts := syncedAt.UTC()
		d.LastSync = &ts
	}
	return d
}

// DecodeCustomer parses and validates a customers document.
func DecodeCustomer(raw json.RawMessage) (CustomerDocument, error) {
	var d CustomerDocument
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return d, d.Validate()
}

// TransactionDocument is the schema of a document in the transactions collection.
// A tombstone only needs IsDeleted set.
type TransactionDocument struct {
	CustomerRemoteID string              `json:"customer_remote_id"`
	Date             string              `json:"date"`
	Time             string              `json:"time"`
	Action           ledger.Action       `json:"action"`
	Product          string              `json:"product"`
	Quantity         int64               `json:"quantity"`
	Amount           decimal.NullDecimal `json:"amount"`
	CoBorrower       *string             `json:"co_borrower"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	LocalID          string              `json:"local_id,omitempty"`
	IsDeleted        bool                `json:"is_deleted"`
	LastSync         *time.Time          `json:"last_sync,omitempty"`
	Source           string              `json:"source,omitempty"`
}

// Validate rejects live documents missing required fields or carrying malformed values.
func (d *TransactionDocument) Validate() error {
	if d.IsDeleted {
		return nil
	}
	var missing []string
	if d.CustomerRemoteID == "" {
		missing = append(missing, "customer_remote_id")
	}
	if d.Date == "" {
		missing = append(missing, "date")
	}
	if d.Time == "" {
		missing = append(missing, "time")
	}
	if d.Action == "" {
		missing = append(missing, "action")
	}
	if !d.Amount.Valid {
		missing = append(missing, "amount")
	}
	if d.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if d.UpdatedAt.IsZero() {
		missing = append(missing, "updated_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: transaction missing %s", ErrInvalidDocument, strings.Join(missing, ", "))
	}
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDocument, d.Action)
	}
	if d.Amount.Decimal.IsNegative() || d.Quantity < 0 {
		return fmt.Errorf("%w: negative amount or quantity", ErrInvalidDocument)
	}
	if ledger.ValidateDate(d.Date) != nil || ledger.ValidateTime(d.Time) != nil {
		return fmt.Errorf("%w: malformed date %q or time %q", ErrInvalidDocument, d.Date, d.Time)
	}
	return nil
}

// Transaction converts the document into a local entity without ids or sync state.
func (d *TransactionDocument) Transaction() ledger.Transaction {
	tx := ledger.Transaction{
		Date:      d.Date,
		Time:      d.Time,
		Action:    d.Action,
		Product:   d.Product,
		Quantity:  d.Quantity,
		Amount:    d.Amount.Decimal,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		IsDeleted: d.IsDeleted,
	}
	if tx.Product == "" {
		tx.Product = ledger.NoProduct
	}
	if d.CoBorrower != nil {
		tx.CoBorrower = *d.CoBorrower
	}
	if d.LastSync != nil {
		tx.LastSync = d.LastSync.UTC()
	}
	return tx
}

// NewTransactionDocument builds the document pushed for tx, owned by the
// customer document customerRemoteID.
func NewTransactionDocument(tx ledger.Transaction, customerRemoteID, source string, syncedAt time.Time) TransactionDocument {
	d := TransactionDocument{
		CustomerRemoteID: customerRemoteID,
		Date:             tx.Date,
		Time:             tx.Time,
		Action:           tx.Action,
		Product:          tx.Product,
		Quantity:         tx.Quantity,
		Amount:           decimal.NewNullDecimal(tx.Amount),
		CreatedAt:        tx.CreatedAt.UTC(),
		UpdatedAt:        tx.UpdatedAt.UTC(),
		LocalID:          tx.ID,
		IsDeleted:        tx.IsDeleted,
		Source:           source,
	}
	if tx.CoBorrower != "" {
		cb := tx.CoBorrower
		d.CoBorrower = &cb
	}
	if !syncedAt.IsZero() {
		ts := syncedAt.UTC()
		d.LastSync = &ts
	}
	return d
}

// DecodeTransaction parses and validates a transactions document.
func DecodeTransaction(raw json.RawMessage) (TransactionDocument, error) {
	var d TransactionDocument
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return d, d.Validate()
}

// LocalIDOf extracts the local_id hint from any document payload.
func LocalIDOf(raw json.RawMessage) string {
	var hint struct {
		LocalID string `json:"local_id"`
	}
	if err := json.Unmarshal(raw, &hint); err != nil {
		return ""
	}
	return hint.LocalID
}

// ValidateDocument decodes raw according to c and validates it.
func ValidateDocument(c Collection, raw json.RawMessage) error {
	switch c {
	case CollectionCustomers:
		_, err := DecodeCustomer(raw)
		return err
	case CollectionTransactions:
		_, err := DecodeTransaction(raw)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
}
