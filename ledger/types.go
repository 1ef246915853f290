// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledger holds the domain model shared by the local store and the
// remote document store: customers, their credit transactions, the balance
// fold and the last-write-wins conflict policy.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of a ledger transaction.
type Action string

const (
	ActionCreditAdded    Action = "CreditAdded"
	ActionPaid           Action = "Paid"
	ActionOverduePenalty Action = "OverduePenalty"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreditAdded, ActionPaid, ActionOverduePenalty:
		return true
	}
	return false
}

// SyncStatus tells whether the local copy matches the last confirmed remote write.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// NoProduct is stored in the product field of non-credit transactions.
const NoProduct = "N/A"

// Customer is a ledger account. Balance is derived from transactions and is
// never authored directly.
type Customer struct {
	ID            string
	RemoteID      string // empty until bound to a remote document
	NormalizedKey string
	DisplayName   string
	Phone         string // empty means not set
	Balance       decimal.Decimal
	Archived      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSync      time.Time
	SyncStatus    SyncStatus
}

// Transaction is a single credit, payment or penalty entry.
type Transaction struct {
	ID         string
	RemoteID   string
	CustomerID string
	Date       string // YYYY-MM-DD
	Time       string // HH:MM
	Action     Action
	Product    string
	Quantity   int64
	Amount     decimal.Decimal
	CoBorrower string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSync   time.Time
	IsDeleted  bool
	SyncStatus SyncStatus
}
