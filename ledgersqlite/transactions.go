// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, remote_id, customer_id, date, time, action, product, quantity, amount,
	co_borrower, created_at, updated_at, last_sync, is_deleted, sync_status`

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t                            ledger.Transaction
		remoteID, coBorrower, synced sql.NullString
		amount, createdAt, updatedAt string
		action, status               string
		deleted                      int
	)
	if err := row.Scan(&t.ID, &remoteID, &t.CustomerID, &t.Date, &t.Time, &action, &t.Product,
		&t.Quantity, &amount, &coBorrower, &createdAt, &updatedAt, &synced, &deleted, &status); err != nil {
		return t, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("transaction %s: bad amount %q: %w", t.ID, amount, err)
	}
	if t.CreatedAt, err = ledger.ParseTimestamp(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = ledger.ParseTimestamp(updatedAt); err != nil {
		return t, err
	}
	if t.LastSync, err = ledger.ParseTimestamp(synced.String); err != nil {
		return t, err
	}
	t.RemoteID = remoteID.String
	t.CoBorrower = coBorrower.String
	t.Action = ledger.Action(action)
	t.IsDeleted = deleted != 0
	t.SyncStatus = ledger.SyncStatus(status)
	return t, nil
}

func getTransaction(ctx context.Context, q queryer, where string, args ...any) (ledger.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+where, args...)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ledger.ErrNotFound
	}
	return t, err
}

func listTransactions(ctx context.Context, q queryer, where string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// writeTransaction inserts or fully replaces a transaction row exactly as given.
func writeTransaction(ctx context.Context, ex execer, t ledger.Transaction) error {
	var exists int
	err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers WHERE id = ?`, t.CustomerID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: transaction %s references missing customer %s", ledger.ErrConstraint, t.ID, t.CustomerID)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_id   = excluded.remote_id,
			customer_id = excluded.customer_id,
			date        = excluded.date,
			time        = excluded.time,
			action      = excluded.action,
			product     = excluded.product,
			quantity    = excluded.quantity,
			amount      = excluded.amount,
			co_borrower = excluded.co_borrower,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at,
			last_sync   = excluded.last_sync,
			is_deleted  = excluded.is_deleted,
			sync_status = excluded.sync_status`,
		t.ID, nullString(t.RemoteID), t.CustomerID, t.Date, t.Time, string(t.Action), t.Product,
		t.Quantity, t.Amount.String(), nullString(t.CoBorrower), ledger.FormatTimestamp(t.CreatedAt),
		ledger.FormatTimestamp(t.UpdatedAt), nullString(ledger.FormatTimestamp(t.LastSync)),
		boolInt(t.IsDeleted), string(t.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to write transaction %s: %w", t.ID, mapSQLiteError(err))
	}
	return nil
}

// GetTransaction loads a transaction by local id, deleted or not.
func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return getTransaction(ctx, s.db, `id = ?`, id)
}

// FindTransactionByRemoteID looks a transaction up by its remote document id.
func (s *Store) FindTransactionByRemoteID(ctx context.Context, remoteID string) (ledger.Transaction, error) {
	return getTransaction(ctx, s.db, `remote_id = ?`, remoteID)
}

// ListTransactions returns the live history of a customer ordered by date and time.
func (s *Store) ListTransactions(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return listTransactions(ctx, s.db,
		`customer_id = ? AND is_deleted = 0 ORDER BY date, time, created_at`, customerID)
}

// ListPendingTransactions returns transactions that need a push. Tombstones
// that already reached the remote store are not selected again.
func (s *Store) ListPendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return listTransactions(ctx, s.db, `(sync_status = 'pending' OR remote_id IS NULL)
		AND NOT (is_deleted = 1 AND sync_status = 'synced')
		ORDER BY created_at`)
}

// UpsertTransaction stores t as a local business write and recomputes the
// owner's balance. A missing owner is a constraint violation.
func (s *Store) UpsertTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, decimal.Decimal, error) {
	if !t.Action.Valid() {
		return t, decimal.Zero, ledger.Invalid("action", "unknown action %q", t.Action)
	}
	if err := ledger.ValidateDate(t.Date); err != nil {
		return t, decimal.Zero, err
	}
	if err := ledger.ValidateTime(t.Time); err != nil {
		return t, decimal.Zero, err
	}
	if err := ledger.CheckAmount("amount", t.Amount); err != nil {
		return t, decimal.Zero, err
	}
	if t.Quantity < 0 {
		return t, decimal.Zero, ledger.Invalid("quantity", "must not be negative")
	}
	if t.Product == "" {
		t.Product = ledger.NoProduct
	}

	var balance decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		existing, err := getTransaction(ctx, tx, `id = ?`, t.ID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			if t.ID == "" {
				t.ID = newLocalID()
			}
			t.CreatedAt = now
			t.RemoteID = ""
		case err != nil:
			return err
		default:
			t.CreatedAt = existing.CreatedAt
			t.RemoteID = existing.RemoteID
			t.LastSync = existing.LastSync
		}
		t.UpdatedAt = now
		t.SyncStatus = ledger.SyncPending
		if err := writeTransaction(ctx, tx, t); err != nil {
			return err
		}
		if existing.CustomerID != "" && existing.CustomerID != t.CustomerID {
			if _, _, err := s.recomputeBalanceTx(ctx, tx, existing.CustomerID); err != nil {
				return err
			}
		}
		balance, _, err = s.recomputeBalanceTx(ctx, tx, t.CustomerID)
		return err
	})
	return t, balance, err
}

// HardDeleteTransaction removes the row outright and recomputes the owner's balance.
func (s *Store) HardDeleteTransaction(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		customerID, err := hardDeleteTransactionTx(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		_, _, err = s.recomputeBalanceTx(ctx, tx, customerID)
		return err
	})
}

// hardDeleteTransactionTx deletes the matching row, returning the owner id or
// ledger.ErrNotFound. The balance is left to the caller.
func hardDeleteTransactionTx(ctx context.Context, tx *sql.Tx, where string, args ...any) (string, error) {
	t, err := getTransaction(ctx, tx, where, args...)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, t.ID); err != nil {
		return "", fmt.Errorf("failed to delete transaction %s: %w", t.ID, err)
	}
	return t.CustomerID, nil
}
