// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
)

const customerColumns = `id, remote_id, normalized_key, display_name, phone_number, balance,
	archived, created_at, updated_at, last_sync, sync_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (ledger.Customer, error) {
	var (
		c                             ledger.Customer
		remoteID, phone, lastSync     sql.NullString
		balance, createdAt, updatedAt string
		archived                      int
		status                        string
	)
	if err := row.Scan(&c.ID, &remoteID, &c.NormalizedKey, &c.DisplayName, &phone, &balance,
		&archived, &createdAt, &updatedAt, &lastSync, &status); err != nil {
		return c, err
	}
	var err error
	if c.Balance, err = decimal.NewFromString(balance); err != nil {
		return c, fmt.Errorf("customer %s: bad balance %q: %w", c.ID, balance, err)
	}
	if c.CreatedAt, err = ledger.ParseTimestamp(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = ledger.ParseTimestamp(updatedAt); err != nil {
		return c, err
	}
	if c.LastSync, err = ledger.ParseTimestamp(lastSync.String); err != nil {
		return c, err
	}
	c.RemoteID = remoteID.String
	c.Phone = phone.String
	c.Archived = archived != 0
	c.SyncStatus = ledger.SyncStatus(status)
	return c, nil
}

func getCustomer(ctx context.Context, q queryer, where string, args ...any) (ledger.Customer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+where, args...)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ledger.ErrNotFound
	}
	return c, err
}

func listCustomers(ctx context.Context, q queryer, where string, args ...any) ([]ledger.Customer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// writeCustomer inserts or fully replaces a customer row exactly as given.
func writeCustomer(ctx context.Context, ex execer, c ledger.Customer) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_id      = excluded.remote_id,
			normalized_key = excluded.normalized_key,
			display_name   = excluded.display_name,
			phone_number   = excluded.phone_number,
			balance        = excluded.balance,
			archived       = excluded.archived,
			created_at     = excluded.created_at,
			updated_at     = excluded.updated_at,
			last_sync      = excluded.last_sync,
			sync_status    = excluded.sync_status`,
		c.ID, nullString(c.RemoteID), c.NormalizedKey, c.DisplayName, nullString(c.Phone),
		c.Balance.String(), boolInt(c.Archived), ledger.FormatTimestamp(c.CreatedAt),
		ledger.FormatTimestamp(c.UpdatedAt), nullString(ledger.FormatTimestamp(c.LastSync)), string(c.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to write customer %s: %w", c.ID, mapSQLiteError(err))
	}
	return nil
}

// GetCustomer loads a customer by local id.
func (s *Store) GetCustomer(ctx context.Context, id string) (ledger.Customer, error) {
	return getCustomer(ctx, s.db, `id = ?`, id)
}

// FindCustomerByKey looks a customer up by normalized name.
func (s *Store) FindCustomerByKey(ctx context.Context, name string) (ledger.Customer, error) {
	return getCustomer(ctx, s.db, `normalized_key = ?`, ledger.NormalizeName(name))
}

// FindCustomerByRemoteID looks a customer up by its remote document id.
func (s *Store) FindCustomerByRemoteID(ctx context.Context, remoteID string) (ledger.Customer, error) {
	return getCustomer(ctx, s.db, `remote_id = ?`, remoteID)
}

// ListPendingCustomers returns customers that need a push.
func (s *Store) ListPendingCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, s.db, `sync_status = 'pending' OR remote_id IS NULL ORDER BY created_at`)
}

// UpsertCustomer stores c as a local business write: updated_at is bumped and
// the row becomes pending. Balance is not taken from c; it is recomputed.
func (s *Store) UpsertCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	if strings.TrimSpace(c.DisplayName) == "" {
		return c, ledger.Invalid("name", "must not be empty")
	}
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	if c.NormalizedKey == "" {
		c.NormalizedKey = ledger.NormalizeName(c.DisplayName)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		existing, err := getCustomer(ctx, tx, `id = ?`, c.ID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			if c.ID == "" {
				c.ID = newLocalID()
			}
			c.CreatedAt = now
			c.RemoteID = ""
			c.Archived = false
			c.Balance = decimal.Zero
		case err != nil:
			return err
		default:
			c.CreatedAt = existing.CreatedAt
			c.RemoteID = existing.RemoteID
			c.Archived = existing.Archived
			c.LastSync = existing.LastSync
			c.Balance = existing.Balance
		}
		c.UpdatedAt = now
		c.SyncStatus = ledger.SyncPending
		if err := writeCustomer(ctx, tx, c); err != nil {
			return err
		}
		balance, _, err := s.recomputeBalanceTx(ctx, tx, c.ID)
		c.Balance = balance
		return err
	})
	return c, err
}

// CustomerSummary is a customer row as shown in a customer list.
type CustomerSummary struct {
	ledger.Customer
	LastTransaction string // "YYYY-MM-DD HH:MM" of the newest live entry, empty if none
}

// CustomerFilter narrows ListCustomers.
type CustomerFilter struct {
	Search          string // case-insensitive substring of the name
	IncludeArchived bool
}

// ListCustomers returns customers ordered by display name.
func (s *Store) ListCustomers(ctx context.Context, f CustomerFilter) ([]CustomerSummary, error) {
	query := `SELECT ` + prefixed("c", customerColumns) + `,
			(SELECT t.date || ' ' || t.time FROM transactions t
			 WHERE t.customer_id = c.id AND t.is_deleted = 0
			 ORDER BY t.date DESC, t.time DESC LIMIT 1)
		FROM customers c
		WHERE (? OR c.archived = 0)`
	args := []any{f.IncludeArchived}
	if search := ledger.NormalizeName(f.Search); search != "" {
		query += ` AND (c.normalized_key LIKE ? ESCAPE '\' OR lower(c.display_name) LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(search) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY c.display_name COLLATE NOCASE`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerSummary
	for rows.Next() {
		var last sql.NullString
		c, err := scanCustomer(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &last)...)
		}))
		if err != nil {
			return nil, err
		}
		out = append(out, CustomerSummary{Customer: c, LastTransaction: last.String})
	}
	return out, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
