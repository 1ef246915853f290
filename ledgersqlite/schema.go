// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"database/sql"
	"fmt"
)

// initializeDatabase applies pragmas and creates the entity tables.
func initializeDatabase(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	statements := []string{
		// Timestamps are fixed-width UTC text, money is canonical decimal text
		`CREATE TABLE IF NOT EXISTS customers (
			id             TEXT PRIMARY KEY,
			remote_id      TEXT UNIQUE,
			normalized_key TEXT NOT NULL UNIQUE,
			display_name   TEXT NOT NULL,
			phone_number   TEXT,
			balance        TEXT NOT NULL DEFAULT '0',
			archived       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			last_sync      TEXT,
			sync_status    TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_customers_sync_status ON customers(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_customers_display_name ON customers(display_name)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			remote_id   TEXT UNIQUE,
			customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			date        TEXT NOT NULL,
			time        TEXT NOT NULL,
			action      TEXT NOT NULL CHECK (action IN ('CreditAdded','Paid','OverduePenalty')),
			product     TEXT NOT NULL DEFAULT 'N/A',
			quantity    INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			amount      TEXT NOT NULL,
			co_borrower TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			last_sync   TEXT,
			is_deleted  INTEGER NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, date, time)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sync_status ON transactions(sync_status)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
