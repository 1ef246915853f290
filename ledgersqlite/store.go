// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledgersqlite is the local, offline-first side of the ledger: the
// SQLite entity store, the mutation operations front ends call, the overdue
// penalty scheduler and the client that reconciles the store with a remote
// document store.
package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/mobiletoly/go-ledgersync/ledger"
)

// Store owns the customers and transactions tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	writeMu   sync.Mutex // Serialize write operations to prevent SQLite locking issues
	lastStamp time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens or creates the database at path and prepares the schema.
//
// The connection is configured with WAL journaling, NORMAL synchronous mode,
// a 5 second busy timeout and foreign key enforcement.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New prepares an already opened database.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	// SQLite only supports one writer at a time; a single connection also
	// keeps ":memory:" databases alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database for read-only inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction while holding the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapSQLiteError(err))
	}
	return nil
}

// stamp returns a UTC write timestamp strictly greater than the previous one.
// Callers must hold writeMu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// observeStamp makes later local stamps exceed t, a timestamp written by
// another replica, even when the local clock lags. Callers must hold writeMu.
func (s *Store) observeStamp(t time.Time) {
	if t.After(s.lastStamp) {
		s.lastStamp = t.UTC()
	}
}

// mapSQLiteError folds constraint failures into ledger.ErrConstraint.
func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ledger.ErrConstraint, err)
	}
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
