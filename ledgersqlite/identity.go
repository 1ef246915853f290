// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

// ErrDuplicateDocument is reported when an inbound document would map onto a
// local row already bound to a different remote document.
var ErrDuplicateDocument = errors.New("document duplicates an already bound local row")

func newLocalID() string {
	return uuid.NewString()
}

// Match tells how an inbound document was mapped to a local row.
type Match int

const (
	// MatchNone means no local row corresponds; the caller mints one.
	MatchNone Match = iota
	// MatchRemoteID means the row was already bound to the document.
	MatchRemoteID
	// MatchLocalHint means the document's local_id named an unbound local row.
	MatchLocalHint
	// MatchNormalizedKey means an unbound customer had the same normalized name.
	MatchNormalizedKey
)

// ResolveInbound maps a remote document onto a local row id, binding the
// remote id to an existing unbound row where the document identifies one.
// It returns MatchNone and an empty id when a new row must be created.
// Resolving the same document twice always yields the same row.
func (s *Store) ResolveInbound(ctx context.Context, c ledgersync.Collection, remoteID string, payload []byte) (string, Match, error) {
	var (
		id    string
		match Match
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch c {
		case ledgersync.CollectionCustomers:
			doc, derr := ledgersync.DecodeCustomer(payload)
			if derr != nil {
				return derr
			}
			var cust ledger.Customer
			cust, match, err = resolveCustomerTx(ctx, tx, remoteID, doc.LocalID, ledger.NormalizeName(doc.Name))
			id = cust.ID
		case ledgersync.CollectionTransactions:
			var t ledger.Transaction
			t, match, err = resolveTransactionTx(ctx, tx, remoteID, ledgersync.LocalIDOf(payload))
			id = t.ID
		default:
			err = fmt.Errorf("%w: %q", ledgersync.ErrUnknownCollection, c)
		}
		return err
	})
	return id, match, err
}

func resolveCustomerTx(ctx context.Context, tx *sql.Tx, remoteID, localHint, key string) (ledger.Customer, Match, error) {
	c, err := getCustomer(ctx, tx, `remote_id = ?`, remoteID)
	if err == nil {
		return c, MatchRemoteID, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return c, MatchNone, err
	}

	candidates := []struct {
		match Match
		where string
		arg   string
	}{
		{MatchLocalHint, `id = ?`, localHint},
		{MatchNormalizedKey, `normalized_key = ?`, key},
	}
	for _, cand := range candidates {
		if cand.arg == "" {
			continue
		}
		c, err := getCustomer(ctx, tx, cand.where, cand.arg)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return c, MatchNone, err
		}
		if c.RemoteID != "" {
			return c, MatchNone, fmt.Errorf("%w: customer %s is bound to %s, not %s", ErrDuplicateDocument, c.ID, c.RemoteID, remoteID)
		}
		if err := bindRemoteID(ctx, tx, "customers", c.ID, remoteID); err != nil {
			return c, MatchNone, err
		}
		c.RemoteID = remoteID
		return c, cand.match, nil
	}
	return ledger.Customer{}, MatchNone, nil
}

func resolveTransactionTx(ctx context.Context, tx *sql.Tx, remoteID, localHint string) (ledger.Transaction, Match, error) {
	t, err := getTransaction(ctx, tx, `remote_id = ?`, remoteID)
	if err == nil {
		return t, MatchRemoteID, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return t, MatchNone, err
	}
	if localHint == "" {
		return ledger.Transaction{}, MatchNone, nil
	}

	t, err = getTransaction(ctx, tx, `id = ?`, localHint)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Transaction{}, MatchNone, nil
	}
	if err != nil {
		return t, MatchNone, err
	}
	if t.RemoteID != "" {
		return t, MatchNone, fmt.Errorf("%w: transaction %s is bound to %s, not %s", ErrDuplicateDocument, t.ID, t.RemoteID, remoteID)
	}
	if err := bindRemoteID(ctx, tx, "transactions", t.ID, remoteID); err != nil {
		return t, MatchNone, err
	}
	t.RemoteID = remoteID
	return t, MatchLocalHint, nil
}

// bindRemoteID records the mapping without touching updated_at or sync_status.
func bindRemoteID(ctx context.Context, tx *sql.Tx, table, id, remoteID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE `+table+` SET remote_id = ? WHERE id = ?`, remoteID, id)
	if err != nil {
		return fmt.Errorf("failed to bind %s %s to %s: %w", table, id, remoteID, mapSQLiteError(err))
	}
	return nil
}
