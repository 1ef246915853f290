// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

// pushCustomers writes pending customers to the remote store. A connectivity
// error aborts the pass; any other error skips just that customer.
func (c *Client) pushCustomers(ctx context.Context, res *CollectionResult) (int, error) {
	pending, err := c.store.ListPendingCustomers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to select pending customers: %w", err)
	}

	for _, cust := range pending {
		syncedAt := c.store.now().UTC()
		data, err := json.Marshal(ledgersync.NewCustomerDocument(cust, c.config.Source, syncedAt))
		if err != nil {
			return res.Pushed, fmt.Errorf("failed to encode customer %s: %w", cust.ID, err)
		}

		remoteID, err := c.upsertRemote(ctx, ledgersync.CollectionCustomers, cust.ID, cust.RemoteID, data)
		if err != nil {
			if ledgersync.IsConnectivity(err) {
				return res.Pushed, err
			}
			res.Failed++
			c.handleRejectedPush(ctx, "customers", cust.ID, cust.RemoteID, err)
			continue
		}

		if err := c.store.markSynced(ctx, "customers", cust.ID, remoteID, cust.UpdatedAt, syncedAt); err != nil {
			return res.Pushed, err
		}
		res.Pushed++
	}
	return res.Pushed, nil
}

// pushTransactions writes pending transactions, tombstones included, to the
// remote store. Transactions whose customer has no remote id yet are left for
// a later cycle. It also returns how many pending tombstones are older than
// TombstoneWarnAfter.
func (c *Client) pushTransactions(ctx context.Context, res *CollectionResult) (int, int, error) {
	pending, err := c.store.ListPendingTransactions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select pending transactions: %w", err)
	}

	stale := 0
	owners := make(map[string]string)
	for _, t := range pending {
		if t.IsDeleted && c.config.TombstoneWarnAfter > 0 && c.store.now().Sub(t.UpdatedAt) > c.config.TombstoneWarnAfter {
			stale++
			c.logger.Warn("Deletion not yet propagated to remote store",
				"transaction_id", t.ID, "deleted_at", t.UpdatedAt)
		}

		// Deleted before it ever reached the remote store: nothing to propagate
		if t.IsDeleted && t.RemoteID == "" {
			if err := c.store.settleTombstone(ctx, t.ID); err != nil {
				return res.Pushed, stale, err
			}
			continue
		}

		ownerRemoteID, ok := owners[t.CustomerID]
		if !ok {
			owner, err := c.store.GetCustomer(ctx, t.CustomerID)
			if err != nil {
				return res.Pushed, stale, fmt.Errorf("owner of transaction %s: %w", t.ID, err)
			}
			ownerRemoteID = owner.RemoteID
			owners[t.CustomerID] = ownerRemoteID
		}
		if ownerRemoteID == "" {
			res.Skipped++
			c.logger.Debug("Deferred transaction push, customer has no remote id", "transaction_id", t.ID, "customer_id", t.CustomerID)
			continue
		}

		syncedAt := c.store.now().UTC()
		data, err := json.Marshal(ledgersync.NewTransactionDocument(t, ownerRemoteID, c.config.Source, syncedAt))
		if err != nil {
			return res.Pushed, stale, fmt.Errorf("failed to encode transaction %s: %w", t.ID, err)
		}

		remoteID, err := c.upsertRemote(ctx, ledgersync.CollectionTransactions, t.ID, t.RemoteID, data)
		if err != nil {
			if ledgersync.IsConnectivity(err) {
				return res.Pushed, stale, err
			}
			// A tombstone for a document the remote no longer has is settled
			if t.IsDeleted && ledgersync.IsNotFound(err) {
				if err := c.store.settleTombstone(ctx, t.ID); err != nil {
					return res.Pushed, stale, err
				}
				continue
			}
			res.Failed++
			c.handleRejectedPush(ctx, "transactions", t.ID, t.RemoteID, err)
			continue
		}

		if err := c.store.markSynced(ctx, "transactions", t.ID, remoteID, t.UpdatedAt, syncedAt); err != nil {
			return res.Pushed, stale, err
		}
		res.Pushed++
	}
	return res.Pushed, stale, nil
}

// upsertRemote merges into an existing document or creates a new one and
// returns the document id.
func (c *Client) upsertRemote(ctx context.Context, coll ledgersync.Collection, localID, remoteID string, data json.RawMessage) (string, error) {
	if remoteID != "" {
		if err := c.remote.Merge(ctx, coll, remoteID, data); err != nil {
			return "", err
		}
		return remoteID, nil
	}
	return c.remote.Create(ctx, coll, localID, data)
}

// handleRejectedPush logs a per-record failure. When the remote document
// vanished, the stale mapping is dropped so the next cycle re-creates it.
func (c *Client) handleRejectedPush(ctx context.Context, table, id, remoteID string, err error) {
	c.logger.Warn("Remote write rejected, record stays pending", "table", table, "id", id, "error", err)
	if remoteID == "" || !ledgersync.IsNotFound(err) {
		return
	}
	if clearErr := c.store.clearRemoteID(ctx, table, id, remoteID); clearErr != nil {
		c.logger.Error("Failed to clear stale remote id", "table", table, "id", id, "error", clearErr)
	}
}

// markSynced records the remote id and flips the row to synced, unless the
// row was written again after it was selected for push. In that case only the
// remote id is kept and the row stays pending.
func (s *Store) markSynced(ctx context.Context, table, id, remoteID string, selectedUpdatedAt, syncedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE `+table+`
			SET remote_id   = COALESCE(?, remote_id),
			    last_sync   = CASE WHEN updated_at = ? THEN ? ELSE last_sync END,
			    sync_status = CASE WHEN updated_at = ? THEN 'synced' ELSE sync_status END
			WHERE id = ?`,
			nullString(remoteID), ledger.FormatTimestamp(selectedUpdatedAt), ledger.FormatTimestamp(syncedAt),
			ledger.FormatTimestamp(selectedUpdatedAt), id)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s synced: %w", table, id, mapSQLiteError(err))
		}
		return nil
	})
}

// clearRemoteID forgets a remote id that no longer resolves. Transactions of a
// re-created customer are re-queued so their documents learn the new owner id.
func (s *Store) clearRemoteID(ctx context.Context, table, id, remoteID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET remote_id = NULL, sync_status = 'pending' WHERE id = ? AND remote_id = ?`, id, remoteID)
		if err != nil || table != "customers" {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET sync_status = 'pending' WHERE customer_id = ? AND remote_id IS NOT NULL`, id)
		return err
	})
}

// settleTombstone drops a local tombstone that has nothing left to propagate.
func (s *Store) settleTombstone(ctx context.Context, id string) error {
	err := s.HardDeleteTransaction(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	return err
}
