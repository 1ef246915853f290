// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

type pullOutcome int

const (
	pullUnchanged pullOutcome = iota
	pullApplied
	pullDeleted
	pullSkipped
)

// pullCustomers merges every remote customer document into the store. Each
// document is applied in its own local transaction. Ids of customers whose
// fields were taken from the remote are added to touched.
func (c *Client) pullCustomers(ctx context.Context, res *CollectionResult, touched map[string]struct{}) (int, error) {
	err := c.remote.Stream(ctx, ledgersync.CollectionCustomers, func(d ledgersync.Document) error {
		doc, err := ledgersync.DecodeCustomer(d.Data)
		if err != nil {
			res.Rejected++
			c.logger.Warn("Rejected remote customer", "remote_id", d.ID, "error", err)
			return nil
		}
		outcome, localID, err := c.applyCustomer(ctx, d.ID, doc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Skipped++
			c.logger.Warn("Skipped remote customer", "remote_id", d.ID, "error", err)
			return nil
		}
		if outcome == pullApplied {
			res.Pulled++
			touched[localID] = struct{}{}
		}
		return nil
	})
	return res.Pulled, err
}

func (c *Client) applyCustomer(ctx context.Context, remoteID string, doc ledgersync.CustomerDocument) (pullOutcome, string, error) {
	s := c.store
	outcome := pullUnchanged
	var localID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		incoming := doc.Customer()
		local, match, err := resolveCustomerTx(ctx, tx, remoteID, doc.LocalID, incoming.NormalizedKey)
		if err != nil {
			return err
		}

		s.observeStamp(incoming.UpdatedAt)
		incoming.RemoteID = remoteID
		incoming.SyncStatus = ledger.SyncSynced
		incoming.LastSync = s.now().UTC()
		if match == MatchNone {
			incoming.ID = newLocalID()
		} else {
			if ledger.Resolve(local.UpdatedAt, incoming.UpdatedAt) == ledger.KeepLocal {
				localID = local.ID
				return nil
			}
			incoming.ID = local.ID
			incoming.Archived = local.Archived
		}
		if err := writeCustomer(ctx, tx, incoming); err != nil {
			return err
		}
		localID = incoming.ID
		outcome = pullApplied
		return nil
	})
	return outcome, localID, err
}

// pullTransactions merges every remote transaction document into the store.
// Tombstones hard-delete their local row without a conflict check. Documents
// whose customer is not known locally yet are skipped for a later cycle. The
// balances of all touched customers are recomputed once the stream ends,
// including when it ends with an error.
func (c *Client) pullTransactions(ctx context.Context, res *CollectionResult, touched map[string]struct{}) (int, error) {
	defer c.recomputeTouched(ctx, touched)

	err := c.remote.Stream(ctx, ledgersync.CollectionTransactions, func(d ledgersync.Document) error {
		doc, err := ledgersync.DecodeTransaction(d.Data)
		if err != nil {
			res.Rejected++
			c.logger.Warn("Rejected remote transaction", "remote_id", d.ID, "error", err)
			return nil
		}
		outcome, customers, err := c.applyTransaction(ctx, d.ID, doc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Skipped++
			c.logger.Warn("Skipped remote transaction", "remote_id", d.ID, "error", err)
			return nil
		}
		for _, id := range customers {
			touched[id] = struct{}{}
		}
		switch outcome {
		case pullApplied:
			res.Pulled++
		case pullDeleted:
			res.Deleted++
		case pullSkipped:
			res.Skipped++
			c.logger.Debug("Deferred remote transaction, customer not synced locally",
				"remote_id", d.ID, "customer_remote_id", doc.CustomerRemoteID)
		}
		return nil
	})
	return res.Pulled + res.Deleted, err
}

// applyTransaction returns the ids of customers whose balance may have changed.
func (c *Client) applyTransaction(ctx context.Context, remoteID string, doc ledgersync.TransactionDocument) (pullOutcome, []string, error) {
	s := c.store
	outcome := pullUnchanged
	var customers []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if doc.IsDeleted {
			customerID, err := hardDeleteTransactionTx(ctx, tx, `remote_id = ?`, remoteID)
			if errors.Is(err, ledger.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			customers = append(customers, customerID)
			outcome = pullDeleted
			return nil
		}

		owner, err := getCustomer(ctx, tx, `remote_id = ?`, doc.CustomerRemoteID)
		if errors.Is(err, ledger.ErrNotFound) {
			outcome = pullSkipped
			return nil
		}
		if err != nil {
			return err
		}

		local, match, err := resolveTransactionTx(ctx, tx, remoteID, doc.LocalID)
		if err != nil {
			return err
		}

		incoming := doc.Transaction()
		s.observeStamp(incoming.UpdatedAt)
		incoming.CustomerID = owner.ID
		incoming.RemoteID = remoteID
		incoming.SyncStatus = ledger.SyncSynced
		incoming.LastSync = s.now().UTC()
		if match == MatchNone {
			incoming.ID = newLocalID()
		} else {
			if ledger.Resolve(local.UpdatedAt, incoming.UpdatedAt) == ledger.KeepLocal {
				return nil
			}
			incoming.ID = local.ID
			if local.CustomerID != owner.ID {
				customers = append(customers, local.CustomerID)
			}
		}
		if err := writeTransaction(ctx, tx, incoming); err != nil {
			return err
		}
		customers = append(customers, owner.ID)
		outcome = pullApplied
		return nil
	})
	return outcome, customers, err
}

// recomputeTouched refolds the balance of every touched customer and empties the set.
func (c *Client) recomputeTouched(ctx context.Context, touched map[string]struct{}) {
	for id := range touched {
		if _, err := c.store.RecomputeBalance(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			c.logger.Error("Failed to recompute balance after pull", "customer_id", id, "error", err)
		}
		delete(touched, id)
	}
}
