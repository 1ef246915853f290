// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
)

// RecomputeBalance refolds a customer's live transactions into its balance.
func (s *Store) RecomputeBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, _, err = s.recomputeBalanceTx(ctx, tx, customerID)
		return err
	})
	return balance, err
}

// recomputeBalanceTx writes the folded balance back only when it differs from
// the stored one, so an unchanged balance never re-marks the customer pending.
// Callers must hold writeMu.
func (s *Store) recomputeBalanceTx(ctx context.Context, tx *sql.Tx, customerID string) (decimal.Decimal, bool, error) {
	c, err := getCustomer(ctx, tx, `id = ?`, customerID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("recompute balance of %s: %w", customerID, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT action, amount FROM transactions WHERE customer_id = ? AND is_deleted = 0`, customerID)
	if err != nil {
		return decimal.Zero, false, err
	}
	var live []ledger.Transaction
	for rows.Next() {
		var action, amount string
		if err := rows.Scan(&action, &amount); err != nil {
			rows.Close()
			return decimal.Zero, false, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			rows.Close()
			return decimal.Zero, false, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		live = append(live, ledger.Transaction{Action: ledger.Action(action), Amount: d})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, false, err
	}

	balance := ledger.FoldBalance(live)
	if balance.Equal(c.Balance) {
		return c.Balance, false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE customers SET balance = ?, updated_at = ?, sync_status = 'pending' WHERE id = ?`,
		balance.String(), ledger.FormatTimestamp(s.stamp()), customerID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to store balance of %s: %w", customerID, err)
	}
	return balance, true, nil
}
