// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/shopspring/decimal"
)

// PenaltyConfig configures the overdue penalty rule.
type PenaltyConfig struct {
	Threshold time.Duration   // age of the oldest credit before a penalty applies
	Amount    decimal.Decimal // fixed penalty amount
}

// DefaultPenaltyConfig charges 50.00 on debts older than 30 days.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{
		Threshold: 30 * 24 * time.Hour,
		Amount:    decimal.NewFromInt(50),
	}
}

// PenaltyScheduler appends OverduePenalty entries to customers with aged debt.
type PenaltyScheduler struct {
	store  *Store
	config PenaltyConfig
	logger *slog.Logger
}

// NewPenaltyScheduler creates a scheduler over store.
func NewPenaltyScheduler(store *Store, config PenaltyConfig, logger *slog.Logger) (*PenaltyScheduler, error) {
	if config.Threshold <= 0 {
		return nil, fmt.Errorf("penalty threshold must be positive")
	}
	if !config.Amount.IsPositive() {
		return nil, fmt.Errorf("penalty amount must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PenaltyScheduler{store: store, config: config, logger: logger}, nil
}

// Run applies penalties every interval until ctx is done.
func (p *PenaltyScheduler) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Penalty run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce inspects every customer with a positive balance, archived ones
// included, and returns the number of penalties applied.
func (p *PenaltyScheduler) RunOnce(ctx context.Context) (int, error) {
	candidates, err := listCustomers(ctx, p.store.db, `1 = 1 ORDER BY created_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to list customers: %w", err)
	}

	applied := 0
	for _, c := range candidates {
		if !c.Balance.IsPositive() {
			continue
		}
		ok, err := p.applyTo(ctx, c.ID)
		if err != nil {
			return applied, fmt.Errorf("penalty for customer %s: %w", c.ID, err)
		}
		if ok {
			applied++
		}
	}
	if applied > 0 {
		p.logger.Info("Overdue penalties applied", "count", applied, "amount", p.config.Amount.StringFixed(2))
	}
	return applied, nil
}

// applyTo re-checks the rule inside the write lock so a concurrent mutation
// cannot be penalized on stale data.
func (p *PenaltyScheduler) applyTo(ctx context.Context, customerID string) (bool, error) {
	s := p.store
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, `id = ?`, customerID)
		if err != nil {
			return err
		}
		if !c.Balance.IsPositive() {
			return nil
		}

		now := s.now()
		cutoff := now.Add(-p.config.Threshold)

		var earliest, lastPenalty sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT
				(SELECT MIN(created_at) FROM transactions
				 WHERE customer_id = ? AND action = 'CreditAdded' AND is_deleted = 0),
				(SELECT MAX(date) FROM transactions
				 WHERE customer_id = ? AND action = 'OverduePenalty' AND is_deleted = 0)`,
			customerID, customerID).Scan(&earliest, &lastPenalty)
		if err != nil {
			return err
		}
		if !earliest.Valid {
			return nil
		}
		oldest, err := ledger.ParseTimestamp(earliest.String)
		if err != nil {
			return err
		}
		if !oldest.Before(cutoff) {
			return nil
		}
		if lastPenalty.Valid {
			last, err := time.ParseInLocation(ledger.DateLayout, lastPenalty.String, now.Location())
			if err != nil {
				return fmt.Errorf("bad penalty date %q: %w", lastPenalty.String, err)
			}
			if !last.Before(cutoff) {
				return nil
			}
		}

		stamp := s.stamp()
		date, clock := ledger.SplitDateTime(now)
		t := ledger.Transaction{
			ID:         newLocalID(),
			CustomerID: customerID,
			Date:       date,
			Time:       clock,
			Action:     ledger.ActionOverduePenalty,
			Product:    ledger.NoProduct,
			Amount:     p.config.Amount,
			CreatedAt:  stamp,
			UpdatedAt:  stamp,
			SyncStatus: ledger.SyncPending,
		}
		if err := writeTransaction(ctx, tx, t); err != nil {
			return err
		}
		if _, _, err := s.recomputeBalanceTx(ctx, tx, customerID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
