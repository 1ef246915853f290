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

// MutationResult is returned by every mutation operation.
type MutationResult struct {
	CustomerID    string
	TransactionID string
	Balance       decimal.Decimal
}

// CreditInput describes goods handed over on credit.
type CreditInput struct {
	CustomerName string
	CoBorrower   string
	Product      string
	Quantity     int64
	UnitAmount   decimal.Decimal
}

// AddCredit records a CreditAdded entry of UnitAmount × Quantity, creating the
// customer on first use. Crediting an archived customer brings it back.
func (s *Store) AddCredit(ctx context.Context, in CreditInput) (MutationResult, error) {
	name := strings.TrimSpace(in.CustomerName)
	product := strings.TrimSpace(in.Product)
	switch {
	case name == "":
		return MutationResult{}, ledger.Invalid("name", "must not be empty")
	case product == "":
		return MutationResult{}, ledger.Invalid("product", "must not be empty")
	case in.Quantity < 1:
		return MutationResult{}, ledger.Invalid("quantity", "must be at least 1")
	}
	if err := ledger.CheckAmount("amount", in.UnitAmount); err != nil {
		return MutationResult{}, err
	}

	coBorrower := strings.TrimSpace(in.CoBorrower)
	if ledger.NormalizeName(coBorrower) == ledger.NormalizeName(name) {
		coBorrower = ""
	}

	var res MutationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		cust, err := getCustomer(ctx, tx, `normalized_key = ?`, ledger.NormalizeName(name))
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			cust = ledger.Customer{
				ID:            newLocalID(),
				NormalizedKey: ledger.NormalizeName(name),
				DisplayName:   name,
				Balance:       decimal.Zero,
				CreatedAt:     now,
				UpdatedAt:     now,
				SyncStatus:    ledger.SyncPending,
			}
			if err := writeCustomer(ctx, tx, cust); err != nil {
				return err
			}
		case err != nil:
			return err
		case cust.Archived:
			if _, err := tx.ExecContext(ctx, `UPDATE customers SET archived = 0 WHERE id = ?`, cust.ID); err != nil {
				return err
			}
		}

		date, clock := ledger.SplitDateTime(s.now())
		t := ledger.Transaction{
			ID:         newLocalID(),
			CustomerID: cust.ID,
			Date:       date,
			Time:       clock,
			Action:     ledger.ActionCreditAdded,
			Product:    product,
			Quantity:   in.Quantity,
			Amount:     in.UnitAmount.Mul(decimal.NewFromInt(in.Quantity)),
			CoBorrower: coBorrower,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: ledger.SyncPending,
		}
		if err := writeTransaction(ctx, tx, t); err != nil {
			return err
		}
		balance, _, err := s.recomputeBalanceTx(ctx, tx, cust.ID)
		res = MutationResult{CustomerID: cust.ID, TransactionID: t.ID, Balance: balance}
		return err
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.logger.Debug("Credit added", "customer_id", res.CustomerID, "transaction_id", res.TransactionID, "balance", res.Balance)
	return res, nil
}

// RecordPayment records a Paid entry against an existing customer. Paying more
// than the outstanding balance is rejected.
func (s *Store) RecordPayment(ctx context.Context, customerName string, amount decimal.Decimal) (MutationResult, error) {
	name := strings.TrimSpace(customerName)
	if name == "" {
		return MutationResult{}, ledger.Invalid("name", "must not be empty")
	}
	if err := ledger.CheckAmount("amount", amount); err != nil {
		return MutationResult{}, err
	}
	if amount.IsZero() {
		return MutationResult{}, ledger.Invalid("amount", "must be greater than zero")
	}

	var res MutationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cust, err := getCustomer(ctx, tx, `normalized_key = ?`, ledger.NormalizeName(name))
		if err != nil {
			return fmt.Errorf("customer %q: %w", name, err)
		}
		if amount.GreaterThan(cust.Balance) {
			return ledger.Invalid("amount", "payment %s exceeds balance %s", amount.StringFixed(2), cust.Balance.StringFixed(2))
		}

		now := s.stamp()
		date, clock := ledger.SplitDateTime(s.now())
		t := ledger.Transaction{
			ID:         newLocalID(),
			CustomerID: cust.ID,
			Date:       date,
			Time:       clock,
			Action:     ledger.ActionPaid,
			Product:    ledger.NoProduct,
			Amount:     amount,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: ledger.SyncPending,
		}
		if err := writeTransaction(ctx, tx, t); err != nil {
			return err
		}
		balance, _, err := s.recomputeBalanceTx(ctx, tx, cust.ID)
		res = MutationResult{CustomerID: cust.ID, TransactionID: t.ID, Balance: balance}
		return err
	})
	if err != nil {
		return MutationResult{}, err
	}
	return res, nil
}

// TransactionUpdate lists the fields to change; nil fields are kept.
//
// A credit's Amount is its unit amount times its quantity. Changing Quantity
// or UnitAmount of a credit recomputes Amount, with the unit amount defaulting
// to Amount/Quantity of the stored row. Amount sets the total directly and
// cannot be combined with either. Action switches between CreditAdded and Paid.
type TransactionUpdate struct {
	Date       *string
	Time       *string
	Action     *ledger.Action
	Product    *string
	Quantity   *int64
	UnitAmount *decimal.Decimal
	Amount     *decimal.Decimal
	CoBorrower *string
}

// UpdateTransaction edits a live transaction. An edited payment may not exceed
// the balance the customer would have without it.
func (s *Store) UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) (MutationResult, error) {
	var res MutationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTransaction(ctx, tx, `id = ? AND is_deleted = 0`, id)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", id, err)
		}

		if upd.Date != nil {
			t.Date = strings.TrimSpace(*upd.Date)
		}
		if upd.Time != nil {
			t.Time = strings.TrimSpace(*upd.Time)
		}
		if upd.Product != nil {
			t.Product = strings.TrimSpace(*upd.Product)
		}
		if err := applyAmountEdit(&t, upd); err != nil {
			return err
		}
		if upd.CoBorrower != nil {
			t.CoBorrower = strings.TrimSpace(*upd.CoBorrower)
		}
		if err := validateEdit(t); err != nil {
			return err
		}

		if t.Action == ledger.ActionPaid {
			others, err := listTransactions(ctx, tx, `customer_id = ? AND is_deleted = 0 AND id <> ?`, t.CustomerID, t.ID)
			if err != nil {
				return err
			}
			available := ledger.FoldBalance(others)
			if t.Amount.GreaterThan(available) {
				return ledger.Invalid("amount", "payment %s exceeds balance %s", t.Amount.StringFixed(2), available.StringFixed(2))
			}
		}

		t.UpdatedAt = s.stamp()
		t.SyncStatus = ledger.SyncPending
		if err := writeTransaction(ctx, tx, t); err != nil {
			return err
		}
		balance, _, err := s.recomputeBalanceTx(ctx, tx, t.CustomerID)
		res = MutationResult{CustomerID: t.CustomerID, TransactionID: t.ID, Balance: balance}
		return err
	})
	if err != nil {
		return MutationResult{}, err
	}
	return res, nil
}

// applyAmountEdit applies the action, quantity and amount fields of upd to t.
func applyAmountEdit(t *ledger.Transaction, upd TransactionUpdate) error {
	if upd.Action != nil && *upd.Action != t.Action {
		switch {
		case t.Action == ledger.ActionOverduePenalty:
			return ledger.Invalid("action", "penalties cannot change action")
		case *upd.Action != ledger.ActionCreditAdded && *upd.Action != ledger.ActionPaid:
			return ledger.Invalid("action", "must be %s or %s", ledger.ActionCreditAdded, ledger.ActionPaid)
		}
		t.Action = *upd.Action
	}
	if upd.Amount != nil && (upd.Quantity != nil || upd.UnitAmount != nil) {
		return ledger.Invalid("amount", "give either a total amount or quantity and unit amount")
	}
	if upd.UnitAmount != nil && t.Action != ledger.ActionCreditAdded {
		return ledger.Invalid("unit", "only credits have a unit amount")
	}

	oldQty := t.Quantity
	if upd.Quantity != nil {
		t.Quantity = *upd.Quantity
	}
	switch {
	case upd.Amount != nil:
		t.Amount = *upd.Amount
	case t.Action != ledger.ActionCreditAdded:
	case upd.UnitAmount != nil:
		if err := ledger.CheckAmount("unit", *upd.UnitAmount); err != nil {
			return err
		}
		t.Amount = upd.UnitAmount.Mul(decimal.NewFromInt(t.Quantity))
	case upd.Quantity != nil && oldQty >= 1 && t.Quantity != oldQty:
		t.Amount = scaleAmount(t.Amount, oldQty, t.Quantity)
	}
	return nil
}

// scaleAmount returns amount/from*to, rounded to cents only when the unit
// amount does not divide evenly.
func scaleAmount(amount decimal.Decimal, from, to int64) decimal.Decimal {
	total := amount.Mul(decimal.NewFromInt(to))
	d := decimal.NewFromInt(from)
	if total.Mod(d).IsZero() {
		return total.Div(d)
	}
	return total.DivRound(d, 2)
}

func validateEdit(t ledger.Transaction) error {
	if err := ledger.ValidateDate(t.Date); err != nil {
		return err
	}
	if err := ledger.ValidateTime(t.Time); err != nil {
		return err
	}
	if err := ledger.CheckAmount("amount", t.Amount); err != nil {
		return err
	}
	if t.Action == ledger.ActionCreditAdded {
		if t.Product == "" || t.Product == ledger.NoProduct {
			return ledger.Invalid("product", "must not be empty")
		}
		if t.Quantity < 1 {
			return ledger.Invalid("quantity", "must be at least 1")
		}
	} else if t.Quantity < 0 {
		return ledger.Invalid("quantity", "must not be negative")
	}
	return nil
}

// DeleteTransaction soft-deletes a transaction so the deletion can still be pushed.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (MutationResult, error) {
	var res MutationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTransaction(ctx, tx, `id = ? AND is_deleted = 0`, id)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET is_deleted = 1, updated_at = ?, sync_status = 'pending' WHERE id = ?`,
			ledger.FormatTimestamp(s.stamp()), t.ID)
		if err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", t.ID, err)
		}
		balance, _, err := s.recomputeBalanceTx(ctx, tx, t.CustomerID)
		res = MutationResult{CustomerID: t.CustomerID, TransactionID: t.ID, Balance: balance}
		return err
	})
	if err != nil {
		return MutationResult{}, err
	}
	return res, nil
}

// ProfileUpdate lists the customer fields to change; nil fields are kept.
// An empty Phone clears the number.
type ProfileUpdate struct {
	Name  *string
	Phone *string
}

// UpdateCustomerProfile renames a customer or changes its phone number.
func (s *Store) UpdateCustomerProfile(ctx context.Context, id string, upd ProfileUpdate) (ledger.Customer, error) {
	var out ledger.Customer
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, `id = ?`, id)
		if err != nil {
			return fmt.Errorf("customer %s: %w", id, err)
		}

		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return ledger.Invalid("name", "must not be empty")
			}
			key := ledger.NormalizeName(name)
			if key != c.NormalizedKey {
				other, err := getCustomer(ctx, tx, `normalized_key = ?`, key)
				if err == nil && other.ID != c.ID {
					return ledger.Invalid("name", "customer %q already exists", name)
				}
				if err != nil && !errors.Is(err, ledger.ErrNotFound) {
					return err
				}
			}
			c.DisplayName = name
			c.NormalizedKey = key
		}
		if upd.Phone != nil {
			c.Phone = strings.TrimSpace(*upd.Phone)
		}

		c.UpdatedAt = s.stamp()
		c.SyncStatus = ledger.SyncPending
		if err := writeCustomer(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// ArchiveCustomer hides or restores a customer in customer lists. Only a
// customer who owes nothing can be archived. It is local bookkeeping only and
// does not mark the row pending.
func (s *Store) ArchiveCustomer(ctx context.Context, id string, archived bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, `id = ?`, id)
		if err != nil {
			return fmt.Errorf("customer %s: %w", id, err)
		}
		if archived && c.Balance.IsPositive() {
			return ledger.Invalid("balance", "%s still owes %s", c.DisplayName, c.Balance.StringFixed(2))
		}
		_, err = tx.ExecContext(ctx, `UPDATE customers SET archived = ? WHERE id = ?`, boolInt(archived), id)
		return err
	})
}
