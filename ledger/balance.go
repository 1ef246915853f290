// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import "github.com/shopspring/decimal"

// Effect returns the signed contribution of an entry to the customer balance.
func Effect(action Action, amount decimal.Decimal) decimal.Decimal {
	switch action {
	case ActionCreditAdded, ActionOverduePenalty:
		return amount
	case ActionPaid:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}

// FoldBalance sums the effects of all non-deleted transactions. Order does not matter.
func FoldBalance(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.IsDeleted {
			continue
		}
		total = total.Add(Effect(tx.Action, tx.Amount))
	}
	return total
}
