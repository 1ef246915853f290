// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName derives the unique customer key from a display name. Names
// typed with combining accents map to the same key as precomposed ones.
func NormalizeName(name string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
}

// ParseAmount parses a non-negative money amount from user input.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, Invalid(field, "must be a number")
	}
	if err := CheckAmount(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount rejects negative amounts.
func CheckAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return Invalid(field, "must not be negative")
	}
	return nil
}

// ParseQuantity parses a credit quantity, which must be a whole number of at least one.
func ParseQuantity(s string) (int64, error) {
	q, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, Invalid("quantity", "must be a whole number")
	}
	if q < 1 {
		return 0, Invalid("quantity", "must be at least 1")
	}
	return q, nil
}
