// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for lookups of unknown local ids.
	ErrNotFound = errors.New("not found")
	// ErrConstraint is returned when a write would break referential integrity.
	ErrConstraint = errors.New("constraint violation")
)

// ValidationError describes a rejected mutation input. The message is meant to
// be shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
