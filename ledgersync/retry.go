// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgMaxAttempts  = 3
	pgRetryBackoff = 20 * time.Millisecond
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// classifyPGError maps driver errors onto the remote error taxonomy. Server
// side errors reject the single write; anything else means the database is
// not reachable.
func classifyPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrRejected) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func withPGRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= pgMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryablePGTxError(err) {
			return err
		}
		if sleepErr := sleepWithContext(ctx, time.Duration(attempt)*pgRetryBackoff); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
