// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-ledgersync/internal/config"
	"github.com/mobiletoly/go-ledgersync/ledgersqlite"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

func (o *RootOptions) openStore() (*ledgersqlite.Store, error) {
	store, err := ledgersqlite.Open(o.Config.DatabasePath, ledgersqlite.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open ledger", err)
	}
	return store, nil
}

// openRemote connects the configured remote document store. The returned
// function releases it.
func (o *RootOptions) openRemote(ctx context.Context) (ledgersync.RemoteStore, func(), error) {
	rc := o.Config.Remote
	switch rc.Mode {
	case config.RemoteMemory:
		o.Logger.Warn("Using an in-process remote store; nothing leaves this process")
		return ledgersync.NewMemoryStore(), func() {}, nil

	case config.RemoteHTTP:
		token := rc.Token
		if token == "" {
			if rc.JWTSecret == "" || rc.UserID == "" {
				return nil, nil, NewExitError(ExitCommandError, "remote.token, or remote.jwt_secret with remote.user_id, is required for http mode")
			}
			var err error
			token, err = ledgersync.NewJWTAuth(rc.JWTSecret).GenerateToken(rc.UserID, o.Config.Source, 30*24*time.Hour)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to mint token: %w", err)
			}
		}
		return ledgersync.NewHTTPClient(rc.URL, ledgersync.StaticToken(token)), func() {}, nil

	case config.RemotePostgres:
		if rc.UserID == "" {
			return nil, nil, NewExitError(ExitCommandError, "remote.user_id is required for postgres mode")
		}
		pool, err := pgxpool.New(ctx, rc.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pool: %w", err)
		}
		backend, err := ledgersync.NewPGBackend(ctx, pool, o.Logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return backend.ForUser(rc.UserID), func() {
			backend.Close()
			pool.Close()
		}, nil
	}
	return nil, nil, NewExitError(ExitCommandError, "no remote configured (set remote.mode)")
}

func (o *RootOptions) syncConfig() *ledgersqlite.Config {
	sc := o.Config.Sync
	cfg := ledgersqlite.DefaultConfig(o.Config.Source)
	cfg.Interval = sc.Interval
	cfg.InitialDelay = sc.InitialDelay
	cfg.BackoffMin = sc.BackoffMin
	cfg.BackoffMax = sc.BackoffMax
	cfg.TombstoneWarnAfter = sc.TombstoneWarnAfter
	cfg.LogStageTimings = sc.LogStageTimings
	return cfg
}

func (o *RootOptions) penaltyConfig() ledgersqlite.PenaltyConfig {
	return ledgersqlite.PenaltyConfig{
		Threshold: o.Config.Penalty.Threshold,
		Amount:    o.Config.Penalty.Amount,
	}
}
