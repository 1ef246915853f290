// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mobiletoly/go-ledgersync/internal/config"
	"github.com/mobiletoly/go-ledgersync/ledgersqlite"
	"github.com/spf13/cobra"
)

// cycleOutput is the JSON view of one sync cycle.
type cycleOutput struct {
	Customers       ledgersqlite.CollectionResult `json:"customers"`
	Transactions    ledgersqlite.CollectionResult `json:"transactions"`
	StaleTombstones int                           `json:"stale_tombstones"`
	DurationMs      int64                         `json:"duration_ms"`
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the configured remote",
		Long: `Pull and push customers, then transactions. Local changes made while the
remote is unreachable stay pending and go out on a later sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			remote, release, err := opts.openRemote(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			client, err := ledgersqlite.NewClient(store, remote, opts.syncConfig(), opts.Logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "sync client", err)
			}
			res, err := client.SyncNow(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sync", err)
			}
			out := cycleOutput{
				Customers:       res.Customers,
				Transactions:    res.Transactions,
				StaleTombstones: res.StaleTombstones,
				DurationMs:      res.Finished.Sub(res.Started).Milliseconds(),
			}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, res.Summary())
			})
		},
	}
}

func NewPenaltiesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "penalties",
		Short: "Apply overdue penalties once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sched, err := ledgersqlite.NewPenaltyScheduler(store, opts.penaltyConfig(), opts.Logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "penalty config", err)
			}
			n, err := sched.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), map[string]int{"applied": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d penalties applied\n", n)
			})
		},
	}
}

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync periodically and apply penalties until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.runDaemon(ctx)
		},
	}
}

func (o *RootOptions) runDaemon(ctx context.Context) error {
	store, err := o.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if o.Config.Remote.Mode != config.RemoteNone {
		remote, release, err := o.openRemote(ctx)
		if err != nil {
			return err
		}
		defer release()

		client, err := ledgersqlite.NewClient(store, remote, o.syncConfig(), o.Logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "sync client", err)
		}
		results, cancel := client.Subscribe(4)
		defer cancel()

		wg.Add(2)
		go func() {
			defer wg.Done()
			errCh <- client.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case res, ok := <-results:
					if !ok {
						return
					}
					if res.StaleTombstones > 0 {
						o.Logger.Warn("Deletions waiting for the remote", "count", res.StaleTombstones)
					}
				}
			}
		}()
	} else {
		o.Logger.Info("No remote configured, sync disabled")
	}

	if o.Config.Penalty.Enabled {
		sched, err := ledgersqlite.NewPenaltyScheduler(store, o.penaltyConfig(), o.Logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "penalty config", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- sched.Run(ctx, o.Config.Penalty.Interval)
		}()
	}

	o.Logger.Info("Ledger running", "database", o.Config.DatabasePath, "remote", o.Config.Remote.Mode)
	<-ctx.Done()
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	o.Logger.Info("Ledger stopped")
	return nil
}
