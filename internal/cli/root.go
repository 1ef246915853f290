// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the ledger command tree.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/mobiletoly/go-ledgersync/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the loaded configuration shared by all commands.
type RootOptions struct {
	ConfigPath string
	Database   string // overrides database.path
	Format     string // "text" | "json"
	Verbose    bool

	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the ledger CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Offline-first customer credit ledger",
		Long: `Keeps a customer credit ledger in a local SQLite database and
reconciles it with a remote document store when one is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "configuration", err)
			}
			if opts.Database != "" {
				cfg.DatabasePath = opts.Database
			}
			if opts.Verbose {
				cfg.Log.Level = "debug"
			}
			opts.Config = cfg
			opts.Logger = cfg.Logger(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default ./ledger.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the local SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewCreditCommand(opts))
	cmd.AddCommand(NewPayCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewCustomersCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPenaltiesCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
