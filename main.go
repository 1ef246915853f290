// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command ledger keeps a customer credit ledger offline and syncs it with a
// remote document store.
package main

import (
	"context"
	"os"

	"github.com/mobiletoly/go-ledgersync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		cli.WriteError(os.Stderr, format, err)
		os.Exit(cli.GetExitCode(err))
	}
}
