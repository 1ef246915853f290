// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersqlite"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// customerRow is the exported view of a customer.
type customerRow struct {
	ID              string `json:"id" yaml:"id"`
	RemoteID        string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Name            string `json:"name" yaml:"name"`
	Phone           string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Balance         string `json:"balance" yaml:"balance"`
	Archived        bool   `json:"archived,omitempty" yaml:"archived,omitempty"`
	SyncStatus      string `json:"sync_status" yaml:"sync_status"`
	LastTransaction string `json:"last_transaction,omitempty" yaml:"last_transaction,omitempty"`
}

func newCustomerRow(c ledger.Customer, last string) customerRow {
	return customerRow{
		ID:              c.ID,
		RemoteID:        c.RemoteID,
		Name:            c.DisplayName,
		Phone:           c.Phone,
		Balance:         c.Balance.StringFixed(2),
		Archived:        c.Archived,
		SyncStatus:      string(c.SyncStatus),
		LastTransaction: last,
	}
}

// transactionRow is the exported view of a transaction.
type transactionRow struct {
	ID         string `json:"id" yaml:"id"`
	RemoteID   string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Date       string `json:"date" yaml:"date"`
	Time       string `json:"time" yaml:"time"`
	Action     string `json:"action" yaml:"action"`
	Product    string `json:"product" yaml:"product"`
	Quantity   int64  `json:"quantity" yaml:"quantity"`
	Amount     string `json:"amount" yaml:"amount"`
	CoBorrower string `json:"co_borrower,omitempty" yaml:"co_borrower,omitempty"`
	SyncStatus string `json:"sync_status" yaml:"sync_status"`
}

func newTransactionRow(t ledger.Transaction) transactionRow {
	return transactionRow{
		ID:         t.ID,
		RemoteID:   t.RemoteID,
		Date:       t.Date,
		Time:       t.Time,
		Action:     string(t.Action),
		Product:    t.Product,
		Quantity:   t.Quantity,
		Amount:     t.Amount.StringFixed(2),
		CoBorrower: t.CoBorrower,
		SyncStatus: string(t.SyncStatus),
	}
}

func NewCustomersCommand(opts *RootOptions) *cobra.Command {
	var filter ledgersqlite.CustomerFilter

	cmd := &cobra.Command{
		Use:   "customers",
		Short: "List customers with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListCustomers(cmd.Context(), filter)
			if err != nil {
				return err
			}
			rows := make([]customerRow, 0, len(list))
			for _, c := range list {
				rows = append(rows, newCustomerRow(c.Customer, c.LastTransaction))
			}
			return opts.render(cmd.OutOrStdout(), rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPHONE\tBALANCE\tLAST ENTRY\tSYNC")
				for _, r := range rows {
					name := r.Name
					if r.Archived {
						name += " (archived)"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, phoneOrDash(r.Phone), r.Balance, r.LastTransaction, r.SyncStatus)
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&filter.Search, "search", "", "case-insensitive name filter")
	cmd.Flags().BoolVar(&filter.IncludeArchived, "all", false, "include archived customers")

	return cmd
}

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <customer>",
		Short: "Show a customer's transactions in date order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.FindCustomerByKey(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("customer %q: %w", args[0], err)
			}
			txs, err := store.ListTransactions(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			rows := make([]transactionRow, 0, len(txs))
			for _, t := range txs {
				rows = append(rows, newTransactionRow(t))
			}
			data := struct {
				Customer     customerRow      `json:"customer"`
				Transactions []transactionRow `json:"transactions"`
			}{newCustomerRow(c, ""), rows}

			return opts.render(cmd.OutOrStdout(), data, func(w io.Writer) {
				fmt.Fprintf(w, "%s  balance %s\n", c.DisplayName, c.Balance.StringFixed(2))
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tTIME\tACTION\tPRODUCT\tQTY\tAMOUNT\tID")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", r.Date, r.Time, r.Action, r.Product, r.Quantity, r.Amount, r.ID)
				}
				_ = tw.Flush()
			})
		},
	}
}

// ledgerExport is the document written by the export command.
type ledgerExport struct {
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at"`
	Customers  []exportCustomer `json:"customers" yaml:"customers"`
}

type exportCustomer struct {
	customerRow  `yaml:",inline"`
	Transactions []transactionRow `json:"transactions" yaml:"transactions"`
}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var as, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole ledger as YAML or JSON",
		Long: `Write every customer, archived ones included, with its live transactions.

Examples:
  ledger export > ledger.yaml
  ledger export --as json --out backup.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if as != "yaml" && as != "json" {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --as %q: must be yaml or json", as))
			}
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := buildExport(cmd, store)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return WrapExitError(ExitFailure, "create export file", err)
				}
				defer f.Close()
				w = f
			}
			return writeExport(w, as, doc)
		},
	}

	cmd.Flags().StringVar(&as, "as", "yaml", "export encoding (yaml|json)")
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")

	return cmd
}

func buildExport(cmd *cobra.Command, store *ledgersqlite.Store) (ledgerExport, error) {
	ctx := cmd.Context()
	doc := ledgerExport{ExportedAt: time.Now().UTC(), Customers: []exportCustomer{}}

	list, err := store.ListCustomers(ctx, ledgersqlite.CustomerFilter{IncludeArchived: true})
	if err != nil {
		return doc, err
	}
	for _, c := range list {
		txs, err := store.ListTransactions(ctx, c.ID)
		if err != nil {
			return doc, err
		}
		ec := exportCustomer{customerRow: newCustomerRow(c.Customer, c.LastTransaction), Transactions: []transactionRow{}}
		for _, t := range txs {
			ec.Transactions = append(ec.Transactions, newTransactionRow(t))
		}
		doc.Customers = append(doc.Customers, ec)
	}
	return doc, nil
}

func writeExport(w io.Writer, as string, doc ledgerExport) error {
	if as == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
