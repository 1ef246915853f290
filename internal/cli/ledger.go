// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersqlite"
	"github.com/spf13/cobra"
)

// mutationOutput is printed by every command that changes the ledger.
type mutationOutput struct {
	CustomerID    string `json:"customer_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Balance       string `json:"balance"`
}

func (o *RootOptions) renderMutation(cmd *cobra.Command, verb string, res ledgersqlite.MutationResult) error {
	out := mutationOutput{
		CustomerID:    res.CustomerID,
		TransactionID: res.TransactionID,
		Balance:       res.Balance.StringFixed(2),
	}
	return o.render(cmd.OutOrStdout(), out, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s, balance %s\n", verb, res.TransactionID, out.Balance)
	})
}

type CreditOptions struct {
	*RootOptions
	Product    string
	Quantity   string
	Unit       string
	CoBorrower string
}

func NewCreditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "credit <customer>",
		Short: "Record goods handed over on credit",
		Long: `Record a CreditAdded entry of unit amount times quantity. The customer is
created on first use.

Examples:
  ledger credit ana --product rice --qty 3 --unit 10
  ledger credit "Bo Li" --product oil --qty 1 --unit 4.75 --co-borrower Ana`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := ledger.ParseQuantity(opts.Quantity)
			if err != nil {
				return err
			}
			unit, err := ledger.ParseAmount("unit", opts.Unit)
			if err != nil {
				return err
			}
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.AddCredit(cmd.Context(), ledgersqlite.CreditInput{
				CustomerName: args[0],
				CoBorrower:   opts.CoBorrower,
				Product:      opts.Product,
				Quantity:     qty,
				UnitAmount:   unit,
			})
			if err != nil {
				return err
			}
			return opts.renderMutation(cmd, "Credit added", res)
		},
	}

	cmd.Flags().StringVar(&opts.Product, "product", "", "product name (required)")
	_ = cmd.MarkFlagRequired("product")
	cmd.Flags().StringVar(&opts.Quantity, "qty", "1", "whole quantity, at least 1")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit amount (required)")
	_ = cmd.MarkFlagRequired("unit")
	cmd.Flags().StringVar(&opts.CoBorrower, "co-borrower", "", "optional co-borrower name")

	return cmd
}

func NewPayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pay <customer> <amount>",
		Short: "Record a payment against a customer's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ledger.ParseAmount("amount", args[1])
			if err != nil {
				return err
			}
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.RecordPayment(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return opts.renderMutation(cmd, "Payment recorded", res)
		},
	}
}

func NewEditCommand(opts *RootOptions) *cobra.Command {
	var date, clock, action, product, quantity, unit, amount, coBorrower string

	cmd := &cobra.Command{
		Use:   "edit <transaction-id>",
		Short: "Edit a transaction",
		Long: `Change fields of a transaction. Only the given flags are changed.
Changing --qty or --unit of a credit recomputes its amount; --amount sets
the total directly and cannot be combined with them.

Examples:
  ledger edit 1f0c... --amount 25 --date 2025-03-02
  ledger edit 1f0c... --qty 5
  ledger edit 1f0c... --action paid
  ledger edit 1f0c... --co-borrower ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd ledgersqlite.TransactionUpdate
			flags := cmd.Flags()
			if flags.Changed("date") {
				upd.Date = &date
			}
			if flags.Changed("time") {
				upd.Time = &clock
			}
			if flags.Changed("action") {
				a, err := parseAction(action)
				if err != nil {
					return err
				}
				upd.Action = &a
			}
			if flags.Changed("product") {
				upd.Product = &product
			}
			if flags.Changed("co-borrower") {
				upd.CoBorrower = &coBorrower
			}
			if flags.Changed("qty") {
				q, err := ledger.ParseQuantity(quantity)
				if err != nil {
					return err
				}
				upd.Quantity = &q
			}
			if flags.Changed("unit") {
				u, err := ledger.ParseAmount("unit", unit)
				if err != nil {
					return err
				}
				upd.UnitAmount = &u
			}
			if flags.Changed("amount") {
				a, err := ledger.ParseAmount("amount", amount)
				if err != nil {
					return err
				}
				upd.Amount = &a
			}

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.UpdateTransaction(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			return opts.renderMutation(cmd, "Updated", res)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD")
	cmd.Flags().StringVar(&clock, "time", "", "time as HH:MM")
	cmd.Flags().StringVar(&action, "action", "", "credit or paid")
	cmd.Flags().StringVar(&product, "product", "", "product name")
	cmd.Flags().StringVar(&quantity, "qty", "", "whole quantity")
	cmd.Flags().StringVar(&unit, "unit", "", "unit amount of a credit")
	cmd.Flags().StringVar(&amount, "amount", "", "total amount")
	cmd.Flags().StringVar(&coBorrower, "co-borrower", "", "co-borrower name, empty to clear")

	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction",
		Long:  "Delete a transaction. The deletion reaches other devices with the next sync.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.DeleteTransaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.renderMutation(cmd, "Deleted", res)
		},
	}
}

func NewProfileCommand(opts *RootOptions) *cobra.Command {
	var name, phone string

	cmd := &cobra.Command{
		Use:   "profile <customer>",
		Short: "Rename a customer or change the phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd ledgersqlite.ProfileUpdate
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("phone") {
				upd.Phone = &phone
			}
			if upd.Name == nil && upd.Phone == nil {
				return NewExitError(ExitCommandError, "nothing to change: pass --name or --phone")
			}

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.FindCustomerByKey(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("customer %q: %w", args[0], err)
			}
			c, err = store.UpdateCustomerProfile(cmd.Context(), c.ID, upd)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), newCustomerRow(c, ""), func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s (%s)\n", c.DisplayName, phoneOrDash(c.Phone))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number, empty to clear")

	return cmd
}

func NewArchiveCommand(opts *RootOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "archive <customer>",
		Short: "Hide a customer from the customer list",
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
			if err := store.ArchiveCustomer(cmd.Context(), c.ID, !undo); err != nil {
				return err
			}
			c.Archived = !undo
			return opts.render(cmd.OutOrStdout(), newCustomerRow(c, ""), func(w io.Writer) {
				state := "Archived"
				if undo {
					state = "Restored"
				}
				fmt.Fprintf(w, "%s %s\n", state, c.DisplayName)
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "bring the customer back into the list")

	return cmd
}

func parseAction(s string) (ledger.Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "creditadded":
		return ledger.ActionCreditAdded, nil
	case "paid", "payment":
		return ledger.ActionPaid, nil
	}
	return "", ledger.Invalid("action", "must be credit or paid, got %q", s)
}

func phoneOrDash(phone string) string {
	if strings.TrimSpace(phone) == "" {
		return "-"
	}
	return phone
}
