package cmd

import (
	"context"
	"fmt"
	"os"

	"invoice-reconciliation-service/cmd/reconciler/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var confirmBy string

// confirmCmd confirms a matched transaction and settles the invoice.
var confirmCmd = &cobra.Command{
	Use:   "confirm <transaction-id>",
	Short: "Confirm a matched transaction and settle the invoice",
	Long: `Confirm moves a matched transaction to the confirmed state, writes a
payment record, and decrements the matched invoice's remaining amount.
Confirming a transaction without an active match fails.

Examples:
  reconciler confirm 6e0c0b5e-... --by operator --db reconciler.db`,
	Args: cobra.ExactArgs(1),
	RunE: runConfirm,
}

// unconfirmCmd reverts a confirmed transaction to matched.
var unconfirmCmd = &cobra.Command{
	Use:   "unconfirm <transaction-id>",
	Short: "Revert a confirmed transaction to matched",
	Long: `Unconfirm flips a confirmed transaction back to the matched state.
The match itself is kept; the payment ledger is append-only and is not
rewritten.

Examples:
  reconciler unconfirm 6e0c0b5e-... --db reconciler.db`,
	Args: cobra.ExactArgs(1),
	RunE: runUnconfirm,
}

// cancelCmd clears the proposed match on an unconfirmed transaction.
var cancelCmd = &cobra.Command{
	Use:   "cancel <transaction-id>",
	Short: "Clear the proposed match on an unconfirmed transaction",
	Long: `Cancel removes the proposed match, returning the transaction to the
unmatched state. A confirmed transaction must be unconfirmed first.

Examples:
  reconciler cancel 6e0c0b5e-... --db reconciler.db`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(unconfirmCmd)
	rootCmd.AddCommand(cancelCmd)

	confirmCmd.Flags().StringVar(&confirmBy, "by", "", "audit identity recorded on the confirmation (required)")
	confirmCmd.MarkFlagRequired("by")
}

func runConfirm(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	tx, err := svc.Confirm(context.Background(), args[0], confirmBy)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	fmt.Printf("Confirmed %s: invoice %s (%s) settled by %s\n",
		tx.ID, tx.MatchedInvoiceID, tx.MatchConfidence, tx.ConfirmedBy)
	return nil
}

func runUnconfirm(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	tx, err := svc.Unconfirm(context.Background(), args[0])
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	fmt.Printf("Reverted %s to matched (invoice %s)\n", tx.ID, tx.MatchedInvoiceID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	tx, err := svc.CancelMatch(context.Background(), args[0])
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	fmt.Printf("Cleared match on %s; transaction is unmatched\n", tx.ID)
	return nil
}
