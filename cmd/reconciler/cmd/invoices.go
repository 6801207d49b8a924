package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the invoices and bulk commands
var (
	invoicesFile string
	bulkFile     string
	bulkBy       string
)

// invoicesCmd groups the invoice ledger subcommands.
var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Manage the invoice ledger",
}

// invoicesLoadCmd loads or refreshes invoices from a JSON export.
var invoicesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load invoices from a JSON file",
	Long: `Load upserts invoices from a JSON array exported by the upstream
invoice system. Existing invoices are refreshed by id; the matcher only
sees invoices with a positive remaining amount.

Examples:
  reconciler invoices load --file invoices.json --db reconciler.db`,
	RunE: runInvoicesLoad,
}

// bulkCmd applies externally supplied payments in one pass.
var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Apply a JSON file of payment records",
	Long: `Bulk reads a JSON array of payment records and applies each as a
confirmed payment against its invoice. Records are validated and
applied independently; bad records are reported but never block the
rest.

Examples:
  reconciler bulk --file payments.json --by operator --db reconciler.db`,
	RunE: runBulk,
}

func init() {
	rootCmd.AddCommand(invoicesCmd)
	invoicesCmd.AddCommand(invoicesLoadCmd)
	rootCmd.AddCommand(bulkCmd)

	invoicesLoadCmd.Flags().StringVarP(&invoicesFile, "file", "f", "", "path to the invoice JSON file (required)")
	invoicesLoadCmd.MarkFlagRequired("file")

	bulkCmd.Flags().StringVarP(&bulkFile, "file", "f", "", "path to the payment records JSON file (required)")
	bulkCmd.MarkFlagRequired("file")
	bulkCmd.Flags().StringVar(&bulkBy, "by", "", "audit identity recorded on the payments (required)")
	bulkCmd.MarkFlagRequired("by")
}

func runInvoicesLoad(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	payload, err := os.ReadFile(invoicesFile)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	var invoices []*models.Invoice
	if err := json.Unmarshal(payload, &invoices); err != nil {
		return fmt.Errorf("invalid invoice file: %w", err)
	}

	_, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	if err := st.UpsertInvoices(context.Background(), invoices); err != nil {
		os.Exit(handler.HandleError(err))
	}
	fmt.Printf("Loaded %d invoice(s)\n", len(invoices))
	return nil
}

func runBulk(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	payload, err := os.ReadFile(bulkFile)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	var records []reconciler.BulkRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("invalid payment records file: %w", err)
	}

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	result, err := svc.BulkReconciliation(context.Background(), records, bulkBy)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	fmt.Printf("Applied %d payment(s), %d error(s)\n", result.SuccessCount, result.ErrorCount)
	for _, msg := range result.Errors {
		fmt.Printf("  - %s\n", msg)
	}
	return nil
}
