package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	importFile         string
	importBank         string
	autoMatch          bool
	autoConfirm        bool
	onlyHighConfidence bool
	skipDuplicates     bool
	confirmedBy        string
	matchProfile       string
	dateWindow         int
	outputFormat       string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bank statement CSV and optionally match it",
	Long: `Import parses a bank statement CSV export (UTF-8 or Shift_JIS),
normalizes each row into a transaction, skips rows already imported,
and stores the batch. With --auto-match the imported deposits are
matched against open invoices; with --auto-confirm high-confidence
matches are confirmed and settled as payments.

Examples:
  # Import with automatic format detection
  reconciler import --file statement.csv --db reconciler.db

  # Import a specific bank format and auto-match
  reconciler import --file statement.csv --bank sbi --auto-match

  # Full pipeline: match and settle high-confidence deposits
  reconciler import --file statement.csv --auto-confirm --by importer

  # Report duplicate rows instead of skipping them silently
  reconciler import --file statement.csv --skip-duplicates=false`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "path to the statement CSV file (required)")
	importCmd.Flags().StringVarP(&importBank, "bank", "b", "auto", "bank format: auto, sbi, mufg, smbc, mizuho, rakuten, japan-post, sony, aeon")
	importCmd.Flags().BoolVar(&autoMatch, "auto-match", false, "match imported deposits against open invoices")
	importCmd.Flags().BoolVar(&autoConfirm, "auto-confirm", false, "confirm and settle high-confidence matches (implies --auto-match)")
	importCmd.Flags().BoolVar(&onlyHighConfidence, "only-high-confidence", false, "discard medium and low confidence proposals")
	importCmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "silently skip rows already imported")
	importCmd.Flags().StringVar(&confirmedBy, "by", "auto-import", "audit identity for auto-confirmed matches")
	importCmd.Flags().StringVar(&matchProfile, "profile", "default", "matching profile: default, strict, relaxed")
	importCmd.Flags().IntVar(&dateWindow, "date-window", 0, "override the date window in days (0 keeps the profile value)")
	importCmd.Flags().StringVarP(&outputFormat, "output-format", "o", "text", "output format: text, json")

	importCmd.MarkFlagRequired("file")

	viper.BindPFlag("bank", importCmd.Flags().Lookup("bank"))
	viper.BindPFlag("profile", importCmd.Flags().Lookup("profile"))
	viper.BindPFlag("date-window", importCmd.Flags().Lookup("date-window"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (expected text or json)", outputFormat)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	payload, err := os.ReadFile(importFile)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	matcherConfig, err := config.CreateMatcherConfig(viper.GetString("profile"), viper.GetInt("date-window"))
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	svc, st, err := config.CreateService(viper.GetString("db"), matcherConfig, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	summary, err := svc.Import(context.Background(), payload, reconciler.ImportOptions{
		BankType:           viper.GetString("bank"),
		FileName:           importFile,
		AutoMatch:          autoMatch,
		AutoConfirm:        autoConfirm,
		OnlyHighConfidence: onlyHighConfidence,
		SkipDuplicates:     skipDuplicates,
		ConfirmedBy:        confirmedBy,
	})
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	return printImportSummary(summary)
}

func printImportSummary(summary *reconciler.ImportSummary) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("Batch %s (%s)\n", summary.BatchID, summary.BankType)
	fmt.Printf("  Rows:        %d\n", summary.TotalRows)
	fmt.Printf("  Imported:    %d (%d deposits, %d withdrawals)\n",
		summary.Imported, summary.Deposits, summary.Withdrawals)
	fmt.Printf("  Duplicates:  %d\n", summary.Duplicates)
	fmt.Printf("  Matched:     %d\n", summary.Matched)
	fmt.Printf("  Payments:    %d\n", summary.PaymentsCreated)
	fmt.Printf("  Errors:      %d\n", summary.ErrorCount)
	for _, msg := range summary.Errors {
		fmt.Printf("    - %s\n", msg)
	}
	return nil
}
