package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the list command
var (
	listBatch  string
	listBank   string
	listStatus string
	listFrom   string
	listTo     string
	listLimit  int
	listOffset int
	listJSON   bool

	batchLimit  int
	batchOffset int
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported transactions",
	Long: `List shows imported transactions, optionally filtered by batch,
bank, lifecycle status, or date range.

Examples:
  reconciler list --db reconciler.db
  reconciler list --status matched
  reconciler list --batch 6e0c... --status confirmed
  reconciler list --from 2024-01-01 --to 2024-01-31 --limit 50`,

	PreRunE: validateListFlags,
	RunE:    runList,
}

// batchesCmd lists import batches, newest first.
var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List import batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler := NewCLIErrorHandler()

		_, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
		if err != nil {
			os.Exit(handler.HandleError(err))
		}
		defer st.Close()

		batches, err := st.ListBatches(context.Background(), batchLimit, batchOffset)
		if err != nil {
			os.Exit(handler.HandleError(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBANK\tFILE\tROWS\tIMPORTED\tDUPES\tMATCHED\tERRORS\tSTATUS")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				b.ID, b.BankType, b.FileName, b.SourceRowCount,
				b.SuccessCount, b.DuplicateCount, b.MatchedCount,
				b.ErrorCount, b.Status)
		}
		return w.Flush()
	},
}

// banksCmd lists the supported statement formats.
var banksCmd = &cobra.Command{
	Use:   "banks",
	Short: "List supported bank statement formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tCODE\tNAME")
		for _, f := range parsers.SupportedBanks() {
			fmt.Fprintf(w, "%s\t%s\t%s (%s)\n", f.Type, f.Code, f.NameEn, f.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(banksCmd)

	batchesCmd.Flags().IntVar(&batchLimit, "limit", 0, "maximum number of batches (0 = no limit)")
	batchesCmd.Flags().IntVar(&batchOffset, "offset", 0, "number of batches to skip")

	listCmd.Flags().StringVar(&listBatch, "batch", "", "filter by batch id")
	listCmd.Flags().StringVar(&listBank, "bank", "", "filter by bank type")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: unmatched, matched, confirmed")
	listCmd.Flags().StringVar(&listFrom, "from", "", "filter start date (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&listTo, "to", "", "filter end date (YYYY-MM-DD)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of rows (0 = no limit)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "number of rows to skip")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "emit JSON instead of a table")
}

func validateListFlags(cmd *cobra.Command, args []string) error {
	switch store.TransactionStatus(listStatus) {
	case store.StatusAny, store.StatusUnmatched, store.StatusMatched, store.StatusConfirmed:
	default:
		return fmt.Errorf("invalid status: %s (expected unmatched, matched, or confirmed)", listStatus)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	filter := store.TransactionFilter{
		BatchID:  listBatch,
		BankType: listBank,
		Status:   store.TransactionStatus(listStatus),
		Limit:    listLimit,
		Offset:   listOffset,
	}
	if listFrom != "" {
		from, err := models.ParseDate(listFrom)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
		filter.From = from
	}
	if listTo != "" {
		to, err := models.ParseDate(listTo)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
		filter.To = to
	}

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	txs, err := svc.ListImported(context.Background(), filter)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(txs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tCONTENT\tSTATUS\tINVOICE\tCONFIDENCE")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Date.Format("2006-01-02"), tx.Amount, tx.Content,
			transactionStatus(tx), tx.MatchedInvoiceID, tx.MatchConfidence)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	total, err := svc.CountImported(context.Background(), filter)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	fmt.Printf("%d of %d transaction(s)\n", len(txs), total)
	return nil
}

func transactionStatus(tx *models.BankTransaction) string {
	switch {
	case tx.IsConfirmed:
		return string(store.StatusConfirmed)
	case tx.HasActiveMatch():
		return string(store.StatusMatched)
	default:
		return string(store.StatusUnmatched)
	}
}
