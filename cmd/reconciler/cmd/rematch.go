package cmd

import (
	"context"
	"fmt"
	"os"

	"invoice-reconciliation-service/cmd/reconciler/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rematchOnlyHigh bool

// rematchCmd re-runs matching for a batch.
var rematchCmd = &cobra.Command{
	Use:   "rematch <batch-id>",
	Short: "Re-run matching for a batch against the current invoices",
	Long: `Rematch re-runs invoice matching for every deposit in the batch
against the current invoice pool, replacing unconfirmed proposals.
Confirmed transactions are left alone. Useful after loading invoices
that arrived later than the statement.

Examples:
  reconciler rematch 6e0c0b5e-... --db reconciler.db
  reconciler rematch 6e0c0b5e-... --only-high-confidence`,
	Args: cobra.ExactArgs(1),
	RunE: runRematch,
}

func init() {
	rootCmd.AddCommand(rematchCmd)

	rematchCmd.Flags().BoolVar(&rematchOnlyHigh, "only-high-confidence", false, "only persist high-confidence matches")
}

func runRematch(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	svc, st, err := config.CreateService(viper.GetString("db"), nil, globalLogger())
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer st.Close()

	matched, err := svc.Rematch(context.Background(), args[0], rematchOnlyHigh)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	fmt.Printf("Matched %d transaction(s) in batch %s\n", matched, args[0])
	return nil
}
