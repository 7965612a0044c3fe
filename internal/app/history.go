package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/output"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show completed imports",
		Long: `History lists entries of the import ledger, newest first. Only imports that
committed are recorded; a failed import leaves no trace in the ledger.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of imports to show (0 for all)")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListImportRuns(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list imports: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderImportHistory(runs))
	return nil
}
