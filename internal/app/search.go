package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/output"
)

var (
	searchLimit int

	searchCmd = &cobra.Command{
		Use:   "search [prefix]",
		Short: "List crates whose name starts with a prefix",
		Long: `Search lists crates whose name starts with the given prefix, ignoring case,
in catalog order. Without a prefix it lists the first crates of the catalog.`,
		Example: `  cratesync search serde
  cratesync search tokio --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSearch,
	}
)

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of crates to show (0 for all)")
	RootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	crates, err := st.SearchCrates(cmd.Context(), prefix, searchLimit)
	if err != nil {
		return fmt.Errorf("failed to search crates: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderCrateTable(crates))
	return nil
}
