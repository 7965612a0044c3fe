package app

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog and watch daemon status",
	Long: `Display the size of the local catalog, the last completed import and whether
the watch daemon is running.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	counts, err := st.GetCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count catalog rows: %w", err)
	}

	last, imported, err := st.LastImportedAt(ctx)
	if err != nil {
		return fmt.Errorf("failed to read import ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database:     %s\n", cfg.DBPath)
	fmt.Fprintf(out, "Crates:       %s\n", humanize.Comma(int64(counts.Crates)))
	fmt.Fprintf(out, "Versions:     %s\n", humanize.Comma(int64(counts.Versions)))
	fmt.Fprintf(out, "Users:        %s\n", humanize.Comma(int64(counts.Users)))
	fmt.Fprintf(out, "Favorites:    %s\n", humanize.Comma(int64(counts.Favorites)))

	if imported {
		fmt.Fprintf(out, "Last import:  %s (%s)\n", humanize.Time(last), last.Local().Format(time.DateTime))
	} else {
		fmt.Fprintf(out, "Last import:  never\n")
	}

	if pid := watcher.DaemonPID(cfg.PIDFile); pid > 0 {
		fmt.Fprintf(out, "Watch daemon: running (PID %d)\n", pid)
	} else {
		fmt.Fprintf(out, "Watch daemon: stopped\n")
	}

	return nil
}
