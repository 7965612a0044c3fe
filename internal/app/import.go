package app

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/config"
	"github.com/blackwell-systems/cratesync/internal/output"
	"github.com/blackwell-systems/cratesync/internal/reconciler"
)

var importCmd = &cobra.Command{
	Use:   "import [dump]",
	Short: "Reconcile the local catalog with a catalog dump",
	Long: `Import reads one full catalog dump and reconciles the local database with it.

The dump is JSON Lines, one crate per line, optionally gzip-compressed (.gz):

  {"name":"serde","description":"...","versions":["1.0.0"],"downloads":42}

The import runs in a single transaction:
  • Crates are matched by name and updated in place
  • New version numbers are added; existing versions never change
  • Download counts are replaced with the dump's values
  • The default version is the highest stable release (or highest prerelease)
  • Crates missing from the dump are removed, along with their favorites

If anything fails (a malformed line, a constraint violation, a locked
database) nothing is changed and the previous catalog stays visible.`,
	Example: `  # Import the configured dump (default: ~/.cratesync/crates.jsonl.gz)
  cratesync import

  # Import a specific file
  cratesync import ./crates.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String(config.KeyDump, "", "catalog dump path (default: ~/.cratesync/crates.jsonl.gz)")
	RootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	dumpPath := cfg.DumpPath
	if len(args) == 1 {
		dumpPath = args[0]
	}

	src, err := catalog.OpenDump(dumpPath)
	if err != nil {
		return err
	}
	defer src.Close()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateSchemaContext(cmd.Context()); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	out := cmd.OutOrStdout()
	spinner := output.NewSpinner("Importing catalog")
	spinner.SetWriter(out)

	rec := reconciler.New(st, reconciler.Options{
		Logger:     logrus.StandardLogger().WithField("dump", dumpPath),
		OnProgress: spinner.SetCount,
	})

	spinner.Start()
	report, err := rec.Reconcile(cmd.Context(), src)
	spinner.Stop()
	if err != nil {
		return explainImportError(err)
	}

	fmt.Fprintln(out, output.RenderReport(report))
	return nil
}

// explainImportError adds what the user can do about a failed pass. The
// underlying error stays wrapped.
func explainImportError(err error) error {
	var txErr *reconciler.TransactionError
	switch {
	case reconciler.IsSourceError(err):
		return fmt.Errorf("catalog dump could not be read; nothing was changed: %w", err)
	case errors.As(err, &txErr) && txErr.Retryable():
		return fmt.Errorf("database is locked by another import; try again: %w", err)
	case reconciler.IsConstraintViolation(err):
		return fmt.Errorf("import rejected by an integrity check; nothing was changed: %w", err)
	default:
		return fmt.Errorf("import failed; nothing was changed: %w", err)
	}
}
