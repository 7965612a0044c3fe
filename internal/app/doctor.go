package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/config"
	"github.com/blackwell-systems/cratesync/internal/store"
	"github.com/blackwell-systems/cratesync/internal/watcher"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common issues and check catalog health",
	Long: `Runs diagnostic checks on the local catalog.

Checks:
  • Database exists and is accessible
  • Schema is initialized and at least one import completed
  • Every favorite points at an existing crate
  • Every crate with versions has a valid default version
  • Catalog dump exists and whether it is newer than the last import
  • Watch daemon is running

Critical issues make the command fail; warnings are reported only.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().String(config.KeyDump, "", "catalog dump path (default: ~/.cratesync/crates.jsonl.gz)")
	doctorCmd.Flags().String(config.KeyPIDFile, "", "watch daemon PID file (default: ~/.cratesync/watch.pid)")
	RootCmd.AddCommand(doctorCmd)
}

// doctorReport counts findings and prints them as a check list.
type doctorReport struct {
	out      io.Writer
	critical int
	warnings int
}

func (r *doctorReport) ok(format string, a ...any) {
	fmt.Fprintf(r.out, "✓ "+format+"\n", a...)
}

func (r *doctorReport) fail(action, format string, a ...any) {
	fmt.Fprintf(r.out, "✗ "+format+"\n", a...)
	if action != "" {
		fmt.Fprintf(r.out, "  Action: %s\n", action)
	}
	r.critical++
}

func (r *doctorReport) warn(action, format string, a ...any) {
	fmt.Fprintf(r.out, "⚠ "+format+"\n", a...)
	if action != "" {
		fmt.Fprintf(r.out, "  Action: %s\n", action)
	}
	r.warnings++
}

func runDoctor(cmd *cobra.Command, args []string) error {
	r := &doctorReport{out: cmd.OutOrStdout()}
	fmt.Fprintln(r.out, "Running cratesync diagnostics...")
	fmt.Fprintln(r.out)

	checkDatabase(cmd, r)
	checkDaemon(r)

	fmt.Fprintln(r.out)
	if r.critical == 0 && r.warnings == 0 {
		fmt.Fprintln(r.out, "✓ All checks passed!")
		return nil
	}

	if r.critical > 0 {
		fmt.Fprintf(r.out, "Found %d critical issue(s) and %d warning(s).\n", r.critical, r.warnings)
		return fmt.Errorf("diagnostics failed")
	}

	fmt.Fprintf(r.out, "Found %d warning(s). Catalog is usable but not fully set up.\n", r.warnings)
	return nil
}

func checkDatabase(cmd *cobra.Command, r *doctorReport) {
	ctx := cmd.Context()

	if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		r.fail("Run 'cratesync import' to create it", "Database not found at: %s", cfg.DBPath)
		return
	}
	r.ok("Database found: %s", cfg.DBPath)

	st, err := store.New(cfg.DBPath)
	if err != nil {
		r.fail("", "Cannot open database: %v", err)
		return
	}
	defer st.Close()

	counts, err := st.GetCounts(ctx)
	if errors.Is(err, store.ErrNotInitialized) {
		r.fail("Run 'cratesync import'", "Database schema not initialized")
		return
	}
	if err != nil {
		r.fail("", "Cannot read catalog: %v", err)
		return
	}
	r.ok("Database is accessible (%s crates, %s versions)",
		humanize.Comma(int64(counts.Crates)), humanize.Comma(int64(counts.Versions)))

	var integrityErr *store.IntegrityError
	switch err := st.CheckIntegrity(ctx); {
	case errors.As(err, &integrityErr):
		r.fail("Run 'cratesync import' to rebuild the catalog", "%v", integrityErr)
	case err != nil:
		r.fail("", "Integrity check could not run: %v", err)
	default:
		r.ok("Favorites and default versions are consistent")
	}

	last, err := st.LastImportRun(ctx)
	imported := err == nil
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.warn("Run 'cratesync import'", "No import has completed yet")
	case err != nil:
		r.warn("", "Cannot read import ledger: %v", err)
	default:
		r.ok("Last import %s", humanize.Time(last.ImportedAt))
	}

	info, err := os.Stat(cfg.DumpPath)
	switch {
	case err != nil:
		r.warn("Download a catalog dump or set --dump", "Catalog dump not found at: %s", cfg.DumpPath)
	case imported && watcher.DumpChanged(info.ModTime(), last):
		r.warn("Run 'cratesync import' or start 'cratesync watch'", "Catalog dump changed since the last import")
	default:
		r.ok("Catalog dump found: %s", cfg.DumpPath)
	}
}

func checkDaemon(r *doctorReport) {
	if _, err := os.Stat(cfg.PIDFile); errors.Is(err, os.ErrNotExist) {
		r.warn("Run 'cratesync watch --daemon'", "Watch daemon not running (no PID file)")
		return
	}

	if pid := watcher.DaemonPID(cfg.PIDFile); pid > 0 {
		r.ok("Watch daemon running (PID %d)", pid)
		return
	}
	r.warn("Run 'cratesync watch --daemon'", "Watch daemon not running (stale PID file)")
}
