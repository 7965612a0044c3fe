package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// testEnv isolates a test from the user's home, config and environment and
// returns its database path.
func testEnv(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, key := range []string{"DB", "DUMP", "INTERVAL", "LOG_LEVEL", "LOG_FILE", "PID_FILE", "USER"} {
		t.Setenv("CRATESYNC_"+key, "")
	}

	return filepath.Join(home, "catalog.db")
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// between executions in the same process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI with args and returns everything written to stdout
// and stderr.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags(RootCmd)

	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetErr(&buf)
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetIn(nil)
		RootCmd.SetArgs(nil)
	})

	err := RootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeDump writes JSON Lines records to a dump file in a temp directory.
func writeDump(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crates.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("failed to write dump: %v", err)
	}
	return path
}

const (
	serdeLine  = `{"name":"serde","description":"A serialization framework","versions":["1.0.0","1.0.190","2.0.0-alpha"],"downloads":1000}`
	tokioLine  = `{"name":"tokio","description":"An async runtime","versions":["1.35.0"],"downloads":500}`
	nightlyRaw = `{"name":"nightly","description":"","versions":["0.1.0-alpha","0.1.0-beta"],"downloads":0}`
)

// importDump runs 'cratesync import' and fails the test on error.
func importDump(t *testing.T, db, dump string) string {
	t.Helper()

	out, err := run(t, "", "--db", db, "import", dump)
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	return out
}
