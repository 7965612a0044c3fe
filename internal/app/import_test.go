package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/reconciler"
	"github.com/blackwell-systems/cratesync/internal/store"
)

func TestImport_CreatesCatalog(t *testing.T) {
	db := testEnv(t)
	dump := writeDump(t, serdeLine, tokioLine, nightlyRaw)

	out := importDump(t, db, dump)

	for _, want := range []string{
		"Importing catalog...",
		"Import #1 committed",
		"3 records",
		"Crates added:",
		"Catalog: 3 crates, 6 versions",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	out, err := run(t, "", "--db", db, "search", "serde")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "serde") || !strings.Contains(out, "1.0.190") {
		t.Errorf("expected serde with default 1.0.190, got:\n%s", out)
	}
	if strings.Contains(out, "tokio") {
		t.Errorf("expected tokio to be filtered out, got:\n%s", out)
	}

	out, err = run(t, "", "--db", db, "search", "NIGHTLY")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "0.1.0-beta") {
		t.Errorf("expected prerelease-only crate to default to 0.1.0-beta, got:\n%s", out)
	}
}

func TestImport_SecondPassUnchanged(t *testing.T) {
	db := testEnv(t)
	dump := writeDump(t, serdeLine, tokioLine)

	importDump(t, db, dump)
	out := importDump(t, db, dump)

	if !strings.Contains(out, "Import #2 committed") {
		t.Errorf("expected second run id, got:\n%s", out)
	}
	if !strings.Contains(out, "Catalog already up to date.") {
		t.Errorf("expected unchanged catalog, got:\n%s", out)
	}
}

func TestImport_DumpFromFlagAndEnvironment(t *testing.T) {
	db := testEnv(t)

	if _, err := run(t, "", "--db", db, "import", "--dump", writeDump(t, serdeLine)); err != nil {
		t.Fatalf("import with --dump failed: %v", err)
	}

	t.Setenv("CRATESYNC_DUMP", writeDump(t, tokioLine))
	out, err := run(t, "", "--db", db, "import")
	if err != nil {
		t.Fatalf("import with CRATESYNC_DUMP failed: %v", err)
	}
	if !strings.Contains(out, "Crates removed:") || !strings.Contains(out, "Catalog: 1 crates") {
		t.Errorf("expected serde replaced by tokio, got:\n%s", out)
	}
}

func TestImport_InvalidDumpKeepsCatalog(t *testing.T) {
	db := testEnv(t)
	importDump(t, db, writeDump(t, serdeLine, tokioLine))

	bad := writeDump(t, tokioLine, `{"name":"broken",`)
	_, err := run(t, "", "--db", db, "import", bad)
	if err == nil {
		t.Fatal("expected import of a malformed dump to fail")
	}
	if !strings.Contains(err.Error(), "nothing was changed") {
		t.Errorf("expected rollback hint, got: %v", err)
	}
	if !reconciler.IsSourceError(err) {
		t.Errorf("expected source error in chain, got: %v", err)
	}

	out, err := run(t, "", "--db", db, "search", "serde")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "serde") {
		t.Errorf("expected serde to survive failed import, got:\n%s", out)
	}

	out, err = run(t, "", "--db", db, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.Count(out, "\n") != 3 {
		t.Errorf("expected header, rule and one run, got:\n%s", out)
	}
}

func TestImport_MissingDump(t *testing.T) {
	db := testEnv(t)

	_, err := run(t, "", "--db", db, "import", "/nonexistent/crates.jsonl")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if _, statErr := os.Stat(db); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("expected no database to be created for a missing dump")
	}
}

func TestExplainImportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "source error",
			err:  &catalog.SourceError{Record: 3, Err: fmt.Errorf("bad json")},
			want: "could not be read",
		},
		{
			name: "busy",
			err:  &reconciler.TransactionError{Op: "begin", Err: store.ErrBusy},
			want: "locked by another import",
		},
		{
			name: "constraint violation",
			err:  fmt.Errorf("check: %w", &store.IntegrityError{MissingDefaults: 1}),
			want: "integrity check",
		},
		{
			name: "other",
			err:  fmt.Errorf("disk on fire"),
			want: "import failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explainImportError(tt.err)
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, got.Error())
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected original error to stay wrapped")
			}
		})
	}
}
