package store

import (
	"context"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seedCrate commits a crate with the given versions, download count and
// default version ("" for none) and returns its id.
func seedCrate(t *testing.T, s *Store, name string, downloads int64, defaultVersion string, versions ...string) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := s.BeginImport(ctx)
	if err != nil {
		t.Fatalf("BeginImport() failed: %v", err)
	}
	defer tx.Rollback()

	c := &Crate{Name: name, CreatedAt: testNow, UpdatedAt: testNow, Description: name + " crate"}
	if err := tx.InsertCrate(ctx, c); err != nil {
		t.Fatalf("InsertCrate(%s) failed: %v", name, err)
	}

	for _, v := range versions {
		id, err := tx.InsertVersion(ctx, c.ID, v)
		if err != nil {
			t.Fatalf("InsertVersion(%s) failed: %v", v, err)
		}
		if v == defaultVersion {
			if _, err := tx.SetDefaultVersion(ctx, c.ID, id); err != nil {
				t.Fatalf("SetDefaultVersion() failed: %v", err)
			}
		}
	}

	if _, err := tx.SetDownloads(ctx, c.ID, downloads); err != nil {
		t.Fatalf("SetDownloads() failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return c.ID
}
