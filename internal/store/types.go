package store

import "time"

// User is an account that can favorite crates. Users are never touched by
// the reconciler.
type User struct {
	ID           int64
	Name         string
	PasswordHash string
}

// Crate is a catalog entry. Name is the identity used to match upstream
// records; ID is assigned by the store and is not stable across a
// delete-and-recreate.
type Crate struct {
	ID          int64
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Description string
	Homepage    *string
	Readme      *string
	Repository  *string
}

// CrateVersion is an immutable (crate, number) row.
type CrateVersion struct {
	ID      int64
	CrateID int64
	Number  string
}

// CrateSummary joins a crate with its download count and default version
// for listings.
type CrateSummary struct {
	Crate
	Downloads      int64
	DefaultVersion string // empty when the crate has no versions
}

// ImportRun is one row of the append-only import ledger.
type ImportRun struct {
	ID           int64
	ImportedAt   time.Time
	PassID       string
	CrateCount   int
	VersionCount int
	Duration     time.Duration
	// SourceModTime is the modification time of the dump file the pass read.
	// Zero when the source was not a file.
	SourceModTime time.Time
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
