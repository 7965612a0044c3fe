package reconciler

import "time"

// Report summarizes one committed reconciliation pass.
type Report struct {
	RunID  int64
	PassID string

	Records          int // records consumed from the source
	DuplicateRecords int // records whose crate already appeared in this pass

	CratesInserted  int
	CratesUpdated   int
	CratesUnchanged int
	CratesDeleted   int

	VersionsAdded          int
	DefaultVersionsChanged int
	DownloadsChanged       int
	FavoritesRemoved       int

	// Crates and Versions are the catalog sizes after the pass.
	Crates   int
	Versions int

	StartedAt time.Time
	Duration  time.Duration
}

// Changed reports whether the pass modified any catalog row.
func (r *Report) Changed() bool {
	return r.CratesInserted > 0 || r.CratesUpdated > 0 || r.CratesDeleted > 0 ||
		r.VersionsAdded > 0 || r.DefaultVersionsChanged > 0 || r.DownloadsChanged > 0
}
