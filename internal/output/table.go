// Package output provides terminal output utilities for cratesync.
//
// This package includes:
//   - Table rendering for crate listings and the import history
//   - Import report rendering
//   - A spinner for long-running imports
//
// Tables use plain box-drawing characters; ANSI colors are only emitted when
// stdout is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/cratesync/internal/reconciler"
	"github.com/blackwell-systems/cratesync/internal/store"
)

// ANSI color codes for change counts
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderCrateTable renders crates in the order given.
func RenderCrateTable(crates []*store.CrateSummary) string {
	if len(crates) == 0 {
		return "No crates found.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-28s %-14s %12s  %-14s %s\n",
		"Crate", "Default", "Downloads", "Updated", "Description"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	for _, c := range crates {
		def := c.DefaultVersion
		if def == "" {
			def = "-"
		}
		sb.WriteString(fmt.Sprintf("%-28s %-14s %12s  %-14s %s\n",
			truncate(c.Name, 28),
			truncate(def, 14),
			humanize.Comma(c.Downloads),
			formatRelativeTime(c.UpdatedAt),
			truncate(firstLine(c.Description), 40)))
	}

	return sb.String()
}

// RenderImportHistory renders ledger rows in the order given (newest first
// as returned by the store).
func RenderImportHistory(runs []*store.ImportRun) string {
	if len(runs) == 0 {
		return "No imports recorded. Run 'cratesync import' first.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-6s %-20s %-16s %10s %10s %10s\n",
		"Run", "Imported", "When", "Crates", "Versions", "Duration"))
	sb.WriteString(strings.Repeat("─", 78))
	sb.WriteString("\n")

	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("%-6d %-20s %-16s %10s %10s %10s\n",
			run.ID,
			run.ImportedAt.Local().Format("2006-01-02 15:04:05"),
			formatRelativeTime(run.ImportedAt),
			humanize.Comma(int64(run.CrateCount)),
			humanize.Comma(int64(run.VersionCount)),
			formatDuration(run.Duration)))
	}

	return sb.String()
}

// RenderReport renders the summary of a committed import.
func RenderReport(r *reconciler.Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Import #%d committed in %s (%s records", r.RunID, formatDuration(r.Duration), humanize.Comma(int64(r.Records))))
	if r.DuplicateRecords > 0 {
		sb.WriteString(fmt.Sprintf(", %s duplicates", humanize.Comma(int64(r.DuplicateRecords))))
	}
	sb.WriteString(")\n\n")

	row := func(label string, n int, color string) {
		value := humanize.Comma(int64(n))
		if n > 0 && color != "" {
			value = colorize(color, value)
		}
		sb.WriteString(fmt.Sprintf("  %-26s %s\n", label, value))
	}

	row("Crates added:", r.CratesInserted, colorGreen)
	row("Crates updated:", r.CratesUpdated, colorYellow)
	row("Crates removed:", r.CratesDeleted, colorRed)
	row("Crates unchanged:", r.CratesUnchanged, "")
	row("Versions added:", r.VersionsAdded, colorGreen)
	row("Default versions changed:", r.DefaultVersionsChanged, colorYellow)
	row("Download counts changed:", r.DownloadsChanged, "")
	if r.FavoritesRemoved > 0 {
		row("Favorites removed:", r.FavoritesRemoved, colorRed)
	}

	sb.WriteString(fmt.Sprintf("\nCatalog: %s crates, %s versions\n",
		humanize.Comma(int64(r.Crates)), humanize.Comma(int64(r.Versions))))

	if !r.Changed() {
		sb.WriteString(colorize(colorGray, "Catalog already up to date.") + "\n")
	}

	return sb.String()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
