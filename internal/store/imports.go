package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Import run ledger. Rows are append-only: nothing in this package updates
// or deletes them.

const importRunColumns = `id, imported_at, pass_id, crate_count, version_count, duration_ms, source_modified_at`

// LastImportedAt returns the completion time of the most recent successful
// import. The boolean is false when no import has completed yet.
func (s *Store) LastImportedAt(ctx context.Context) (time.Time, bool, error) {
	run, err := s.LastImportRun(ctx)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return run.ImportedAt, true, nil
}

// LastImportRun returns the most recent ledger row, or ErrNotFound when no
// import has completed yet.
func (s *Store) LastImportRun(ctx context.Context) (*ImportRun, error) {
	run, err := scanImportRun(s.db.QueryRowContext(ctx,
		`SELECT `+importRunColumns+` FROM import_crates_metadata ORDER BY id DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last import run: %w", classify(err))
	}
	return run, nil
}

// ListImportRuns returns ledger rows, newest first. A limit of 0 means no
// limit.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	query := `SELECT ` + importRunColumns + ` FROM import_crates_metadata ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", classify(err))
	}
	defer rows.Close()

	var runs []*ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import runs: %w", err)
	}

	return runs, nil
}

func scanImportRun(row rowScanner) (*ImportRun, error) {
	var run ImportRun
	var importedAt string
	var sourceModified sql.NullString
	var durationMS int64

	if err := row.Scan(&run.ID, &importedAt, &run.PassID, &run.CrateCount, &run.VersionCount, &durationMS, &sourceModified); err != nil {
		return nil, err
	}

	var err error
	run.ImportedAt, err = parseTime(importedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse imported_at for run %d: %w", run.ID, err)
	}
	if sourceModified.Valid {
		run.SourceModTime, err = parseTime(sourceModified.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse source_modified_at for run %d: %w", run.ID, err)
		}
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond

	return &run, nil
}

// recordCompletion appends a ledger row and returns its id.
func recordCompletion(ctx context.Context, q querier, run *ImportRun) (int64, error) {
	var sourceModified sql.NullString
	if !run.SourceModTime.IsZero() {
		sourceModified = sql.NullString{String: formatTime(run.SourceModTime), Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO import_crates_metadata (imported_at, pass_id, crate_count, version_count, duration_ms, source_modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		formatTime(run.ImportedAt),
		run.PassID,
		run.CrateCount,
		run.VersionCount,
		run.Duration.Milliseconds(),
		sourceModified,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record import run: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get import run ID: %w", err)
	}

	return id, nil
}
