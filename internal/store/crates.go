package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Crate read operations

const crateColumns = `c.id, c.name, c.created_at, c.updated_at, c.description, c.homepage, c.readme, c.repository`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrate(row rowScanner, extra ...any) (*Crate, error) {
	var c Crate
	var createdAt, updatedAt string
	var homepage, readme, repository sql.NullString

	dest := []any{&c.ID, &c.Name, &createdAt, &updatedAt, &c.Description, &homepage, &readme, &repository}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", c.Name, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", c.Name, err)
	}
	c.Homepage = nullToPtr(homepage)
	c.Readme = nullToPtr(readme)
	c.Repository = nullToPtr(repository)

	return &c, nil
}

// GetCrate retrieves a crate by store id.
func (s *Store) GetCrate(ctx context.Context, id int64) (*Crate, error) {
	query := `SELECT ` + crateColumns + ` FROM crates c WHERE c.id = ?`

	c, err := scanCrate(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crate %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crate %d: %w", id, classify(err))
	}
	return c, nil
}

// GetCrateByName retrieves a crate by its catalog name.
func (s *Store) GetCrateByName(ctx context.Context, name string) (*Crate, error) {
	query := `SELECT ` + crateColumns + ` FROM crates c WHERE c.name = ?`

	c, err := scanCrate(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crate %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crate %s: %w", name, classify(err))
	}
	return c, nil
}

// SearchCrates returns crates whose name starts with prefix
// (case-insensitive), ordered by id. A limit of 0 means no limit.
func (s *Store) SearchCrates(ctx context.Context, prefix string, limit int) ([]*CrateSummary, error) {
	query := `
		SELECT ` + crateColumns + `, COALESCE(d.downloads, 0), COALESCE(v.number, '')
		FROM crates c
		LEFT JOIN crate_downloads d ON d.crate_id = c.id
		LEFT JOIN crate_default_versions dv ON dv.crate_id = c.id
		LEFT JOIN crate_versions v ON v.id = dv.version_id
		WHERE c.name LIKE ? ESCAPE '\'
		ORDER BY c.id
	`
	args := []any{escapeLike(prefix) + "%"}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.querySummaries(ctx, query, args...)
}

func (s *Store) querySummaries(ctx context.Context, query string, args ...any) ([]*CrateSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crates: %w", classify(err))
	}
	defer rows.Close()

	var crates []*CrateSummary
	for rows.Next() {
		var downloads int64
		var defaultVersion string
		c, err := scanCrate(rows, &downloads, &defaultVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crate row: %w", err)
		}
		crates = append(crates, &CrateSummary{Crate: *c, Downloads: downloads, DefaultVersion: defaultVersion})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crates: %w", err)
	}

	return crates, nil
}

// ListVersions returns every recorded version of a crate ordered by id.
func (s *Store) ListVersions(ctx context.Context, crateID int64) ([]*CrateVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, crate_id, number
		FROM crate_versions
		WHERE crate_id = ?
		ORDER BY id
	`, crateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for crate %d: %w", crateID, classify(err))
	}
	defer rows.Close()

	var versions []*CrateVersion
	for rows.Next() {
		var v CrateVersion
		if err := rows.Scan(&v.ID, &v.CrateID, &v.Number); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions = append(versions, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

// GetDefaultVersion returns the version currently linked as the crate's
// default. ErrNotFound means the crate has no link.
func (s *Store) GetDefaultVersion(ctx context.Context, crateID int64) (*CrateVersion, error) {
	var v CrateVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.crate_id, v.number
		FROM crate_default_versions d
		JOIN crate_versions v ON v.id = d.version_id
		WHERE d.crate_id = ?
	`, crateID).Scan(&v.ID, &v.CrateID, &v.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default version of crate %d: %w", crateID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default version of crate %d: %w", crateID, classify(err))
	}
	return &v, nil
}

// GetDownloads returns the download counter of a crate.
func (s *Store) GetDownloads(ctx context.Context, crateID int64) (int64, error) {
	var downloads int64
	err := s.db.QueryRowContext(ctx, `SELECT downloads FROM crate_downloads WHERE crate_id = ?`, crateID).Scan(&downloads)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("downloads of crate %d: %w", crateID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get downloads of crate %d: %w", crateID, classify(err))
	}
	return downloads, nil
}

// Counts is a snapshot of table sizes.
type Counts struct {
	Crates          int
	Versions        int
	DefaultVersions int
	Favorites       int
	Users           int
}

// GetCounts returns row counts for the catalog and user tables in one
// consistent read.
func (s *Store) GetCounts(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM crates),
			(SELECT COUNT(*) FROM crate_versions),
			(SELECT COUNT(*) FROM crate_default_versions),
			(SELECT COUNT(*) FROM favorite_crates),
			(SELECT COUNT(*) FROM users)
	`).Scan(&c.Crates, &c.Versions, &c.DefaultVersions, &c.Favorites, &c.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", classify(err))
	}
	return &c, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ptrToNull(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
