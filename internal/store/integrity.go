package store

import (
	"context"
	"fmt"
)

// IntegrityError reports rows that break the catalog invariants. It matches
// ErrConstraintViolation with errors.Is.
type IntegrityError struct {
	// DanglingFavorites counts favorites whose crate does not exist.
	DanglingFavorites int
	// DanglingDefaults counts default-version links whose version is missing
	// or belongs to another crate.
	DanglingDefaults int
	// MissingDefaults counts crates that have versions but no default link.
	MissingDefaults int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed: %d dangling favorites, %d dangling default versions, %d crates without default version",
		e.DanglingFavorites, e.DanglingDefaults, e.MissingDefaults)
}

func (e *IntegrityError) Unwrap() error {
	return ErrConstraintViolation
}

// CheckIntegrity runs the catalog invariant checks against committed data.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	return checkIntegrity(ctx, s.db)
}

func checkIntegrity(ctx context.Context, q querier) error {
	var e IntegrityError
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*)
			 FROM favorite_crates f
			 LEFT JOIN crates c ON c.id = f.crate_id
			 WHERE c.id IS NULL),
			(SELECT COUNT(*)
			 FROM crate_default_versions d
			 LEFT JOIN crate_versions v ON v.id = d.version_id
			 WHERE v.id IS NULL OR v.crate_id != d.crate_id),
			(SELECT COUNT(*)
			 FROM crates c
			 WHERE EXISTS (SELECT 1 FROM crate_versions v WHERE v.crate_id = c.id)
			   AND NOT EXISTS (SELECT 1 FROM crate_default_versions d WHERE d.crate_id = c.id))
	`).Scan(&e.DanglingFavorites, &e.DanglingDefaults, &e.MissingDefaults)
	if err != nil {
		return fmt.Errorf("failed to run integrity check: %w", classify(err))
	}

	if e.DanglingFavorites > 0 || e.DanglingDefaults > 0 || e.MissingDefaults > 0 {
		return &e
	}
	return nil
}
