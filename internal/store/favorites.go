package store

import (
	"context"
	"fmt"
)

// Favorite operations

// Follow records that a user favorites a crate. Following the same crate
// twice fails with ErrConstraintViolation, as does following a crate or user
// that does not exist.
func (s *Store) Follow(ctx context.Context, userID, crateID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO favorite_crates (user_id, crate_id) VALUES (?, ?)`,
		userID, crateID,
	)
	if err != nil {
		return fmt.Errorf("failed to follow crate %d for user %d: %w", crateID, userID, classify(err))
	}
	return nil
}

// Unfollow removes a favorite. Removing a favorite that does not exist is
// not an error.
func (s *Store) Unfollow(ctx context.Context, userID, crateID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM favorite_crates WHERE user_id = ? AND crate_id = ?`,
		userID, crateID,
	)
	if err != nil {
		return fmt.Errorf("failed to unfollow crate %d for user %d: %w", crateID, userID, classify(err))
	}
	return nil
}

// ListFollowedCrates returns the crates a user favorites, ordered by name.
func (s *Store) ListFollowedCrates(ctx context.Context, userID int64) ([]*CrateSummary, error) {
	query := `
		SELECT ` + crateColumns + `, COALESCE(d.downloads, 0), COALESCE(v.number, '')
		FROM favorite_crates f
		JOIN crates c ON c.id = f.crate_id
		LEFT JOIN crate_downloads d ON d.crate_id = c.id
		LEFT JOIN crate_default_versions dv ON dv.crate_id = c.id
		LEFT JOIN crate_versions v ON v.id = dv.version_id
		WHERE f.user_id = ?
		ORDER BY c.name
	`
	return s.querySummaries(ctx, query, userID)
}

// ListFollowedCrateIDs returns the ids of the crates a user favorites.
func (s *Store) ListFollowedCrateIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT crate_id FROM favorite_crates WHERE user_id = ? ORDER BY crate_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites of user %d: %w", userID, classify(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan favorite row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating favorites: %w", err)
	}

	return ids, nil
}
