package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ImportTx is the single transaction of a reconciliation pass. Every write of
// the pass goes through it; nothing is visible to other connections until
// Commit succeeds.
type ImportTx struct {
	conn  *sql.Conn
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
	done  bool
}

// BeginImport opens the pass transaction on a dedicated connection. The
// context bounds the whole transaction: cancelling it rolls the pass back.
func (s *Store) BeginImport(ctx context.Context) (*ImportTx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", classify(err))
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	return &ImportTx{conn: conn, tx: tx, stmts: make(map[string]*sql.Stmt)}, nil
}

// prepared returns a statement prepared once per transaction.
func (t *ImportTx) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := t.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", classify(err))
	}
	t.stmts[query] = stmt
	return stmt, nil
}

// ListCrates returns every crate row as seen inside the transaction.
func (t *ImportTx) ListCrates(ctx context.Context) ([]*Crate, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+crateColumns+` FROM crates c ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crates: %w", classify(err))
	}
	defer rows.Close()

	var crates []*Crate
	for rows.Next() {
		c, err := scanCrate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crate row: %w", err)
		}
		crates = append(crates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crates: %w", err)
	}

	return crates, nil
}

// InsertCrate inserts a new crate and sets c.ID.
func (t *ImportTx) InsertCrate(ctx context.Context, c *Crate) error {
	stmt, err := t.prepared(ctx, `
		INSERT INTO crates (name, created_at, updated_at, description, homepage, readme, repository)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	result, err := stmt.ExecContext(ctx,
		c.Name,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		c.Description,
		ptrToNull(c.Homepage),
		ptrToNull(c.Readme),
		ptrToNull(c.Repository),
	)
	if err != nil {
		return fmt.Errorf("failed to insert crate %s: %w", c.Name, classify(err))
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get crate ID: %w", err)
	}
	return nil
}

// UpdateCrate rewrites the mutable fields of an existing crate. The name is
// rewritten too, so a crate matched under a folding key takes the upstream
// spelling.
func (t *ImportTx) UpdateCrate(ctx context.Context, c *Crate) error {
	stmt, err := t.prepared(ctx, `
		UPDATE crates
		SET name = ?, updated_at = ?, description = ?, homepage = ?, readme = ?, repository = ?
		WHERE id = ?
	`)
	if err != nil {
		return err
	}

	result, err := stmt.ExecContext(ctx,
		c.Name,
		formatTime(c.UpdatedAt),
		c.Description,
		ptrToNull(c.Homepage),
		ptrToNull(c.Readme),
		ptrToNull(c.Repository),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update crate %s: %w", c.Name, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("crate %s: %w", c.Name, ErrNotFound)
	}
	return nil
}

// VersionIDs returns the recorded versions of a crate as number -> id.
func (t *ImportTx) VersionIDs(ctx context.Context, crateID int64) (map[string]int64, error) {
	stmt, err := t.prepared(ctx, `SELECT id, number FROM crate_versions WHERE crate_id = ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, crateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for crate %d: %w", crateID, classify(err))
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var id int64
		var number string
		if err := rows.Scan(&id, &number); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions[number] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

// InsertVersion records a new version of a crate. A second row for the same
// (crate, number) pair fails with ErrConstraintViolation.
func (t *ImportTx) InsertVersion(ctx context.Context, crateID int64, number string) (int64, error) {
	stmt, err := t.prepared(ctx, `INSERT INTO crate_versions (crate_id, number) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}

	result, err := stmt.ExecContext(ctx, crateID, number)
	if err != nil {
		return 0, fmt.Errorf("failed to insert version %s of crate %d: %w", number, crateID, classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get version ID: %w", err)
	}
	return id, nil
}

// SetDownloads replaces the download counter of a crate with the upstream
// value. It reports whether the stored value changed.
func (t *ImportTx) SetDownloads(ctx context.Context, crateID, downloads int64) (bool, error) {
	stmt, err := t.prepared(ctx, `
		INSERT INTO crate_downloads (crate_id, downloads) VALUES (?, ?)
		ON CONFLICT (crate_id) DO UPDATE SET downloads = excluded.downloads
		WHERE crate_downloads.downloads != excluded.downloads
	`)
	if err != nil {
		return false, err
	}

	result, err := stmt.ExecContext(ctx, crateID, downloads)
	if err != nil {
		return false, fmt.Errorf("failed to set downloads of crate %d: %w", crateID, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetDefaultVersion links a crate to its default version, replacing any
// previous link. It reports whether the link changed.
func (t *ImportTx) SetDefaultVersion(ctx context.Context, crateID, versionID int64) (bool, error) {
	stmt, err := t.prepared(ctx, `
		INSERT INTO crate_default_versions (crate_id, version_id) VALUES (?, ?)
		ON CONFLICT (crate_id) DO UPDATE SET version_id = excluded.version_id
		WHERE crate_default_versions.version_id != excluded.version_id
	`)
	if err != nil {
		return false, err
	}

	result, err := stmt.ExecContext(ctx, crateID, versionID)
	if err != nil {
		return false, fmt.Errorf("failed to set default version of crate %d: %w", crateID, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteCrate removes a crate. Versions, downloads, the default-version link
// and favorites go with it by cascade; the number of favorites removed is
// returned.
func (t *ImportTx) DeleteCrate(ctx context.Context, crateID int64) (int, error) {
	var favorites int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM favorite_crates WHERE crate_id = ?`, crateID,
	).Scan(&favorites)
	if err != nil {
		return 0, fmt.Errorf("failed to count favorites of crate %d: %w", crateID, classify(err))
	}

	stmt, err := t.prepared(ctx, `DELETE FROM crates WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	if _, err := stmt.ExecContext(ctx, crateID); err != nil {
		return 0, fmt.Errorf("failed to delete crate %d: %w", crateID, classify(err))
	}

	return favorites, nil
}

// CheckIntegrity validates the deferred edges before commit.
func (t *ImportTx) CheckIntegrity(ctx context.Context) error {
	return checkIntegrity(ctx, t.tx)
}

// RecordCompletion appends the ledger row for this pass. It must be the
// last statement before Commit so the row exists iff the pass committed.
func (t *ImportTx) RecordCompletion(ctx context.Context, run *ImportRun) (int64, error) {
	return recordCompletion(ctx, t.tx, run)
}

// Commit commits the pass.
func (t *ImportTx) Commit() error {
	if t.done {
		return fmt.Errorf("import transaction: %w", sql.ErrTxDone)
	}
	t.done = true
	t.closeStmts()

	err := t.tx.Commit()
	if err != nil {
		// A failed COMMIT (deferred foreign key) leaves SQLite inside the
		// transaction; end it before the connection returns to the pool.
		t.conn.ExecContext(context.Background(), "ROLLBACK") //nolint:errcheck
	}
	t.conn.Close()

	if err != nil {
		return fmt.Errorf("failed to commit import: %w", classify(err))
	}
	return nil
}

// Rollback abandons the pass. It is a no-op after Commit or a previous
// Rollback, so it can be deferred unconditionally.
func (t *ImportTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.closeStmts()

	err := t.tx.Rollback()
	t.conn.Close()

	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back import: %w", err)
	}
	return nil
}

func (t *ImportTx) closeStmts() {
	for _, stmt := range t.stmts {
		stmt.Close()
	}
	t.stmts = nil
}
