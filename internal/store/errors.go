package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized is returned when the schema has not been created yet.
	ErrNotInitialized = errors.New("database not initialized: run 'cratesync import' first")

	// ErrConstraintViolation is returned when a uniqueness, check or foreign key
	// rule would be broken. Inside an import it signals a defect in the
	// reconciler rather than bad input.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrBusy is returned when another writer holds the database lock. The
	// operation can be retried as a whole.
	ErrBusy = errors.New("database is busy")
)

// classify maps SQLite result codes onto the package's sentinel errors while
// keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
	}

	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}

	return err
}
