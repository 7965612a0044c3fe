package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// memoryPath opens a private in-memory database (useful for testing).
const memoryPath = ":memory:"

// Store provides SQLite database operations for cratesync.
type Store struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new Store with the specified database path.
// Use ":memory:" for in-memory databases (useful for testing).
//
// File databases run in WAL mode so readers keep seeing the last committed
// snapshot while an import transaction is open. Import transactions take the
// write lock up front (BEGIN IMMEDIATE); a second writer waits for the busy
// timeout and then fails with ErrBusy.
func New(dbPath string) (*Store, error) {
	if dbPath == memoryPath {
		return newMemory()
	}

	db, err := sql.Open("sqlite", fileDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := checkForeignKeys(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// newMemory opens an in-memory database. Every connection to ":memory:" is a
// separate database, so the pool is pinned to a single connection.
func newMemory() (*Store, error) {
	db, err := sql.Open("sqlite", memoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// fileDSN builds a modernc.org/sqlite DSN whose pragmas are applied to every
// pooled connection.
func fileDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
}

func checkForeignKeys(db *sql.DB) error {
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("failed to read foreign_keys pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("foreign keys are not enabled on the connection")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateSchema creates all tables and indexes.
func (s *Store) CreateSchema() error {
	return s.CreateSchemaContext(context.Background())
}

// CreateSchemaContext creates all tables and indexes.
func (s *Store) CreateSchemaContext(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
