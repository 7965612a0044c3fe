package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// User operations. Account registration and credential checks live outside
// the store; it only persists the already-hashed credential.

// CreateUser inserts a new user and returns it. A duplicate name fails with
// ErrConstraintViolation.
func (s *Store) CreateUser(ctx context.Context, name, passwordHash string) (*User, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, password_hash) VALUES (?, ?)`,
		name, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user %s: %w", name, classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	return &User{ID: id, Name: name, PasswordHash: passwordHash}, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `SELECT id, name, password_hash FROM users WHERE id = ?`, id)
}

// GetUserByName retrieves a user by name. Names are case-sensitive.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	return s.getUser(ctx, `SELECT id, name, password_hash FROM users WHERE name = ?`, name)
}

func (s *Store) getUser(ctx context.Context, query string, key any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, key).Scan(&u.ID, &u.Name, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %v: %w", key, classify(err))
	}
	return &u, nil
}

// DeleteUser removes a user; their favorites are removed by cascade.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}

	return nil
}
