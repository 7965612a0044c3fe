package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blackwell-systems/cratesync/internal/config"
	"github.com/blackwell-systems/cratesync/internal/store"
)

// openStore opens the configured database, creating its directory. The
// schema is not touched.
func openStore() (*store.Store, error) {
	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// openExistingStore opens the configured database for commands that only
// read it. A missing database file is reported as store.ErrNotInitialized
// instead of silently creating an empty one.
func openExistingStore() (*store.Store, error) {
	if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotInitialized
	}
	return openStore()
}

// lookupUser resolves the --user flag (or CRATESYNC_USER).
func lookupUser(ctx context.Context, st *store.Store) (*store.User, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("no user given: pass --user or set CRATESYNC_USER")
	}

	u, err := st.GetUserByName(ctx, cfg.User)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q does not exist (create it with 'cratesync user add %s')", cfg.User, cfg.User)
	}
	return u, err
}

// lookupCrate resolves a crate by name with a friendly not-found message.
func lookupCrate(ctx context.Context, st *store.Store, name string) (*store.Crate, error) {
	c, err := st.GetCrateByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("crate %q is not in the catalog", name)
	}
	return c, err
}
