package store

// The two edges that a reconciliation pass may leave dangling mid-transaction
// (favorite -> crate, default version -> version) are DEFERRABLE INITIALLY
// DEFERRED and are only enforced at COMMIT. AUTOINCREMENT keeps SQLite from
// reusing the id of a deleted crate, so a favorite can never be re-pointed at
// an unrelated row.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    homepage TEXT,
    readme TEXT,
    repository TEXT
);

CREATE TABLE IF NOT EXISTS crate_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    crate_id INTEGER NOT NULL,
    number TEXT NOT NULL,
    UNIQUE (crate_id, number),
    FOREIGN KEY (crate_id) REFERENCES crates(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS crate_default_versions (
    crate_id INTEGER PRIMARY KEY,
    version_id INTEGER NOT NULL UNIQUE,
    FOREIGN KEY (crate_id) REFERENCES crates(id) ON DELETE CASCADE,
    FOREIGN KEY (version_id) REFERENCES crate_versions(id) DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS crate_downloads (
    crate_id INTEGER PRIMARY KEY,
    downloads INTEGER NOT NULL CHECK (downloads >= 0),
    FOREIGN KEY (crate_id) REFERENCES crates(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS favorite_crates (
    user_id INTEGER NOT NULL,
    crate_id INTEGER NOT NULL,
    PRIMARY KEY (user_id, crate_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (crate_id) REFERENCES crates(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS import_crates_metadata (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    imported_at TIMESTAMP NOT NULL,
    pass_id TEXT NOT NULL,
    crate_count INTEGER NOT NULL,
    version_count INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    source_modified_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_versions_crate ON crate_versions(crate_id);
CREATE INDEX IF NOT EXISTS idx_favorites_crate ON favorite_crates(crate_id);
CREATE INDEX IF NOT EXISTS idx_imports_imported_at ON import_crates_metadata(imported_at);
`
