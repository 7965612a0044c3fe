package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg", "cratesync"), dir)
}

func TestDir_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "cratesync"), dir)
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	v, err := New()
	require.NoError(t, err)
	require.NoError(t, ReadFile(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".cratesync", "cratesync.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(home, ".cratesync", "crates.jsonl.gz"), cfg.DumpPath)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(home, ".cratesync", "watch.pid"), cfg.PIDFile)
	assert.Empty(t, cfg.User)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "cratesync.yaml")
	content := "db: /srv/cratesync/catalog.db\ninterval: 6h\nuser: alice\nlog-level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("CRATESYNC_USER", "bob")
	t.Setenv("CRATESYNC_LOG_LEVEL", "warn")

	v, err := New()
	require.NoError(t, err)
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/srv/cratesync/catalog.db", cfg.DBPath)
	assert.Equal(t, 6*time.Hour, cfg.Interval)
	assert.Equal(t, "bob", cfg.User, "environment overrides the file")
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestReadFile_DefaultLocation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "cratesync"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "cratesync", "config.toml"), []byte("dump = \"/data/dump.jsonl\"\n"), 0644))

	v, err := New()
	require.NoError(t, err)
	require.NoError(t, ReadFile(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/data/dump.jsonl", cfg.DumpPath)
}

func TestReadFile_MissingExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v, err := New()
	require.NoError(t, err)

	err = ReadFile(v, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidInterval(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v, err := New()
	require.NoError(t, err)
	v.Set(KeyInterval, "-1h")

	_, err = Load(v)
	assert.ErrorContains(t, err, "interval must be positive")
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	v, err := New()
	require.NoError(t, err)
	v.Set(KeyDB, "~/catalog.db")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "catalog.db"), cfg.DBPath)
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "cratesync.db")
	require.NoError(t, EnsureDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
