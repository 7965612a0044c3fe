// Package config resolves cratesync settings.
//
// Values are layered, highest precedence first: command-line flags bound by
// the caller, CRATESYNC_* environment variables, the config file, and the
// defaults below. The config file is optional; when --config is not given,
// config.yaml (or .toml/.json) is looked up in Dir().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys understood by Load. Flags are bound under the same names.
const (
	KeyDB       = "db"
	KeyDump     = "dump"
	KeyInterval = "interval"
	KeyLogLevel = "log-level"
	KeyLogFile  = "log-file"
	KeyPIDFile  = "pid-file"
	KeyUser     = "user"
)

// EnvPrefix prefixes every environment variable, e.g. CRATESYNC_DB.
const EnvPrefix = "CRATESYNC"

// DefaultInterval is how often the watcher re-imports when the dump does not
// change.
const DefaultInterval = 24 * time.Hour

// Config holds the resolved settings.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string
	// DumpPath is the catalog dump read by import and watch.
	DumpPath string
	// Interval between scheduled imports in watch mode.
	Interval time.Duration
	// LogLevel is a logrus level name.
	LogLevel string
	// LogFile receives daemon logs. Rotated by size.
	LogFile string
	// PIDFile records the daemon process id.
	PIDFile string
	// User is the default account for follow/unfollow/followed.
	User string
}

// Dir returns the cratesync config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/cratesync if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cratesync"), nil
}

// DataDir returns ~/.cratesync, where the database, PID file and daemon log
// live by default.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".cratesync"), nil
}

// New returns a viper instance with cratesync defaults and environment
// binding applied.
func New() (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	data, err := DataDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault(KeyDB, filepath.Join(data, "cratesync.db"))
	v.SetDefault(KeyDump, filepath.Join(data, "crates.jsonl.gz"))
	v.SetDefault(KeyInterval, DefaultInterval)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, filepath.Join(data, "watch.log"))
	v.SetDefault(KeyPIDFile, filepath.Join(data, "watch.pid"))
	v.SetDefault(KeyUser, "")

	return v, nil
}

// ReadFile loads the config file into v. An explicit path must exist; the
// default location is optional.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := Dir()
		if err != nil {
			return fmt.Errorf("failed to resolve config directory: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load resolves a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath:   expandHome(v.GetString(KeyDB)),
		DumpPath: expandHome(v.GetString(KeyDump)),
		Interval: v.GetDuration(KeyInterval),
		LogLevel: v.GetString(KeyLogLevel),
		LogFile:  expandHome(v.GetString(KeyLogFile)),
		PIDFile:  expandHome(v.GetString(KeyPIDFile)),
		User:     v.GetString(KeyUser),
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", v.GetString(KeyInterval))
	}

	return cfg, nil
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
