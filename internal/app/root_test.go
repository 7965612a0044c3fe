package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "cratesync" {
		t.Errorf("expected Use to be 'cratesync', got '%s'", RootCmd.Use)
	}

	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	expectedCommands := []string{
		"import", "watch", "status", "search", "history", "doctor",
		"user", "follow", "unfollow", "followed",
	}
	foundCommands := make(map[string]bool)

	for _, cmd := range RootCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"db", "config", "log-level"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}
}

func TestRoot_NoDatabaseHint(t *testing.T) {
	db := testEnv(t)

	out, err := run(t, "", "--db", db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "cratesync import") {
		t.Errorf("expected import hint, got:\n%s", out)
	}
}

func TestConfig_FlagOverridesDefault(t *testing.T) {
	db := testEnv(t)

	if _, err := run(t, "", "--db", db, "--log-level", "warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != db {
		t.Errorf("expected db %s, got %s", db, cfg.DBPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.LogLevel)
	}
}

func TestConfig_EnvironmentVariable(t *testing.T) {
	db := testEnv(t)
	t.Setenv("CRATESYNC_DB", db)

	if _, err := run(t, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != db {
		t.Errorf("expected db from environment %s, got %s", db, cfg.DBPath)
	}
}

func TestConfig_DefaultConfigFile(t *testing.T) {
	testEnv(t)

	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "cratesync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(t.TempDir(), "from-config.db")
	content := "db: " + db + "\ninterval: 2h\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != db {
		t.Errorf("expected db from config file %s, got %s", db, cfg.DBPath)
	}
	if cfg.Interval.String() != "2h0m0s" {
		t.Errorf("expected interval 2h, got %s", cfg.Interval)
	}
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	testEnv(t)

	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_InvalidLogLevel(t *testing.T) {
	db := testEnv(t)

	_, err := run(t, "", "--db", db, "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected invalid log level error, got %v", err)
	}
}
