package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blackwell-systems/cratesync/internal/config"
)

var (
	cfgFile string

	// cfg is resolved from flags, environment and the config file before
	// every command runs.
	cfg *config.Config

	// RootCmd is the root command for cratesync
	RootCmd = &cobra.Command{
		Use:   "cratesync",
		Short: "Keep a local copy of the crates.io catalog in sync",
		Long: `cratesync imports the crates.io catalog (crates, versions, download counts)
into a local SQLite database and keeps it in sync with upstream, while
preserving user data such as accounts and favorites.

Every import is a full pass over a catalog dump applied in a single
transaction: readers see either the previous catalog or the new one, never
a mix. Crates are matched by name, so favorites survive re-imports.

Quick Start:
  1. cratesync import crates.jsonl.gz
  2. cratesync watch --daemon       # re-import when the dump changes
  3. cratesync search serde

Examples:
  # Show catalog and daemon status
  cratesync status

  # Check database integrity
  cratesync doctor

  # Follow a crate
  cratesync user add alice
  cratesync follow serde --user alice`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "cratesync: local crates.io catalog sync")
			fmt.Fprintln(out)
			if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
				fmt.Fprintln(out, "Run 'cratesync import <dump>' to create the catalog.")
			} else {
				fmt.Fprintln(out, "Tip: Run 'cratesync status' to check the catalog.")
			}
			fmt.Fprintln(out, "Run 'cratesync --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cratesync/config.yaml)")
	RootCmd.PersistentFlags().String(config.KeyDB, "", "database path (default: ~/.cratesync/cratesync.db)")
	RootCmd.PersistentFlags().String(config.KeyLogLevel, "", "log level: debug, info, warn or error (default: info)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command. Cancelling ctx aborts a running import.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// flagKeys are the config keys that may be overridden by a flag of the same
// name on the running command.
var flagKeys = []string{
	config.KeyDB,
	config.KeyDump,
	config.KeyInterval,
	config.KeyLogLevel,
	config.KeyLogFile,
	config.KeyPIDFile,
	config.KeyUser,
}

// initConfig resolves cfg and configures logging.
func initConfig(cmd *cobra.Command, args []string) error {
	v, err := config.New()
	if err != nil {
		return err
	}

	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}

	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	return setupLogging(cmd, cfg.LogLevel)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for _, key := range flagKeys {
		flag := cmd.Flags().Lookup(key)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", key, err)
		}
	}
	return nil
}

// setupLogging sends logrus output to stderr at the configured level.
func setupLogging(cmd *cobra.Command, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logrus.SetLevel(lvl)
	logrus.SetOutput(cmd.ErrOrStderr())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return nil
}
