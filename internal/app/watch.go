package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/config"
	"github.com/blackwell-systems/cratesync/internal/output"
	"github.com/blackwell-systems/cratesync/internal/reconciler"
	"github.com/blackwell-systems/cratesync/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Re-import the catalog when the dump changes",
		Long: `Watch keeps the local catalog in sync with the catalog dump.

An import runs:
  • At startup, if the dump is newer than the last completed import
  • When the dump file is written or replaced (debounced)
  • Every --interval (default 24h), if the dump changed since the last import

A failed import is logged and retried at the next trigger; the catalog stays
as it was after the last successful import.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as background process, logging to a rotated log file
  • Stop: Stop a running daemon`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  cratesync watch

  # Run as background daemon
  cratesync watch --daemon

  # Stop running daemon
  cratesync watch --stop

  # Use custom dump, PID and log files
  cratesync watch --daemon --dump /srv/crates.jsonl.gz --pid-file /tmp/watch.pid --log-file /tmp/watch.log`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().String(config.KeyDump, "", "catalog dump path (default: ~/.cratesync/crates.jsonl.gz)")
	watchCmd.Flags().String(config.KeyInterval, "", "time between scheduled imports (default: 24h)")
	watchCmd.Flags().String(config.KeyPIDFile, "", "PID file path (default: ~/.cratesync/watch.pid)")
	watchCmd.Flags().String(config.KeyLogFile, "", "log file path (default: ~/.cratesync/watch.log)")

	// Hide the internal daemon-child flag from help
	watchCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchStop {
		return stopWatchDaemon(cmd.OutOrStdout())
	}

	if err := config.EnsureDir(cfg.PIDFile); err != nil {
		return err
	}

	if watchDaemon {
		if err := config.EnsureDir(cfg.LogFile); err != nil {
			return err
		}
		return startWatchDaemon(cmd.OutOrStdout())
	}

	if watchDaemonChild {
		logW := watcher.NewLogWriter(cfg.LogFile)
		defer logW.Close()
		logrus.SetOutput(logW)
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateSchemaContext(cmd.Context()); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	rec := reconciler.New(st, reconciler.Options{})
	w, err := watcher.New(st, rec, watcher.Options{
		DumpPath: cfg.DumpPath,
		Interval: cfg.Interval,
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if watchDaemonChild {
		// stdout/stderr go to the .stderr file next to the log file
		return w.RunDaemon(cfg.PIDFile)
	}

	return runWatchForeground(cmd.OutOrStdout(), w)
}

func stopWatchDaemon(out io.Writer) error {
	running, err := watcher.IsDaemonRunning(cfg.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.SetWriter(out)
	spinner.Start()
	if err := watcher.StopDaemon(cfg.PIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")

	return nil
}

// daemonArgs forwards the resolved settings to the daemon child, which does
// not inherit flags.
func daemonArgs() []string {
	args := []string{
		"--" + config.KeyDB, cfg.DBPath,
		"--" + config.KeyDump, cfg.DumpPath,
		"--" + config.KeyInterval, cfg.Interval.String(),
		"--" + config.KeyPIDFile, cfg.PIDFile,
		"--" + config.KeyLogFile, cfg.LogFile,
		"--" + config.KeyLogLevel, cfg.LogLevel,
	}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}

func startWatchDaemon(out io.Writer) error {
	spinner := output.NewSpinner("Starting daemon")
	spinner.SetWriter(out)
	spinner.Start()
	if err := watcher.StartDaemon(cfg.PIDFile, cfg.LogFile, daemonArgs()); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Fprintf(out, "\nCatalog watch daemon started\n")
	fmt.Fprintf(out, "  Dump:     %s\n", cfg.DumpPath)
	fmt.Fprintf(out, "  Interval: %s\n", cfg.Interval)
	fmt.Fprintf(out, "  PID file: %s\n", cfg.PIDFile)
	fmt.Fprintf(out, "  Log file: %s\n", cfg.LogFile)
	fmt.Fprintf(out, "  Output:   %s\n", watcher.StderrPath(cfg.LogFile))
	fmt.Fprintf(out, "\nTo stop: cratesync watch --stop\n")

	return nil
}

func runWatchForeground(out io.Writer, w *watcher.Watcher) error {
	fmt.Fprintf(out, "Watching %s (press Ctrl+C to stop)...\n\n", cfg.DumpPath)

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)

	if err := w.Stop(); err != nil {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	fmt.Fprintln(out, "✓ Watcher stopped")

	return nil
}
