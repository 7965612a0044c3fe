package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/reconciler"
	"github.com/blackwell-systems/cratesync/internal/store"
)

// DefaultDebounce is how long the dump must stay quiet after a write before
// an import starts. Dumps are large and usually written in many chunks.
const DefaultDebounce = 5 * time.Second

// Options configure a Watcher.
type Options struct {
	// DumpPath is the catalog dump to import. Required.
	DumpPath string
	// Interval between scheduled imports. Zero disables the ticker.
	Interval time.Duration
	// Debounce delays imports triggered by file events. Defaults to
	// DefaultDebounce.
	Debounce time.Duration
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Watcher re-imports the catalog dump when it changes and on a fixed
// interval. Only one import runs at a time; a failed import is logged and
// retried at the next trigger.
type Watcher struct {
	store *store.Store
	rec   *reconciler.Reconciler
	opts  Options
	log   logrus.FieldLogger

	mu      sync.Mutex
	running bool
	fs      *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Watcher instance.
func New(st *store.Store, rec *reconciler.Reconciler, opts Options) (*Watcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if opts.DumpPath == "" {
		return nil, fmt.Errorf("dump path cannot be empty")
	}
	if opts.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	abs, err := filepath.Abs(opts.DumpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dump path: %w", err)
	}
	opts.DumpPath = abs

	return &Watcher{
		store: st,
		rec:   rec,
		opts:  opts,
		log:   opts.Logger.WithField("dump", abs),
	}, nil
}

// Start watches the dump's directory and starts the scheduler. An import
// runs right away if the dump is newer than the last completed import.
// The dump's directory must exist; the dump itself may appear later.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the directory rather than the file so an atomic rename of a
	// fresh dump into place is seen.
	dir := filepath.Dir(w.opts.DumpPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.fs = fsw
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.WithField("interval", w.opts.Interval.String()).Info("watching catalog dump")
	return nil
}

// Stop halts the watcher. An import in progress is cancelled and rolled
// back. Stop is safe to call before Start and more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	fsw := w.fs
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(w.opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	// Catch up on a dump written while the watcher was not running.
	w.trigger(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.isDumpEvent(event) {
				debounce.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("file watch error")

		case <-debounce.C:
			w.trigger(ctx, "dump changed")

		case <-tick:
			w.trigger(ctx, "interval")
		}
	}
}

func (w *Watcher) isDumpEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.opts.DumpPath {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

// trigger runs one import and logs the outcome.
func (w *Watcher) trigger(ctx context.Context, reason string) {
	log := w.log.WithField("trigger", reason)

	report, err := w.RunOnce(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("import cancelled")
	case errors.Is(err, os.ErrNotExist):
		log.Debug("no catalog dump yet")
	case err != nil:
		log.WithError(err).WithField("retryable", reconciler.IsRetryable(err)).Error("import failed; will retry at next trigger")
	case report == nil:
		log.Debug("catalog dump unchanged since last import")
	default:
		log.WithField("run_id", report.RunID).Info("import completed")
	}
}

// RunOnce imports the dump if it is newer than the last completed import.
// It returns a nil report when the dump is up to date.
func (w *Watcher) RunOnce(ctx context.Context) (*reconciler.Report, error) {
	stale, err := w.Stale(ctx)
	if err != nil || !stale {
		return nil, err
	}

	dump, err := catalog.OpenDump(w.opts.DumpPath)
	if err != nil {
		return nil, err
	}
	defer dump.Close()

	return w.rec.Reconcile(ctx, dump)
}

// Stale reports whether the dump differs from the one read by the last
// completed import. The ledger records the modification time of the file a
// pass actually opened, so a dump replaced while a pass was running is still
// stale afterwards. Ledger rows without a file mtime fall back to the
// completion time. A missing ledger counts as stale; a missing dump is an
// error matching os.ErrNotExist.
func (w *Watcher) Stale(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.opts.DumpPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat catalog dump: %w", err)
	}

	last, err := w.store.LastImportRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		return true, w.store.CreateSchemaContext(ctx)
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	}

	return DumpChanged(info.ModTime(), last), nil
}

// DumpChanged reports whether a dump with modification time modTime differs
// from the one read by run.
func DumpChanged(modTime time.Time, run *store.ImportRun) bool {
	if !run.SourceModTime.IsZero() {
		return !modTime.Equal(run.SourceModTime)
	}
	return modTime.After(run.ImportedAt)
}
