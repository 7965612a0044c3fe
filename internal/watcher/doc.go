// Package watcher keeps the local catalog in step with a dump file.
//
// A Watcher watches the dump's directory with fsnotify and runs an import
// once writes to the dump have been quiet for the debounce period. A ticker
// also runs an import every interval (24h by default). Either trigger is
// skipped when the dump is older than the last completed import, so a
// daemon restart does not re-import an unchanged dump.
//
// Imports never overlap: triggers are handled on one goroutine. A failed
// import is logged and tried again at the next trigger.
//
// Example usage:
//
//	st, err := store.New("~/.cratesync/cratesync.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	rec := reconciler.New(st, reconciler.Options{})
//	w, err := watcher.New(st, rec, watcher.Options{
//		DumpPath: "/data/crates.jsonl.gz",
//		Interval: 24 * time.Hour,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Start watching in foreground
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
//
//	// Or start as daemon
//	if err := watcher.StartDaemon("/tmp/cratesync.pid", "/tmp/cratesync.log", nil); err != nil {
//		log.Fatal(err)
//	}
package watcher
