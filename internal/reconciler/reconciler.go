// Package reconciler brings the local crate catalog into agreement with one
// full pass of an upstream record source.
//
// A pass runs in a single store transaction:
//
//  1. every record upserts its crate (matched by key, name by default),
//     inserts unseen version numbers, replaces the download counter and
//     re-links the default version;
//  2. crates that did not appear in the pass are deleted, cascading to their
//     versions, counters, default links and favorites;
//  3. the favorite and default-version edges are validated explicitly;
//  4. the ledger row is appended and the transaction commits.
//
// Any failure rolls the whole pass back, so readers only ever observe the
// catalog as it was before the pass or as it is after it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/store"
)

// KeyFunc maps a crate name onto the identity used to match upstream
// records against stored rows. It must be injective over stored names. A
// matched row takes the upstream record's spelling of the name.
type KeyFunc func(name string) string

// KeyByName matches crates by their exact name. Upstream ids are never used:
// they are not stable across dumps.
func KeyByName(name string) string {
	return name
}

// Options tune a Reconciler. The zero value is usable.
type Options struct {
	// Key selects crate identity. Defaults to KeyByName.
	Key KeyFunc
	// Now supplies pass timestamps. Defaults to time.Now.
	Now func() time.Time
	// Logger receives pass progress. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// OnProgress, when set, is called after each record with the number of
	// records processed so far.
	OnProgress func(processed int)
}

// Reconciler is the sole writer of catalog rows during a pass.
type Reconciler struct {
	store *store.Store
	opts  Options
}

// New creates a Reconciler over st.
func New(st *store.Store, opts Options) *Reconciler {
	if opts.Key == nil {
		opts.Key = KeyByName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Reconciler{store: st, opts: opts}
}

// crateState tracks one stored crate through the pass.
type crateState struct {
	crate    *store.Crate
	seen     bool
	outcome  outcome
	versions int
}

// outcome is how a crate was counted in the report on its first record.
type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeInserted
)

// pass holds the working state of one Reconcile call.
type pass struct {
	tx      *store.ImportTx
	index   map[string]*crateState
	order   []*crateState // stored crates in id order, for deterministic cleanup
	now     time.Time
	report  *Report
	log     logrus.FieldLogger
	keyFunc KeyFunc
}

// Reconcile consumes src to exhaustion and commits the reconciled catalog.
//
// Errors:
//   - *catalog.SourceError: the source failed part-way; nothing was written.
//   - store.ErrConstraintViolation (errors.Is): an integrity rule would have
//     been broken at commit; nothing was written.
//   - *TransactionError: the transaction could not begin or commit.
//
// An empty source deletes every crate.
func (r *Reconciler) Reconcile(ctx context.Context, src catalog.Source) (*Report, error) {
	started := r.opts.Now()
	passID := uuid.NewString()
	log := r.opts.Logger.WithField("pass_id", passID)

	log.Info("starting catalog reconciliation")

	tx, err := r.store.BeginImport(ctx)
	if err != nil {
		return nil, r.fail(log, &TransactionError{Op: "begin", Err: err})
	}
	defer tx.Rollback() //nolint:errcheck

	p := &pass{
		tx:      tx,
		now:     started.UTC(),
		report:  &Report{PassID: passID, StartedAt: started},
		log:     log,
		keyFunc: r.opts.Key,
	}

	if err := p.loadIndex(ctx); err != nil {
		return nil, r.fail(log, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(log, fmt.Errorf("import cancelled: %w", err))
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, r.fail(log, sourceError(err))
		}
		if err := rec.Validate(); err != nil {
			return nil, r.fail(log, &catalog.SourceError{Record: p.report.Records + 1, Err: err})
		}

		if err := p.apply(ctx, rec); err != nil {
			return nil, r.fail(log, err)
		}

		p.report.Records++
		if r.opts.OnProgress != nil {
			r.opts.OnProgress(p.report.Records)
		}
	}

	if err := p.removeMissing(ctx); err != nil {
		return nil, r.fail(log, err)
	}

	log.Debug("validating catalog integrity")
	if err := tx.CheckIntegrity(ctx); err != nil {
		return nil, r.fail(log, storeError("integrity check", err))
	}

	report := p.report
	report.Duration = r.opts.Now().Sub(started)

	run := &store.ImportRun{
		ImportedAt:   r.opts.Now(),
		PassID:       passID,
		CrateCount:   report.Crates,
		VersionCount: report.Versions,
		Duration:     report.Duration,
	}
	if mt, ok := src.(catalog.ModTimer); ok {
		run.SourceModTime = mt.ModTime()
	}

	runID, err := tx.RecordCompletion(ctx, run)
	if err != nil {
		return nil, r.fail(log, storeError("record import run", err))
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			return nil, r.fail(log, fmt.Errorf("commit: %w", err))
		}
		return nil, r.fail(log, &TransactionError{Op: "commit", Err: err})
	}
	report.RunID = runID

	log.WithFields(logrus.Fields{
		"run_id":            runID,
		"records":           report.Records,
		"crates_inserted":   report.CratesInserted,
		"crates_updated":    report.CratesUpdated,
		"crates_deleted":    report.CratesDeleted,
		"versions_added":    report.VersionsAdded,
		"favorites_removed": report.FavoritesRemoved,
		"duration":          report.Duration.String(),
	}).Info("catalog reconciliation committed")

	return report, nil
}

func (r *Reconciler) fail(log logrus.FieldLogger, err error) error {
	log.WithError(err).Error("catalog reconciliation rolled back")
	return err
}

// loadIndex reads every stored crate into the key index.
func (p *pass) loadIndex(ctx context.Context) error {
	crates, err := p.tx.ListCrates(ctx)
	if err != nil {
		return storeError("load crates", err)
	}

	p.index = make(map[string]*crateState, len(crates))
	p.order = make([]*crateState, 0, len(crates))
	for _, c := range crates {
		k := p.keyFunc(c.Name)
		if _, dup := p.index[k]; dup {
			return fmt.Errorf("crate key %q matches more than one stored crate: %w", k, store.ErrConstraintViolation)
		}
		st := &crateState{crate: c}
		p.index[k] = st
		p.order = append(p.order, st)
	}

	p.log.WithField("crates", len(crates)).Debug("loaded stored crates")
	return nil
}

// apply reconciles a single record.
func (p *pass) apply(ctx context.Context, rec *catalog.RawCrate) error {
	k := p.keyFunc(rec.Name)
	st, existed := p.index[k]

	switch {
	case !existed:
		c := &store.Crate{
			Name:        rec.Name,
			CreatedAt:   p.now,
			UpdatedAt:   p.now,
			Description: rec.Description,
			Homepage:    rec.Homepage,
			Readme:      rec.Readme,
			Repository:  rec.Repository,
		}
		if err := p.tx.InsertCrate(ctx, c); err != nil {
			return storeError("insert crate", err)
		}
		st = &crateState{crate: c, outcome: outcomeInserted}
		p.index[k] = st
		p.report.CratesInserted++

	case fieldsDiffer(st.crate, rec):
		c := st.crate
		c.Name = rec.Name
		c.Description = rec.Description
		c.Homepage = rec.Homepage
		c.Readme = rec.Readme
		c.Repository = rec.Repository
		c.UpdatedAt = p.now
		if err := p.tx.UpdateCrate(ctx, c); err != nil {
			return storeError("update crate", err)
		}
		p.countUpdated(st)

	default:
		if !st.seen {
			st.outcome = outcomeUnchanged
			p.report.CratesUnchanged++
		}
	}

	if st.seen {
		p.report.DuplicateRecords++
	} else {
		st.seen = true
		p.report.Crates++
	}

	versions, err := p.syncVersions(ctx, st, existed, rec.Versions)
	if err != nil {
		return err
	}

	changed, err := p.tx.SetDownloads(ctx, st.crate.ID, rec.Downloads)
	if err != nil {
		return storeError("set downloads", err)
	}
	if changed {
		p.report.DownloadsChanged++
	}

	return p.linkDefault(ctx, st, versions)
}

// countUpdated records that st's fields changed. A crate counts once: a
// later duplicate that changes a crate first counted as unchanged moves it to
// updated, and an inserted crate stays inserted.
func (p *pass) countUpdated(st *crateState) {
	switch {
	case !st.seen:
		st.outcome = outcomeUpdated
		p.report.CratesUpdated++
	case st.outcome == outcomeUnchanged:
		st.outcome = outcomeUpdated
		p.report.CratesUnchanged--
		p.report.CratesUpdated++
	}
}

// syncVersions inserts version numbers the crate does not have yet and
// returns every stored version as number -> id. Existing rows are never
// modified.
func (p *pass) syncVersions(ctx context.Context, st *crateState, existed bool, numbers []string) (map[string]int64, error) {
	versions := make(map[string]int64, len(numbers))
	if existed || st.seen {
		stored, err := p.tx.VersionIDs(ctx, st.crate.ID)
		if err != nil {
			return nil, storeError("load versions", err)
		}
		versions = stored
	}

	for _, n := range numbers {
		if _, ok := versions[n]; ok {
			continue
		}
		id, err := p.tx.InsertVersion(ctx, st.crate.ID, n)
		if err != nil {
			return nil, storeError("insert version", err)
		}
		versions[n] = id
		p.report.VersionsAdded++
	}

	p.report.Versions += len(versions) - st.versions
	st.versions = len(versions)
	return versions, nil
}

// linkDefault points the crate at its default version. The choice is made
// over every stored version, not just the ones in the record, so a crate
// with versions always ends the pass with a link.
func (p *pass) linkDefault(ctx context.Context, st *crateState, versions map[string]int64) error {
	if len(versions) == 0 {
		return nil
	}

	numbers := make([]string, 0, len(versions))
	for n := range versions {
		numbers = append(numbers, n)
	}
	best, _ := catalog.DefaultVersion(numbers)

	changed, err := p.tx.SetDefaultVersion(ctx, st.crate.ID, versions[best])
	if err != nil {
		return storeError("set default version", err)
	}
	if changed {
		p.report.DefaultVersionsChanged++
	}
	return nil
}

// removeMissing deletes stored crates that the pass did not mention.
func (p *pass) removeMissing(ctx context.Context) error {
	for _, st := range p.order {
		if st.seen {
			continue
		}
		favorites, err := p.tx.DeleteCrate(ctx, st.crate.ID)
		if err != nil {
			return storeError("delete crate", err)
		}
		p.report.CratesDeleted++
		p.report.FavoritesRemoved += favorites

		if favorites > 0 {
			p.log.WithFields(logrus.Fields{
				"crate":     st.crate.Name,
				"favorites": favorites,
			}).Warn("crate removed upstream; dropping its favorites")
		}
	}

	if p.report.CratesDeleted > 0 {
		p.log.WithField("crates", p.report.CratesDeleted).Debug("removed crates missing upstream")
	}
	return nil
}

// fieldsDiffer reports whether the name or any mutable crate field differs
// from the record. Unchanged crates are left alone so updated_at only moves on real
// changes.
func fieldsDiffer(c *store.Crate, rec *catalog.RawCrate) bool {
	return c.Name != rec.Name ||
		c.Description != rec.Description ||
		!equalPtr(c.Homepage, rec.Homepage) ||
		!equalPtr(c.Readme, rec.Readme) ||
		!equalPtr(c.Repository, rec.Repository)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
