package reconciler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateSchema())
	return s
}

// fakeClock returns a clock that advances one second per call.
func fakeClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newTestReconciler(t *testing.T, s *store.Store) *Reconciler {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(s, Options{
		Now:    fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger: logger,
	})
}

func str(s string) *string { return &s }

func sampleCatalog() []*catalog.RawCrate {
	return []*catalog.RawCrate{
		{Name: "serde", Description: "Serialization framework", Homepage: str("https://serde.rs"), Versions: []string{"1.0.0", "1.0.190"}, Downloads: 300},
		{Name: "rand", Description: "Random numbers", Versions: []string{"1.0.0", "1.2.0", "2.0.0-beta"}, Downloads: 250},
		{Name: "nightly-only", Description: "Only prereleases", Versions: []string{"0.1.0-alpha", "0.1.0-beta"}, Downloads: 3},
	}
}

func reconcile(t *testing.T, r *Reconciler, records ...*catalog.RawCrate) *Report {
	t.Helper()
	report, err := r.Reconcile(context.Background(), catalog.NewSliceSource(records...))
	require.NoError(t, err)
	return report
}

func defaultVersion(t *testing.T, s *store.Store, name string) string {
	t.Helper()
	c, err := s.GetCrateByName(context.Background(), name)
	require.NoError(t, err)
	v, err := s.GetDefaultVersion(context.Background(), c.ID)
	require.NoError(t, err)
	return v.Number
}

func TestReconcile_Completeness(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	report := reconcile(t, r, sampleCatalog()...)

	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 3, report.CratesInserted)
	assert.Equal(t, 7, report.VersionsAdded)
	assert.Equal(t, 3, report.DefaultVersionsChanged)
	assert.Equal(t, 3, report.Crates)
	assert.Equal(t, 7, report.Versions)
	assert.NotZero(t, report.RunID)
	assert.NotEmpty(t, report.PassID)

	for _, rec := range sampleCatalog() {
		c, err := s.GetCrateByName(ctx, rec.Name)
		require.NoError(t, err)
		assert.Equal(t, rec.Description, c.Description)

		downloads, err := s.GetDownloads(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Downloads, downloads)

		_, err = s.GetDefaultVersion(ctx, c.ID)
		assert.NoError(t, err, "crate %s should have a default version", rec.Name)
	}

	assert.NoError(t, s.CheckIntegrity(ctx))
}

func TestReconcile_DefaultVersionDeterminism(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)

	reconcile(t, r, sampleCatalog()...)

	assert.Equal(t, "1.2.0", defaultVersion(t, s, "rand"))
	assert.Equal(t, "0.1.0-beta", defaultVersion(t, s, "nightly-only"))
	assert.Equal(t, "1.0.190", defaultVersion(t, s, "serde"))
}

func TestReconcile_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, sampleCatalog()...)
	before, err := s.SearchCrates(ctx, "", 0)
	require.NoError(t, err)

	report := reconcile(t, r, sampleCatalog()...)
	assert.False(t, report.Changed(), "second identical pass should not change anything: %+v", report)
	assert.Equal(t, 3, report.CratesUnchanged)
	assert.Zero(t, report.VersionsAdded)

	after, err := s.SearchCrates(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].UpdatedAt, after[i].UpdatedAt, "updated_at of %s moved", before[i].Name)
		assert.Equal(t, before[i].Downloads, after[i].Downloads)
		assert.Equal(t, before[i].DefaultVersion, after[i].DefaultVersion)
	}
}

func TestReconcile_UpdatesOnlyChangedCrates(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, sampleCatalog()...)
	serdeBefore, err := s.GetCrateByName(ctx, "serde")
	require.NoError(t, err)
	randBefore, err := s.GetCrateByName(ctx, "rand")
	require.NoError(t, err)

	records := sampleCatalog()
	records[0].Description = "A generic serialization framework"
	records[0].Repository = str("https://github.com/serde-rs/serde")

	report := reconcile(t, r, records...)
	assert.Equal(t, 1, report.CratesUpdated)
	assert.Equal(t, 2, report.CratesUnchanged)

	serdeAfter, err := s.GetCrateByName(ctx, "serde")
	require.NoError(t, err)
	assert.Equal(t, serdeBefore.ID, serdeAfter.ID)
	assert.Equal(t, serdeBefore.CreatedAt, serdeAfter.CreatedAt)
	assert.True(t, serdeAfter.UpdatedAt.After(serdeBefore.UpdatedAt))
	assert.Equal(t, "A generic serialization framework", serdeAfter.Description)
	require.NotNil(t, serdeAfter.Repository)
	assert.Equal(t, "https://github.com/serde-rs/serde", *serdeAfter.Repository)

	randAfter, err := s.GetCrateByName(ctx, "rand")
	require.NoError(t, err)
	assert.Equal(t, randBefore.UpdatedAt, randAfter.UpdatedAt)
}

func TestReconcile_DownloadsAreReplaced(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "tokio", Versions: []string{"1.0.0"}, Downloads: 100})
	report := reconcile(t, r, &catalog.RawCrate{Name: "tokio", Versions: []string{"1.0.0"}, Downloads: 175})
	assert.Equal(t, 1, report.DownloadsChanged)

	c, err := s.GetCrateByName(ctx, "tokio")
	require.NoError(t, err)
	downloads, err := s.GetDownloads(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(175), downloads)
}

func TestReconcile_Cleanup(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, sampleCatalog()...)

	report := reconcile(t, r, sampleCatalog()[0])
	assert.Equal(t, 2, report.CratesDeleted)

	_, err := s.GetCrateByName(ctx, "rand")
	assert.ErrorIs(t, err, store.ErrNotFound)

	counts, err := s.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Crates)
	assert.Equal(t, 2, counts.Versions)
	assert.Equal(t, 1, counts.DefaultVersions)

	var downloads int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM crate_downloads`).Scan(&downloads))
	assert.Equal(t, 1, downloads)
}

func TestReconcile_EmptySourceWipesCatalog(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)

	reconcile(t, r, sampleCatalog()...)
	report := reconcile(t, r)
	assert.Equal(t, 3, report.CratesDeleted)

	counts, err := s.GetCounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Crates)
	assert.Zero(t, counts.Versions)
	assert.Zero(t, counts.DefaultVersions)
}

func TestReconcile_CrateWithoutVersions(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "placeholder", Description: "reserved"})

	c, err := s.GetCrateByName(ctx, "placeholder")
	require.NoError(t, err)
	_, err = s.GetDefaultVersion(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, s.CheckIntegrity(ctx))
}

func TestReconcile_VersionsAreImmutable(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "log", Versions: []string{"0.4.0", "0.4.20"}})
	c, err := s.GetCrateByName(ctx, "log")
	require.NoError(t, err)
	before, err := s.ListVersions(ctx, c.ID)
	require.NoError(t, err)

	// The newer record omits 0.4.20 and adds 0.4.21; recorded versions stay.
	report := reconcile(t, r, &catalog.RawCrate{Name: "log", Versions: []string{"0.4.0", "0.4.21"}})
	assert.Equal(t, 1, report.VersionsAdded)

	after, err := s.ListVersions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
	assert.Equal(t, "0.4.21", defaultVersion(t, s, "log"))

	// A record with no versions keeps the link over stored versions.
	reconcile(t, r, &catalog.RawCrate{Name: "log"})
	assert.Equal(t, "0.4.21", defaultVersion(t, s, "log"))
}

func TestReconcile_DefaultVersionMovesWithNewRelease(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)

	reconcile(t, r, &catalog.RawCrate{Name: "clap", Versions: []string{"3.2.0", "4.0.0-rc.1"}})
	assert.Equal(t, "3.2.0", defaultVersion(t, s, "clap"))

	report := reconcile(t, r, &catalog.RawCrate{Name: "clap", Versions: []string{"3.2.0", "4.0.0-rc.1", "4.0.0"}})
	assert.Equal(t, 1, report.DefaultVersionsChanged)
	assert.Equal(t, "4.0.0", defaultVersion(t, s, "clap"))
}

func TestReconcile_FavoriteSurvivesUpdate(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "foo", Description: "old", Versions: []string{"1.0.0"}})

	user, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	foo, err := s.GetCrateByName(ctx, "foo")
	require.NoError(t, err)
	require.NoError(t, s.Follow(ctx, user.ID, foo.ID))

	report := reconcile(t, r, &catalog.RawCrate{Name: "foo", Description: "new", Versions: []string{"1.0.0"}})
	assert.Equal(t, 1, report.CratesUpdated)
	assert.Zero(t, report.FavoritesRemoved)

	followed, err := s.ListFollowedCrates(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, followed, 1)
	assert.Equal(t, "foo", followed[0].Name)
	assert.Equal(t, "new", followed[0].Description)
}

func TestReconcile_FavoritesOfRemovedCratesAreDropped(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, sampleCatalog()...)

	user, err := s.CreateUser(ctx, "bob", "hash")
	require.NoError(t, err)
	for _, name := range []string{"serde", "rand"} {
		c, err := s.GetCrateByName(ctx, name)
		require.NoError(t, err)
		require.NoError(t, s.Follow(ctx, user.ID, c.ID))
	}

	report := reconcile(t, r, sampleCatalog()[0])
	assert.Equal(t, 1, report.FavoritesRemoved)

	followed, err := s.ListFollowedCrates(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, followed, 1)
	assert.Equal(t, "serde", followed[0].Name)

	// The user account itself is never touched.
	_, err = s.GetUserByName(ctx, "bob")
	assert.NoError(t, err)
	assert.NoError(t, s.CheckIntegrity(ctx))
}

func TestReconcile_RecreatedCrateGetsNewIdentity(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "phoenix", Versions: []string{"1.0.0"}})
	first, err := s.GetCrateByName(ctx, "phoenix")
	require.NoError(t, err)

	reconcile(t, r)
	reconcile(t, r, &catalog.RawCrate{Name: "phoenix", Versions: []string{"1.0.0"}})

	second, err := s.GetCrateByName(ctx, "phoenix")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "store ids must not be reused")
}

// failingSource yields records and then fails.
type failingSource struct {
	records []*catalog.RawCrate
	failAt  int
	calls   int
}

func (f *failingSource) Next(ctx context.Context) (*catalog.RawCrate, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("connection reset by peer")
	}
	if f.calls > len(f.records) {
		return nil, io.EOF
	}
	return f.records[f.calls-1], nil
}

func TestReconcile_AtomicUnderSourceError(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	first := reconcile(t, r, sampleCatalog()...)
	user, err := s.CreateUser(ctx, "carol", "hash")
	require.NoError(t, err)
	rand, err := s.GetCrateByName(ctx, "rand")
	require.NoError(t, err)
	require.NoError(t, s.Follow(ctx, user.ID, rand.ID))

	countsBefore, err := s.GetCounts(ctx)
	require.NoError(t, err)

	src := &failingSource{
		records: []*catalog.RawCrate{
			{Name: "serde", Description: "changed", Versions: []string{"2.0.0"}},
			{Name: "brand-new", Versions: []string{"0.1.0"}},
		},
		failAt: 3,
	}
	report, err := r.Reconcile(ctx, src)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, IsSourceError(err))
	assert.True(t, IsRetryable(err))

	countsAfter, err := s.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, countsBefore, countsAfter)

	serde, err := s.GetCrateByName(ctx, "serde")
	require.NoError(t, err)
	assert.Equal(t, "Serialization framework", serde.Description)
	_, err = s.GetCrateByName(ctx, "brand-new")
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, err := s.ListImportRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.RunID, runs[0].ID)
}

func TestReconcile_InvalidRecordAborts(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)

	_, err := r.Reconcile(context.Background(), catalog.NewSliceSource(
		&catalog.RawCrate{Name: "ok"},
		&catalog.RawCrate{Name: ""},
	))

	var srcErr *catalog.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, 2, srcErr.Record)

	counts, err := s.GetCounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Crates)
}

func TestReconcile_Cancelled(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, catalog.NewSliceSource(sampleCatalog()...))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsSourceError(err))
}

func TestReconcile_DuplicateRecordInPass(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	report := reconcile(t, r,
		&catalog.RawCrate{Name: "dup", Description: "first", Versions: []string{"1.0.0"}},
		&catalog.RawCrate{Name: "dup", Description: "second", Versions: []string{"1.1.0"}},
	)
	assert.Equal(t, 1, report.CratesInserted)
	assert.Equal(t, 1, report.DuplicateRecords)
	assert.Equal(t, 1, report.Crates)
	assert.Equal(t, 2, report.Versions)

	c, err := s.GetCrateByName(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "second", c.Description)
	assert.Equal(t, "1.1.0", defaultVersion(t, s, "dup"))
}

func TestReconcile_DuplicateChangesUnchangedCrate(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	reconcile(t, r, &catalog.RawCrate{Name: "dup", Description: "first", Versions: []string{"1.0.0"}})

	report := reconcile(t, r,
		&catalog.RawCrate{Name: "dup", Description: "first", Versions: []string{"1.0.0"}},
		&catalog.RawCrate{Name: "dup", Description: "second", Versions: []string{"1.0.0"}},
		&catalog.RawCrate{Name: "dup", Description: "third", Versions: []string{"1.0.0"}},
	)
	assert.Equal(t, 1, report.Crates)
	assert.Equal(t, 2, report.DuplicateRecords)
	assert.Equal(t, 1, report.CratesUpdated)
	assert.Zero(t, report.CratesUnchanged)
	assert.Zero(t, report.CratesInserted)

	c, err := s.GetCrateByName(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "third", c.Description)
}

func TestReconcile_RecordsLedgerEntry(t *testing.T) {
	s := setupTestStore(t)
	r := newTestReconciler(t, s)
	ctx := context.Background()

	_, ok, err := s.LastImportedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := reconcile(t, r, sampleCatalog()...)
	second := reconcile(t, r, sampleCatalog()[:1]...)
	assert.Greater(t, second.RunID, first.RunID)

	runs, err := s.ListImportRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
	assert.Equal(t, second.PassID, runs[0].PassID)
	assert.Equal(t, 1, runs[0].CrateCount)
	assert.Equal(t, 2, runs[0].VersionCount)
	assert.Equal(t, 3, runs[1].CrateCount)

	last, ok, err := s.LastImportedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, runs[0].ImportedAt, last)
}

func TestReconcile_ProgressAndLogging(t *testing.T) {
	s := setupTestStore(t)
	logger, hook := test.NewNullLogger()

	var progress []int
	r := New(s, Options{
		Logger:     logger,
		OnProgress: func(n int) { progress = append(progress, n) },
	})

	reconcile(t, r, sampleCatalog()...)
	assert.Equal(t, []int{1, 2, 3}, progress)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, "catalog reconciliation committed", last.Message)
	assert.Contains(t, last.Data, "pass_id")
	assert.Equal(t, 3, last.Data["crates_inserted"])
}

func TestReconcile_CustomKeyPolicy(t *testing.T) {
	s := setupTestStore(t)
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	reconcile(t, New(s, Options{Logger: logger}), &catalog.RawCrate{Name: "Inflector", Versions: []string{"0.11.4"}})
	original, err := s.GetCrateByName(ctx, "Inflector")
	require.NoError(t, err)

	// With a case-folding key the differently cased upstream name updates
	// the stored row in place rather than replacing it.
	folded := New(s, Options{Logger: logger, Key: strings.ToLower})
	report := reconcile(t, folded, &catalog.RawCrate{Name: "inflector", Versions: []string{"0.11.4"}})
	assert.Zero(t, report.CratesDeleted)
	assert.Zero(t, report.CratesInserted)

	assert.Equal(t, 1, report.CratesUpdated)

	// The row keeps its id and takes the upstream spelling.
	got, err := s.GetCrateByName(ctx, "inflector")
	require.NoError(t, err)
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, "inflector", got.Name)

	// Reimporting the same spelling is a no-op.
	report = reconcile(t, folded, &catalog.RawCrate{Name: "inflector", Versions: []string{"0.11.4"}})
	assert.Equal(t, 1, report.CratesUnchanged)
	assert.Zero(t, report.CratesUpdated)
}

// countingSource is a source that checks what another connection sees while
// the pass transaction is open.
type countingSource struct {
	inner  catalog.Source
	reader *store.Store
	seen   *store.Counts
	err    error
}

func (p *countingSource) Next(ctx context.Context) (*catalog.RawCrate, error) {
	rec, err := p.inner.Next(ctx)
	if errors.Is(err, io.EOF) && p.seen == nil {
		p.seen, p.err = p.reader.GetCounts(ctx)
	}
	return rec, err
}

func TestReconcile_ReadersSeeCommittedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cratesync.db")
	ctx := context.Background()

	writer, err := store.New(path)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.CreateSchema())

	reader, err := store.New(path)
	require.NoError(t, err)
	defer reader.Close()

	r := newTestReconciler(t, writer)
	reconcile(t, r, sampleCatalog()...)

	src := &countingSource{
		inner:  catalog.NewSliceSource(&catalog.RawCrate{Name: "only-one", Versions: []string{"1.0.0"}}),
		reader: reader,
	}
	_, err = r.Reconcile(ctx, src)
	require.NoError(t, err)

	require.NoError(t, src.err)
	require.NotNil(t, src.seen)
	assert.Equal(t, 3, src.seen.Crates, "reader must not see uncommitted inserts or deletes")

	after, err := reader.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Crates)
}
