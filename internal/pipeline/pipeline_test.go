package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/loader"
	"github.com/roach88/epiboard/internal/names"
	"github.com/roach88/epiboard/internal/querysql"
	"github.com/roach88/epiboard/internal/source"
	"github.com/roach88/epiboard/internal/store"
	"github.com/roach88/epiboard/internal/testutil"
)

// stubFetcher serves fixed snapshots, or err when set.
type stubFetcher struct {
	bodies map[epi.Metric][]byte
	err    error
	calls  int
}

func (f *stubFetcher) FetchAll(ctx context.Context) (map[epi.Metric]source.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[epi.Metric]source.Result, len(f.bodies))
	for m, b := range f.bodies {
		out[m] = source.Result{Metric: m, Origin: source.OriginNetwork, Body: b}
	}
	return out, nil
}

// feeds builds all three metric snapshots over n days from 2020-03-01.
func feeds(n int) map[epi.Metric][]byte {
	series := func(scale int64) []int64 {
		out := make([]int64, n)
		for i := range out {
			out[i] = scale * int64(i+1)
		}
		return out
	}
	build := func(scale int64) []byte {
		return testutil.Days("2020-03-01", n).
			Row("", "Atlantis", series(10*scale)...).
			Row("North", "Lemuria", series(2*scale)...).
			Row("South", "Lemuria", series(scale)...).
			Row("", "US", series(100*scale)...).
			Bytes()
	}
	return map[epi.Metric][]byte{
		epi.Confirmed: build(10),
		epi.Deaths:    build(1),
		epi.Recovered: build(2),
	}
}

func newPipeline(t *testing.T, st *store.Store, f Fetcher, opts Options) *Pipeline {
	t.Helper()
	if opts.Loader.Mode == "" {
		opts.Loader = loader.Options{Mode: loader.ModeAppend, CheckDays: 3}
	}
	return New(st, f, names.Default(), opts, nil)
}

func TestRefresh_LoadsFactsAndCache(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, Options{})

	commits := 0
	p.OnCommit(func() { commits++ })

	report, err := p.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-001", report.RunID)
	assert.Equal(t, source.OriginNetwork, report.Origins[epi.Deaths])
	assert.Equal(t, 9, report.Merge.Joined)
	assert.Equal(t, 9, report.Load.Appended)
	assert.Equal(t, epi.MustDate("2020-03-03"), report.Load.Watermark)
	assert.True(t, report.LocationsReplaced)
	assert.Equal(t, 9, report.DailyRows)
	assert.Positive(t, commits)

	facts, err := st.ReadFacts(ctx, querysql.Filter{Countries: []string{"Lemuria"}})
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, int64(90), facts[2].Confirmed)
	assert.Equal(t, int64(9), facts[2].Deaths)

	countries, err := st.FactCountries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Atlantis", "Lemuria", "United States"}, countries)

	locs, err := st.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, locs)

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
	assert.Equal(t, 9, runs[0].Appended)

	lock, err := st.ReadLock(ctx, LockName)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestRefresh_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	fetcher := &stubFetcher{bodies: feeds(3)}
	p := newPipeline(t, st, fetcher, Options{})

	_, err := p.Refresh(ctx)
	require.NoError(t, err)
	report, err := p.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Load.Appended)
	assert.Equal(t, 9, report.Load.Skipped)
	assert.False(t, report.LocationsReplaced)

	n, err := st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestRefresh_AppendsNewDays(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	fetcher := &stubFetcher{bodies: feeds(3)}
	p := newPipeline(t, st, fetcher, Options{})

	_, err := p.Refresh(ctx)
	require.NoError(t, err)

	fetcher.bodies = feeds(4)
	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Load.Appended)
	assert.Equal(t, epi.MustDate("2020-03-03"), report.Load.Previous)
	assert.Equal(t, epi.MustDate("2020-03-04"), report.Load.Watermark)
	assert.Equal(t, 12, report.DailyRows)
}

func TestRefresh_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	unavailable := failure.SourceUnavailable("source.fetch", errors.New("connection refused"))
	p := newPipeline(t, st, &stubFetcher{err: unavailable}, Options{})

	_, err := p.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindSourceUnavailable))

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Detail, "connection refused")

	n, err := st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefresh_CacheFailureAfterCommitIsNoted(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, Options{})

	// Let the fact append commit, then refuse every later write.
	_, err := st.DB().ExecContext(ctx, `
		CREATE TRIGGER refuse_after_append BEFORE UPDATE ON state_version
		WHEN NEW.version > 1
		BEGIN
			SELECT RAISE(ABORT, 'disk quota exceeded');
		END`)
	require.NoError(t, err)

	report, err := p.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, report.FactsCommitted)
	assert.False(t, report.LocationsReplaced)

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Equal(t, 9, runs[0].Appended)
	assert.Contains(t, runs[0].Detail, "facts committed (9 appended); cache_failed: ")
	assert.Contains(t, runs[0].Detail, "disk quota exceeded")

	n, err := st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestRefresh_MalformedFeedLeavesFactsUntouched(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	fetcher := &stubFetcher{bodies: feeds(3)}
	p := newPipeline(t, st, fetcher, Options{})
	_, err := p.Refresh(ctx)
	require.NoError(t, err)

	fetcher.bodies = feeds(4)
	fetcher.bodies[epi.Deaths] = []byte("Province/State,Country/Region,Lat,Long,3/1/20\n,Atlantis,0,0,many\n")
	_, err = p.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindIntegrity))

	wm, err := st.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, epi.MustDate("2020-03-03"), wm)
}

func TestRefresh_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	fetcher := &stubFetcher{bodies: feeds(3)}
	p := newPipeline(t, st, fetcher, Options{})

	require.NoError(t, st.AcquireLock(ctx, LockName, "other-writer", time.Hour))

	_, err := p.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrLocked)
	assert.Zero(t, fetcher.calls)

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func referenceOptions(t *testing.T, withUS bool) Options {
	pop := testutil.NewPopulation().
		Row("Atlantis", 1_000_000).
		Row("Lemuria", 250_000)
	if withUS {
		pop.Row("US", 331_000_000)
	}
	return Options{
		PopulationFile: writeFile(t, "population.csv", pop.String()),
		ContinentFile: writeFile(t, "continents.csv",
			testutil.Continents("Atlantis", "Europe", "Lemuria", "Asia", "United States", "North America")),
	}
}

func TestLoadReference(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, referenceOptions(t, true))

	n, err := p.LoadReference(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	refs, err := st.ReadReference(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "United States", refs[2].Country)
	assert.Equal(t, "North America", refs[2].Continent)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Unmatched)
}

func TestLoadReference_MissingFile(t *testing.T) {
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{}, Options{PopulationFile: filepath.Join(t.TempDir(), "missing.csv")})

	_, err := p.LoadReference(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read population file")
}

func TestRefresh_StrictReconcileRejectsUnmatched(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	opts := referenceOptions(t, false)
	opts.StrictMatch = true
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, opts)

	_, err := p.LoadReference(ctx)
	require.NoError(t, err)

	_, err = p.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindConfig))

	n, err := st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefresh_LenientReconcileReportsUnmatched(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, referenceOptions(t, false))

	_, err := p.LoadReference(ctx)
	require.NoError(t, err)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"United States"}, report.Unmatched)
	assert.Equal(t, 9, report.Load.Appended)
}

func TestRebuildCache(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	p := newPipeline(t, st, &stubFetcher{bodies: feeds(3)}, Options{})

	_, err := p.Refresh(ctx)
	require.NoError(t, err)

	n, err := p.RebuildCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	daily, err := st.ReadDailyStats(ctx, querysql.Filter{Countries: []string{"Atlantis"}})
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, int64(0), daily[0].DailyConfirmed)
	assert.Equal(t, int64(100), daily[1].DailyConfirmed)
}
