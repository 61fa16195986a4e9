// Package pipeline orchestrates a refresh: fetch, normalize, merge,
// reconcile, load and rebuild the derived cache, under the ingest lock and
// recorded as a run.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/loader"
	"github.com/roach88/epiboard/internal/metrics"
	"github.com/roach88/epiboard/internal/names"
	"github.com/roach88/epiboard/internal/normalize"
	"github.com/roach88/epiboard/internal/querysql"
	"github.com/roach88/epiboard/internal/reference"
	"github.com/roach88/epiboard/internal/source"
	"github.com/roach88/epiboard/internal/store"
)

// LockName is the advisory lock every writer takes.
const LockName = "ingest"

// Fetcher supplies the three raw snapshots.
type Fetcher interface {
	FetchAll(ctx context.Context) (map[epi.Metric]source.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	Loader      loader.Options
	Checkpoints []normalize.Checkpoint
	LockTTL     time.Duration
	// StrictMatch turns unmatched fact countries into a configuration error.
	StrictMatch    bool
	PopulationFile string
	ContinentFile  string
}

// Report summarizes one Refresh.
type Report struct {
	RunID             string                       `json:"run_id"`
	Origins           map[epi.Metric]source.Origin `json:"origins"`
	Merge             normalize.MergeStats         `json:"merge"`
	Revisions         int                          `json:"revisions"`
	Unmatched         []string                     `json:"unmatched,omitempty"`
	Load              loader.Result                `json:"load"`
	FactsCommitted    bool                         `json:"facts_committed"`
	LocationsReplaced bool                         `json:"locations_replaced"`
	DailyRows         int                          `json:"daily_rows"`
}

// Pipeline runs refreshes against one store.
type Pipeline struct {
	store      *store.Store
	fetcher    Fetcher
	names      *names.Table
	normalizer *normalize.Normalizer
	loader     *loader.Loader
	opts       Options
	logger     *zap.Logger
	newOwner   func() string
	onCommit   []func()
}

// New creates a Pipeline. A nil logger is replaced with a no-op logger.
func New(st *store.Store, fetcher Fetcher, tbl *names.Table, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	return &Pipeline{
		store:      st,
		fetcher:    fetcher,
		names:      tbl,
		normalizer: normalize.New(tbl, opts.Checkpoints, logger),
		loader:     loader.New(st, opts.Loader, logger),
		opts:       opts,
		logger:     logger,
		newOwner:   uuid.NewString,
	}
}

// OnCommit registers fn to run after any write commits, e.g. to drop
// cached views.
func (p *Pipeline) OnCommit(fn func()) {
	p.onCommit = append(p.onCommit, fn)
}

func (p *Pipeline) committed() {
	for _, fn := range p.onCommit {
		fn()
	}
}

// withLock runs fn while holding the ingest lock.
func (p *Pipeline) withLock(ctx context.Context, fn func() error) error {
	owner := p.newOwner()
	if err := p.store.AcquireLock(ctx, LockName, owner, p.opts.LockTTL); err != nil {
		return err
	}
	defer func() {
		if err := p.store.ReleaseLock(context.WithoutCancel(ctx), LockName, owner); err != nil {
			p.logger.Error("release lock failed", zap.Error(err))
		}
	}()
	return fn()
}

// Refresh pulls the feeds and appends new facts.
//
// The run is recorded whatever the outcome. Any failure before the loader
// commits leaves the fact table untouched; a failure after it is recorded
// with a cache_failed detail naming the committed append.
func (p *Pipeline) Refresh(ctx context.Context) (Report, error) {
	var report Report
	err := p.withLock(ctx, func() error {
		run, err := p.store.StartRun(ctx, string(p.opts.Loader.Mode))
		if err != nil {
			return err
		}
		report.RunID = run.ID
		log := p.logger.With(zap.String("run_id", run.ID))
		log.Info("refresh started", zap.String("mode", string(p.opts.Loader.Mode)))

		runErr := p.refresh(ctx, log, &report)

		status, detail := store.RunSucceeded, ""
		if runErr != nil {
			status, detail = store.RunFailed, runErr.Error()
			if report.FactsCommitted {
				detail = fmt.Sprintf("facts committed (%d appended); cache_failed: %s",
					report.Load.Appended, runErr)
			}
		}
		if err := p.store.FinishRun(context.WithoutCancel(ctx), run.ID, status,
			report.Load.Appended, report.Load.Watermark, detail); err != nil {
			log.Error("finish run failed", zap.Error(err))
		}
		if runErr != nil {
			log.Error("refresh failed", zap.Error(runErr), zap.Bool("facts_committed", report.FactsCommitted))
			return runErr
		}
		log.Info("refresh finished",
			zap.Int("appended", report.Load.Appended),
			zap.Stringer("watermark", report.Load.Watermark))
		return nil
	})
	return report, err
}

func (p *Pipeline) refresh(ctx context.Context, log *zap.Logger, report *Report) error {
	results, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		return err
	}

	report.Origins = make(map[epi.Metric]source.Origin, len(results))
	long := make(map[epi.Metric][]epi.LongRow, len(epi.Metrics))
	var confirmed *normalize.Snapshot
	for _, m := range epi.Metrics {
		res := results[m]
		report.Origins[m] = res.Origin
		snap, err := normalize.ParseSnapshot(m, bytes.NewReader(res.Body))
		if err != nil {
			return err
		}
		if long[m], err = p.normalizer.Normalize(snap); err != nil {
			return err
		}
		if m == epi.Confirmed {
			confirmed = snap
		}
	}

	facts, stats := normalize.Merge(long[epi.Confirmed], long[epi.Deaths], long[epi.Recovered])
	report.Merge = stats
	if stats.DroppedPartial > 0 {
		log.Info("partial keys dropped by merge", zap.Int("dropped", stats.DroppedPartial))
	}

	revisions := normalize.DetectRevisions(facts)
	report.Revisions = len(revisions)
	for _, r := range revisions {
		log.Warn("cumulative counter decreased",
			zap.String("country", r.Country),
			zap.Stringer("date", r.Date),
			zap.String("metric", string(r.Metric)),
			zap.Int64("previous", r.Previous),
			zap.Int64("current", r.Current))
	}

	if report.Unmatched, err = p.reconcile(ctx, log, facts); err != nil {
		return err
	}

	if report.Load, err = p.loader.Apply(ctx, facts); err != nil {
		return err
	}
	report.FactsCommitted = report.Load.Appended > 0 || report.Load.Replaced
	if report.FactsCommitted {
		p.committed()
	}

	replaced, err := loader.ReplaceTable(ctx, loader.LocationsTable(p.store), p.normalizer.Locations(confirmed), log)
	if err != nil {
		return err
	}
	report.LocationsReplaced = replaced

	if report.DailyRows, err = p.rebuildCache(ctx); err != nil {
		return err
	}
	return nil
}

// reconcile checks the batch's countries against the stored reference.
func (p *Pipeline) reconcile(ctx context.Context, log *zap.Logger, facts []epi.Fact) ([]string, error) {
	refs, err := p.store.ReadReference(ctx)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		log.Warn("reference table empty, skipping reconciliation")
		return nil, nil
	}
	seen := make(map[string]struct{})
	var countries []string
	for _, f := range facts {
		if _, ok := seen[f.Country]; !ok {
			seen[f.Country] = struct{}{}
			countries = append(countries, f.Country)
		}
	}
	return reference.Reconcile(countries, refs, p.opts.StrictMatch, log)
}

// LoadReference parses the population and continent files, reconciles them
// against the stored fact countries and hard-replaces the reference table.
// It returns the number of reference rows.
func (p *Pipeline) LoadReference(ctx context.Context) (int, error) {
	var n int
	err := p.withLock(ctx, func() error {
		pop, err := os.ReadFile(p.opts.PopulationFile)
		if err != nil {
			return fmt.Errorf("read population file: %w", err)
		}
		var continents io.Reader
		if p.opts.ContinentFile != "" {
			data, err := os.ReadFile(p.opts.ContinentFile)
			if err != nil {
				return fmt.Errorf("read continent file: %w", err)
			}
			continents = bytes.NewReader(data)
		}

		refs, err := reference.NewLoader(p.names, p.logger).Load(bytes.NewReader(pop), continents)
		if err != nil {
			return err
		}

		countries, err := p.store.FactCountries(ctx)
		if err != nil {
			return err
		}
		if _, err := reference.Reconcile(countries, refs, p.opts.StrictMatch, p.logger); err != nil {
			return err
		}

		if _, err := loader.ReplaceTable(ctx, loader.ReferenceTable(p.store), refs, p.logger); err != nil {
			return err
		}
		n = len(refs)
		p.committed()
		return nil
	})
	return n, err
}

// RebuildCache recomputes daily_stats from the fact table and returns the
// number of rows written.
func (p *Pipeline) RebuildCache(ctx context.Context) (int, error) {
	var n int
	err := p.withLock(ctx, func() error {
		var err error
		n, err = p.rebuildCache(ctx)
		return err
	})
	return n, err
}

func (p *Pipeline) rebuildCache(ctx context.Context) (int, error) {
	facts, err := p.store.ReadFacts(ctx, querysql.Filter{})
	if err != nil {
		return 0, err
	}
	daily := metrics.Daily(facts)
	if _, err := loader.ReplaceTable(ctx, loader.DailyStatsTable(p.store), daily, p.logger); err != nil {
		return 0, err
	}
	p.committed()
	return len(daily), nil
}
