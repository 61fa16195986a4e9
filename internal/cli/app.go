package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/config"
	"github.com/roach88/epiboard/internal/logging"
	"github.com/roach88/epiboard/internal/names"
	"github.com/roach88/epiboard/internal/pipeline"
	"github.com/roach88/epiboard/internal/query"
	"github.com/roach88/epiboard/internal/source"
	"github.com/roach88/epiboard/internal/store"
)

// app is the wired process: config, logger, store, pipeline and views.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	pipeline *pipeline.Pipeline
	views    *query.Service
}

// openApp loads configuration, applies the flag overrides and opens the
// store. The caller must Close the returned app.
func openApp(opts *RootOptions, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	for _, fn := range overrides {
		fn(cfg)
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}

	tbl := names.Default()
	if cfg.Names.MappingFile != "" {
		if tbl, err = names.Load(cfg.Names.MappingFile); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = source.NewFetcher(cfg.SourceConfig(), nil, logger)
	}
	p := pipeline.New(st, fetcher, tbl, pipeline.Options{
		Loader:         cfg.LoaderOptions(),
		Checkpoints:    cfg.Checkpoints(),
		LockTTL:        time.Duration(cfg.Ingest.LockTTL),
		StrictMatch:    cfg.Reference.StrictMatch,
		PopulationFile: cfg.Reference.PopulationFile,
		ContinentFile:  cfg.Reference.ContinentFile,
	}, logger)
	views := query.NewService(st, cfg.QueryOptions(), logger)
	p.OnCommit(views.Invalidate)

	return &app{cfg: cfg, logger: logger, store: st, pipeline: p, views: views}, nil
}

// Close closes the store and flushes the logger.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
