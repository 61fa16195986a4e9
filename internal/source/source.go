// Package source fetches the raw wide-format snapshots.
//
// Each file is fetched over HTTP with bounded retries. A successful body is
// stored as the last-known-good copy; a failed fetch falls back to that copy
// and only fails when none exists.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/retry"
)

// Origin records where a snapshot body came from.
type Origin string

const (
	OriginNetwork  Origin = "network"
	OriginFallback Origin = "fallback"
)

// defaultMaxBody caps a single snapshot download.
const defaultMaxBody = 256 << 20

// Config configures a Fetcher.
type Config struct {
	BaseURL  string
	Files    map[epi.Metric]string // metric -> file name under BaseURL
	CacheDir string
	Timeout  time.Duration
	Retry    retry.Config
	// MaxBody caps one download in bytes; zero means 256 MiB.
	MaxBody int64
}

// Result is one fetched snapshot.
type Result struct {
	Metric    epi.Metric
	Name      string
	Body      []byte
	Origin    Origin
	FetchedAt time.Time // network time, or cache file modification time
	FetchErr  error     // network error that caused a fallback
}

// Fetcher downloads snapshots.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a Fetcher. A nil client gets one with cfg.Timeout.
func NewFetcher(cfg Config, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

// FetchAll fetches the confirmed, deaths and recovered snapshots in
// parallel. It fails only if some metric has neither a network copy nor a
// cached one.
func (f *Fetcher) FetchAll(ctx context.Context) (map[epi.Metric]Result, error) {
	for _, m := range epi.Metrics {
		if f.cfg.Files[m] == "" {
			return nil, failure.Config("source.fetch", []string{string(m)}, "no snapshot file configured")
		}
	}

	pool := pond.NewPool(len(epi.Metrics))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	var mu sync.Mutex
	results := make(map[epi.Metric]Result, len(epi.Metrics))
	var errs []error
	for _, m := range epi.Metrics {
		group.Submit(func() {
			res, err := f.Fetch(ctx, m, f.cfg.Files[m])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[m] = res
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, fmt.Errorf("fetch group: %w", err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return results, nil
}

// Fetch downloads one file and falls back to its cached copy on failure.
func (f *Fetcher) Fetch(ctx context.Context, metric epi.Metric, name string) (Result, error) {
	url := strings.TrimRight(f.cfg.BaseURL, "/") + "/" + name
	res := Result{Metric: metric, Name: name}

	var body []byte
	err := retry.WithBackoff(ctx, f.cfg.Retry, f.logger, "fetch "+name, func() error {
		var err error
		body, err = f.get(ctx, url)
		return err
	})
	if err == nil {
		res.Body, res.Origin, res.FetchedAt = body, OriginNetwork, time.Now().UTC()
		if err := f.store(name, body); err != nil {
			f.logger.Warn("cache write failed", zap.String("file", name), zap.Error(err))
		}
		f.logger.Debug("snapshot fetched", zap.String("file", name), zap.Int("bytes", len(body)))
		return res, nil
	}

	cached, modTime, cacheErr := f.load(name)
	if cacheErr != nil {
		return Result{}, failure.SourceUnavailable("source.fetch."+string(metric), errors.Join(err, cacheErr))
	}
	f.logger.Warn("source unavailable, using last-known-good copy",
		zap.String("file", name),
		zap.Time("cached_at", modTime),
		zap.Error(err))
	res.Body, res.Origin, res.FetchedAt, res.FetchErr = cached, OriginFallback, modTime, err
	return res, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("get %s: status %d", url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.cfg.MaxBody {
		return nil, retry.Permanent(fmt.Errorf("get %s: body exceeds %d bytes", url, f.cfg.MaxBody))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("get %s: empty body", url)
	}
	return body, nil
}

func (f *Fetcher) cachePath(name string) string {
	return filepath.Join(f.cfg.CacheDir, filepath.Base(name))
}

// store writes body as the last-known-good copy via temp file and rename.
func (f *Fetcher) store(name string, body []byte) error {
	if f.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(f.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.cfg.CacheDir, "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.cachePath(name)); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (f *Fetcher) load(name string) ([]byte, time.Time, error) {
	if f.cfg.CacheDir == "" {
		return nil, time.Time{}, errors.New("no cache dir configured")
	}
	path := f.cachePath(name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("no cached copy: %w", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read cached copy: %w", err)
	}
	return body, info.ModTime().UTC(), nil
}
