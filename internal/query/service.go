// Package query is the read surface over persisted state.
//
// A Service answers named views from the store, computing them with the
// metrics package and memoizing results per state version. The HTTP
// handlers in this package expose the same views as JSON.
package query

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/metrics"
	"github.com/roach88/epiboard/internal/querysql"
	"github.com/roach88/epiboard/internal/store"
)

// View names.
const (
	ViewCountries  = "countries"
	ViewDaily      = "daily"
	ViewTop        = "top"
	ViewContinents = "continents"
	ViewGrowth     = "growth"
	ViewLocations  = "locations"
	ViewStatus     = "status"
)

// Views lists every view name in a stable order.
func Views() []string {
	return []string{ViewCountries, ViewDaily, ViewTop, ViewContinents, ViewGrowth, ViewLocations, ViewStatus}
}

// Options configures a Service.
type Options struct {
	Flags metrics.Flags
	// StartDate is the default min_date.
	StartDate    epi.Date
	TopN         int
	Buckets      int
	MinConfirmed int64
}

// DefaultOptions returns the dashboard defaults.
func DefaultOptions() Options {
	return Options{
		Flags:        metrics.DefaultFlags(),
		StartDate:    epi.MustDate("2020-02-01"),
		TopN:         10,
		Buckets:      metrics.DefaultBuckets,
		MinConfirmed: metrics.DefaultMinConfirmed,
	}
}

// Service answers view requests.
type Service struct {
	store  *store.Store
	opts   Options
	cache  *viewCache
	logger *zap.Logger
}

// NewService creates a Service. A nil logger is replaced with a no-op
// logger.
func NewService(st *store.Store, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	return &Service{store: st, opts: opts, cache: newViewCache(), logger: logger}
}

// Invalidate drops every cached view. Writers call it after committing.
func (s *Service) Invalidate() {
	s.cache.clear()
}

// GrowthView is the trajectory chart for one selected date.
type GrowthView struct {
	Date  epi.Date             `json:"date"`
	Lines []metrics.Trajectory `json:"lines"`
	XAxis metrics.Axis         `json:"x_axis"`
	YAxis metrics.Axis         `json:"y_axis"`
}

// StatusView reports persisted state and recent runs.
type StatusView struct {
	store.Stats
	Runs []store.Run `json:"runs"`
}

// View computes the named view. Parameter problems and unknown views are
// QueryFailure errors.
func (s *Service) View(ctx context.Context, name string, p Params) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.N == 0 {
		p.N = s.opts.TopN
	}
	if p.MinDate.IsZero() {
		p.MinDate = s.opts.StartDate
	}
	if !p.Date.IsZero() && p.Date.Before(p.MinDate) {
		return nil, failure.Query("query.params", "date %s is before min_date %s", p.Date, p.MinDate)
	}

	switch name {
	case ViewStatus:
		return s.status(ctx)
	case ViewCountries, ViewDaily, ViewTop, ViewContinents, ViewGrowth, ViewLocations:
	default:
		return nil, failure.Query("query.view", "unknown view %q", name)
	}
	if name == ViewContinents && !s.opts.Flags.ContinentRollup {
		return nil, failure.Query("query.view", "continent rollup is disabled")
	}

	version, err := s.version(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.advance(version)
	key := cacheKey(name, p, version)
	if v, ok := s.cache.load(key); ok {
		return v, nil
	}

	var v any
	switch name {
	case ViewCountries:
		v, err = s.countries(ctx, p)
	case ViewDaily:
		v, err = s.daily(ctx, p)
	case ViewTop:
		v, err = s.top(ctx, p)
	case ViewContinents:
		v, err = s.continents(ctx, p)
	case ViewGrowth:
		v, err = s.growth(ctx, p)
	case ViewLocations:
		v, err = s.locations(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	s.cache.store(version, key, v)
	s.logger.Debug("view computed", zap.String("view", name), zap.String("version", version))
	return v, nil
}

// version identifies the persisted state a cached view was computed from.
// The store bumps it on every committed write, so writes from other
// processes are seen too.
func (s *Service) version(ctx context.Context) (string, error) {
	v, err := s.store.StateVersion(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}

func (s *Service) references(ctx context.Context) (metrics.References, error) {
	refs, err := s.store.ReadReference(ctx)
	if err != nil {
		return nil, err
	}
	return metrics.IndexReferences(refs), nil
}

func (s *Service) countries(ctx context.Context, p Params) ([]metrics.CountryRow, error) {
	// full history: deltas and moving averages must not restart at min_date
	facts, err := s.store.ReadFacts(ctx, querysql.Filter{MaxDate: p.Date})
	if err != nil {
		return nil, err
	}
	refs, err := s.references(ctx)
	if err != nil {
		return nil, err
	}
	rows := metrics.CountryView(facts, refs, metrics.CountryOptions{
		Flags:   s.opts.Flags,
		MinDate: p.MinDate,
		Country: p.Country,
		Buckets: s.opts.Buckets,
	})
	if !p.Date.IsZero() {
		rows = onDate(rows, p.Date, func(r metrics.CountryRow) epi.Date { return r.Date })
	}
	return rows, nil
}

func (s *Service) daily(ctx context.Context, p Params) ([]epi.Daily, error) {
	filter := querysql.Filter{MinDate: p.MinDate, MaxDate: p.Date}
	if p.Country != "" {
		filter.Countries = []string{p.Country}
	}
	cached, err := s.store.CountDailyStats(ctx)
	if err != nil {
		return nil, err
	}
	if cached > 0 {
		return s.store.ReadDailyStats(ctx, filter)
	}

	s.logger.Debug("daily_stats cache empty, computing from facts")
	facts, err := s.store.ReadFacts(ctx, querysql.Filter{MaxDate: p.Date, Countries: filter.Countries})
	if err != nil {
		return nil, err
	}
	return metrics.FilterDaily(metrics.Daily(facts), p.MinDate, p.Country), nil
}

func (s *Service) top(ctx context.Context, p Params) ([]metrics.TopRow, error) {
	facts, err := s.store.ReadFacts(ctx, querysql.Filter{MinDate: p.MinDate, MaxDate: p.Date})
	if err != nil {
		return nil, err
	}
	refs, err := s.references(ctx)
	if err != nil {
		return nil, err
	}
	rows := metrics.Top(facts, refs, p.N)
	if p.Country != "" {
		rows = filterCountry(rows, p.Country, func(r metrics.TopRow) string { return r.Country })
	}
	if !p.Date.IsZero() {
		rows = onDate(rows, p.Date, func(r metrics.TopRow) epi.Date { return r.Date })
	}
	return rows, nil
}

func (s *Service) continents(ctx context.Context, p Params) ([]metrics.ContinentRow, error) {
	facts, err := s.store.ReadFacts(ctx, querysql.Filter{MinDate: p.MinDate, MaxDate: p.Date})
	if err != nil {
		return nil, err
	}
	refs, err := s.references(ctx)
	if err != nil {
		return nil, err
	}
	rows := metrics.ContinentRollup(facts, refs)
	if !p.Date.IsZero() {
		rows = onDate(rows, p.Date, func(r metrics.ContinentRow) epi.Date { return r.Date })
	}
	return rows, nil
}

func (s *Service) locations(ctx context.Context, p Params) ([]epi.Location, error) {
	locs, err := s.store.ReadLocations(ctx)
	if err != nil {
		return nil, err
	}
	if p.Country != "" {
		locs = filterCountry(locs, p.Country, func(l epi.Location) string { return l.Country })
	}
	return locs, nil
}

func (s *Service) growth(ctx context.Context, p Params) (GrowthView, error) {
	date := p.Date
	if date.IsZero() {
		wm, err := s.store.Watermark(ctx)
		if err != nil {
			return GrowthView{}, err
		}
		date = wm
	}
	view := GrowthView{Date: date, Lines: []metrics.Trajectory{}}
	if date.IsZero() {
		view.XAxis, view.YAxis = metrics.GrowthAxes(nil)
		return view, nil
	}

	facts, err := s.store.ReadFacts(ctx, querysql.Filter{MaxDate: date})
	if err != nil {
		return GrowthView{}, err
	}

	// series colours follow the top-n bar chart from min_date onwards
	var shown []epi.Fact
	for _, f := range facts {
		if !f.Date.Before(p.MinDate) {
			shown = append(shown, f)
		}
	}
	colors := make(map[string]string)
	for _, slot := range metrics.SeriesSlots(metrics.TopN(metrics.Rank(shown), p.N), p.N) {
		if slot.Date.Equal(date) {
			colors[slot.Country] = slot.Color
		}
	}

	view.Lines = metrics.Trajectories(metrics.Growth(facts), date, p.N, s.opts.MinConfirmed, colors)
	if p.Country != "" {
		view.Lines = filterCountry(view.Lines, p.Country, func(t metrics.Trajectory) string { return t.Country })
	}
	view.XAxis, view.YAxis = metrics.GrowthAxes(view.Lines)
	return view, nil
}

func (s *Service) status(ctx context.Context) (StatusView, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return StatusView{}, err
	}
	runs, err := s.store.RecentRuns(ctx, 10)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{Stats: stats, Runs: runs}, nil
}

func onDate[T any](rows []T, d epi.Date, date func(T) epi.Date) []T {
	out := make([]T, 0, len(rows)/8+1)
	for _, r := range rows {
		if date(r).Equal(d) {
			out = append(out, r)
		}
	}
	return out
}

func filterCountry[T any](rows []T, country string, name func(T) string) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if name(r) == country {
			out = append(out, r)
		}
	}
	return out
}
