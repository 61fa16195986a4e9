// Package loader moves merged fact rows into persisted state.
//
// Two strategies are supported. Soft append inserts only rows strictly
// newer than the stored watermark, in one transaction, and never touches
// history. Hard replace drops and reloads a whole table; the fact table uses
// it only for explicit rebuilds, the cache tables on every refresh.
package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/store"
)

// Mode selects the fact-table update strategy.
type Mode string

const (
	ModeAppend  Mode = "append"
	ModeRebuild Mode = "rebuild"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAppend, ModeRebuild:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown load mode %q", s)
}

// Options configures a Loader.
type Options struct {
	Mode Mode
	// ExpectedCountries is the full country-set size each recent date must
	// report. Zero means "all recent dates equal and non-zero".
	ExpectedCountries int
	// CheckDays is how many of the most recent dates the count check covers.
	CheckDays int
}

// Result describes one Apply.
type Result struct {
	Mode      Mode     `json:"mode"`
	Previous  epi.Date `json:"previous_watermark"`
	Watermark epi.Date `json:"watermark"`
	Appended  int      `json:"appended"`
	Skipped   int      `json:"skipped"`
	Replaced  bool     `json:"replaced"`
}

// Loader applies fact batches to a store.
type Loader struct {
	store  *store.Store
	opts   Options
	logger *zap.Logger
}

// New creates a Loader. A nil logger is replaced with a no-op logger.
func New(st *store.Store, opts Options, logger *zap.Logger) *Loader {
	if opts.Mode == "" {
		opts.Mode = ModeAppend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: st, opts: opts, logger: logger}
}

// SelectNew returns the rows strictly newer than watermark, in input order.
// A zero watermark selects every row.
func SelectNew(watermark epi.Date, rows []epi.Fact) []epi.Fact {
	if watermark.IsZero() {
		return rows
	}
	out := make([]epi.Fact, 0, len(rows))
	for _, r := range rows {
		if r.Date.After(watermark) {
			out = append(out, r)
		}
	}
	return out
}

// Apply loads rows with the configured strategy. Either every selected row
// is committed or none is.
func (l *Loader) Apply(ctx context.Context, rows []epi.Fact) (Result, error) {
	previous, err := l.store.Watermark(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Mode: l.opts.Mode, Previous: previous, Watermark: previous}

	switch l.opts.Mode {
	case ModeAppend:
		err = l.append(ctx, rows, &res)
	case ModeRebuild:
		err = l.rebuild(ctx, rows, &res)
	default:
		err = failure.Config("loader.apply", []string{string(l.opts.Mode)}, "unknown load mode")
	}
	if err != nil {
		return Result{}, err
	}

	if res.Watermark, err = l.store.Watermark(ctx); err != nil {
		return Result{}, err
	}
	l.logger.Info("facts loaded",
		zap.String("mode", string(res.Mode)),
		zap.Stringer("previous_watermark", res.Previous),
		zap.Stringer("watermark", res.Watermark),
		zap.Int("appended", res.Appended),
		zap.Int("skipped", res.Skipped),
		zap.Bool("replaced", res.Replaced))
	return res, nil
}

func (l *Loader) append(ctx context.Context, rows []epi.Fact, res *Result) error {
	fresh := SelectNew(res.Previous, rows)
	res.Skipped = len(rows) - len(fresh)
	if len(fresh) == 0 {
		return nil
	}

	n, err := l.store.AppendFacts(ctx, fresh, l.check)
	if err != nil {
		return err
	}
	res.Appended = n
	return nil
}

func (l *Loader) rebuild(ctx context.Context, rows []epi.Fact, res *Result) error {
	existing, err := l.store.CountFacts(ctx)
	if err != nil {
		return err
	}
	if len(rows) <= existing {
		res.Skipped = len(rows)
		l.logger.Debug("rebuild skipped, batch not larger than table",
			zap.Int("rows", len(rows)), zap.Int("existing", existing))
		return nil
	}
	if err := l.store.ReplaceFacts(ctx, rows, l.check); err != nil {
		return err
	}
	res.Appended = len(rows) - existing
	res.Replaced = true
	return nil
}

// check runs inside the write transaction before commit.
func (l *Loader) check(ctx context.Context, tx *store.Tx) error {
	if l.opts.CheckDays <= 0 {
		return nil
	}
	counts, err := tx.CountriesPerDate(ctx, l.opts.CheckDays)
	if err != nil {
		return err
	}
	return CheckCountryCounts(counts, l.opts.ExpectedCountries, l.opts.CheckDays)
}

// CheckCountryCounts verifies the last days entries of counts (oldest
// first). With expected > 0 each must equal expected. With expected == 0
// they must all be equal and non-zero. A mismatch signals a partial source
// pull and is an integrity violation.
func CheckCountryCounts(counts []store.DateCount, expected, days int) error {
	const op = "loader.country_counts"
	if days > 0 && len(counts) > days {
		counts = counts[len(counts)-days:]
	}
	if len(counts) == 0 {
		return nil
	}

	want := expected
	if want == 0 {
		want = counts[0].Countries
		if want == 0 {
			return failure.Integrity(op, []string{counts[0].Date.String()}, "no countries reported")
		}
	}

	var bad []string
	for _, c := range counts {
		if c.Countries != want {
			bad = append(bad, fmt.Sprintf("%s=%d", c.Date, c.Countries))
		}
	}
	if len(bad) > 0 {
		return failure.Integrity(op, bad, "expected %d countries per date", want)
	}
	return nil
}
