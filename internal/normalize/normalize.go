// Package normalize reshapes wide feed snapshots into canonical long rows and
// joins the three metric series into fact rows.
//
// Each transform stage is followed by a check of the invariant it must
// preserve; a failed check is an integrity violation, never a silent skip.
package normalize

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/names"
)

// Severity decides what a failed checkpoint does.
type Severity string

const (
	SeverityFail Severity = "fail"
	SeverityWarn Severity = "warn"
)

// Checkpoint pins the aggregated value of one raw country on one date.
// A mismatch signals a structural change in the upstream feed.
//
// Country is the raw feed name, before reconciliation.
type Checkpoint struct {
	Metric   epi.Metric
	Country  string
	Date     epi.Date
	Value    int64
	Severity Severity
}

// Normalizer converts snapshots to canonical long rows.
type Normalizer struct {
	names       *names.Table
	checkpoints []Checkpoint
	logger      *zap.Logger
}

// New creates a Normalizer. A nil logger is replaced with a no-op logger.
func New(tbl *names.Table, checkpoints []Checkpoint, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{names: tbl, checkpoints: checkpoints, logger: logger}
}

// countryTotals is the snapshot grouped by raw country.
type countryTotals struct {
	countries []string           // sorted raw names
	values    map[string][]int64 // aligned with Snapshot.Dates
}

// Normalize produces (country, date, value) rows sorted by country then date.
func (n *Normalizer) Normalize(snap *Snapshot) ([]epi.LongRow, error) {
	op := "normalize." + string(snap.Metric)

	grouped := aggregate(snap)
	if err := checkAggregate(op, snap, grouped); err != nil {
		return nil, err
	}
	if err := n.checkCheckpoints(op, snap, grouped); err != nil {
		return nil, err
	}

	long := melt(snap, grouped)
	if err := checkMelt(op, snap, grouped, long); err != nil {
		return nil, err
	}

	resolved, err := n.reconcile(op, long)
	if err != nil {
		return nil, err
	}

	sortLong(resolved)
	n.logger.Debug("snapshot normalized",
		zap.String("metric", string(snap.Metric)),
		zap.Int("raw_rows", len(snap.Rows)),
		zap.Int("countries", len(grouped.countries)),
		zap.Int("dates", len(snap.Dates)),
		zap.Int("long_rows", len(resolved)))
	return resolved, nil
}

// aggregate sums sub-national rows to country level. Coordinates are not
// aggregable and are dropped here.
func aggregate(snap *Snapshot) *countryTotals {
	g := &countryTotals{values: make(map[string][]int64)}
	for _, row := range snap.Rows {
		sums, ok := g.values[row.Location.Country]
		if !ok {
			sums = make([]int64, len(snap.Dates))
			g.values[row.Location.Country] = sums
			g.countries = append(g.countries, row.Location.Country)
		}
		for i, v := range row.Values {
			sums[i] += v
		}
	}
	sort.Strings(g.countries)
	return g
}

// checkAggregate verifies per-date totals survive grouping: the sum over
// countries equals the sum over raw rows for every date.
func checkAggregate(op string, snap *Snapshot, g *countryTotals) error {
	for i, d := range snap.Dates {
		var raw, grouped int64
		for _, row := range snap.Rows {
			raw += row.Values[i]
		}
		for _, c := range g.countries {
			grouped += g.values[c][i]
		}
		if raw != grouped {
			return failure.Integrity(op+".aggregate", []string{d.String()},
				"grouped total %d differs from raw total %d", grouped, raw)
		}
	}
	return nil
}

func (n *Normalizer) checkCheckpoints(op string, snap *Snapshot, g *countryTotals) error {
	for _, cp := range n.checkpoints {
		if cp.Metric != snap.Metric {
			continue
		}
		if err := n.checkCheckpoint(op, snap, g, cp); err != nil {
			if cp.Severity != SeverityWarn {
				return err
			}
			n.logger.Warn("checkpoint failed",
				zap.String("metric", string(cp.Metric)),
				zap.String("country", cp.Country),
				zap.Stringer("date", cp.Date),
				zap.Error(err))
		}
	}
	return nil
}

func (n *Normalizer) checkCheckpoint(op string, snap *Snapshot, g *countryTotals, cp Checkpoint) error {
	detail := []string{fmt.Sprintf("%s %s", cp.Country, cp.Date)}
	sums, ok := g.values[cp.Country]
	if !ok {
		return failure.Integrity(op+".checkpoint", detail, "checkpoint country missing from feed")
	}
	idx := dateIndex(snap.Dates, cp.Date)
	if idx < 0 {
		return failure.Integrity(op+".checkpoint", detail, "checkpoint date missing from feed")
	}
	if got := sums[idx]; got != cp.Value {
		return failure.Integrity(op+".checkpoint", detail,
			"aggregated value %d differs from checkpoint %d", got, cp.Value)
	}
	return nil
}

func dateIndex(dates []epi.Date, d epi.Date) int {
	for i, x := range dates {
		if x.Equal(d) {
			return i
		}
	}
	return -1
}

// melt moves the date columns into rows.
func melt(snap *Snapshot, g *countryTotals) []epi.LongRow {
	out := make([]epi.LongRow, 0, len(g.countries)*len(snap.Dates))
	for _, c := range g.countries {
		for i, d := range snap.Dates {
			out = append(out, epi.LongRow{Country: c, Date: d, Value: g.values[c][i]})
		}
	}
	return out
}

func checkMelt(op string, snap *Snapshot, g *countryTotals, long []epi.LongRow) error {
	if want := len(g.countries) * len(snap.Dates); len(long) != want {
		return failure.Integrity(op+".melt", nil, "melted %d rows, expected %d", len(long), want)
	}
	for i, r := range long {
		col := i % len(snap.Dates)
		if g.values[r.Country][col] != r.Value || !snap.Dates[col].Equal(r.Date) {
			return failure.Integrity(op+".melt", []string{fmt.Sprintf("%s %s", r.Country, r.Date)},
				"long value does not match wide cell")
		}
	}
	return nil
}

// reconcile drops excluded entities and applies the fact-table mapping.
func (n *Normalizer) reconcile(op string, long []epi.LongRow) ([]epi.LongRow, error) {
	out := make([]epi.LongRow, 0, len(long))
	owner := make(map[string]string) // canonical -> raw
	for _, r := range long {
		canonical, keep := n.names.Resolve(names.TableFact, r.Country)
		if !keep {
			continue
		}
		if prev, ok := owner[canonical]; ok && prev != r.Country {
			return nil, failure.Integrity(op+".reconcile", []string{prev, r.Country},
				"two raw names resolve to %q", canonical)
		}
		owner[canonical] = r.Country
		r.Country = canonical
		out = append(out, r)
	}

	resolved := make([]string, 0, len(owner))
	for c := range owner {
		resolved = append(resolved, c)
	}
	if left := n.names.Leftovers(names.TableFact, resolved); len(left) > 0 {
		return nil, failure.Integrity(op+".reconcile", left, "raw names survived reconciliation")
	}
	return out, nil
}

// Locations returns the reconciled identifying columns of a snapshot,
// skipping excluded entities.
func (n *Normalizer) Locations(snap *Snapshot) []epi.Location {
	out := make([]epi.Location, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		canonical, keep := n.names.Resolve(names.TableFact, row.Location.Country)
		if !keep {
			continue
		}
		loc := row.Location
		loc.Country = canonical
		out = append(out, loc)
	}
	return out
}

func sortLong(rows []epi.LongRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Country != rows[j].Country {
			return rows[i].Country < rows[j].Country
		}
		return rows[i].Date.Before(rows[j].Date)
	})
}
