package normalize

import (
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

type factKey struct {
	country string
	date    string
}

// MergeStats counts what the inner join dropped.
type MergeStats struct {
	Joined         int `json:"joined"`
	DroppedPartial int `json:"dropped_partial"` // keys present in at least one but not all three series
}

// Merge inner-joins the three metric series on (country, date).
//
// A key missing from any series is not yet a valid day of data for that
// country and is dropped. The result is sorted by country then date.
func Merge(confirmed, deaths, recovered []epi.LongRow) ([]epi.Fact, MergeStats) {
	index := func(rows []epi.LongRow) map[factKey]int64 {
		m := make(map[factKey]int64, len(rows))
		for _, r := range rows {
			m[factKey{r.Country, r.Date.String()}] = r.Value
		}
		return m
	}
	d := index(deaths)
	r := index(recovered)

	all := make(map[factKey]struct{}, len(confirmed))
	for k := range d {
		all[k] = struct{}{}
	}
	for k := range r {
		all[k] = struct{}{}
	}

	var stats MergeStats
	facts := make([]epi.Fact, 0, len(confirmed))
	for _, c := range confirmed {
		k := factKey{c.Country, c.Date.String()}
		all[k] = struct{}{}
		dv, okD := d[k]
		rv, okR := r[k]
		if !okD || !okR {
			continue
		}
		facts = append(facts, epi.Fact{
			Country:   c.Country,
			Date:      c.Date,
			Confirmed: c.Value,
			Deaths:    dv,
			Recovered: rv,
		})
	}
	stats.Joined = len(facts)
	stats.DroppedPartial = len(all) - len(facts)

	SortFacts(facts)
	return facts, stats
}

// SortFacts orders facts by country then date.
func SortFacts(facts []epi.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Country != facts[j].Country {
			return facts[i].Country < facts[j].Country
		}
		return facts[i].Date.Before(facts[j].Date)
	})
}

// Wide is a country x date grid of one metric.
type Wide struct {
	Countries []string
	Dates     []epi.Date
	Values    [][]int64 // Values[country][date]; 0 where no row exists
}

// Pivot re-widens long rows. Countries and dates are sorted ascending.
func Pivot(rows []epi.LongRow) Wide {
	countryIdx := make(map[string]int)
	dateSet := make(map[string]epi.Date)
	for _, r := range rows {
		countryIdx[r.Country] = 0
		dateSet[r.Date.String()] = r.Date
	}

	var w Wide
	for c := range countryIdx {
		w.Countries = append(w.Countries, c)
	}
	sort.Strings(w.Countries)
	for i, c := range w.Countries {
		countryIdx[c] = i
	}
	for _, d := range dateSet {
		w.Dates = append(w.Dates, d)
	}
	sort.Slice(w.Dates, func(i, j int) bool { return w.Dates[i].Before(w.Dates[j]) })
	dateIdx := make(map[string]int, len(w.Dates))
	for i, d := range w.Dates {
		dateIdx[d.String()] = i
	}

	w.Values = make([][]int64, len(w.Countries))
	for i := range w.Values {
		w.Values[i] = make([]int64, len(w.Dates))
	}
	for _, r := range rows {
		w.Values[countryIdx[r.Country]][dateIdx[r.Date.String()]] = r.Value
	}
	return w
}

// Revision is a decrease of a cumulative counter between consecutive
// dates of one country, i.e. an upstream correction.
type Revision struct {
	Country  string
	Date     epi.Date
	Metric   epi.Metric
	Previous int64
	Current  int64
}

// DetectRevisions lists counter decreases in facts. Input order does not matter.
func DetectRevisions(facts []epi.Fact) []Revision {
	sorted := make([]epi.Fact, len(facts))
	copy(sorted, facts)
	SortFacts(sorted)

	var out []Revision
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Country != cur.Country {
			continue
		}
		for _, m := range epi.Metrics {
			if cur.Value(m) < prev.Value(m) {
				out = append(out, Revision{
					Country:  cur.Country,
					Date:     cur.Date,
					Metric:   m,
					Previous: prev.Value(m),
					Current:  cur.Value(m),
				})
			}
		}
	}
	return out
}
