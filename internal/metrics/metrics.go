package metrics

import (
	"math"
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

// TotalCountry names the synthetic global rollup row.
const TotalCountry = "total"

// OpenOcean is the continent label the reference feed gives to ships and
// other non-territorial entities. It never appears in continent views.
const OpenOcean = "Seven seas (open ocean)"

// DefaultBuckets is the number of colour classes in the country view.
const DefaultBuckets = 9

// Flags switch whole classes of derived output on or off.
type Flags struct {
	GlobalRollup      bool `json:"global_rollup" yaml:"global_rollup"`
	PopulationScaling bool `json:"population_scaling" yaml:"population_scaling"`
	ContinentRollup   bool `json:"continent_rollup" yaml:"continent_rollup"`
}

// DefaultFlags enables everything.
func DefaultFlags() Flags {
	return Flags{GlobalRollup: true, PopulationScaling: true, ContinentRollup: true}
}

// References indexes reference rows by canonical country.
type References map[string]epi.Reference

// IndexReferences builds a References lookup.
func IndexReferences(refs []epi.Reference) References {
	out := make(References, len(refs))
	for _, r := range refs {
		out[r.Country] = r
	}
	return out
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type key struct {
	country string
	date    string
}

func keyOf(country string, d epi.Date) key {
	return key{country: country, date: d.String()}
}

// byCountry groups facts per country, each series sorted by date.
func byCountry(facts []epi.Fact) map[string][]epi.Fact {
	out := make(map[string][]epi.Fact)
	for _, f := range facts {
		out[f.Country] = append(out[f.Country], f)
	}
	for _, series := range out {
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	}
	return out
}

// dates returns the distinct dates of facts in ascending order.
func dates(facts []epi.Fact) []epi.Date {
	seen := make(map[string]struct{})
	var out []epi.Date
	for _, f := range facts {
		s := f.Date.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, f.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// GlobalRollup returns facts plus one TotalCountry row per date summing
// every country, ordered by date then country.
func GlobalRollup(facts []epi.Fact) []epi.Fact {
	totals := make(map[string]*epi.Fact)
	out := make([]epi.Fact, 0, len(facts)+len(facts)/100+1)
	for _, f := range facts {
		if f.Country == TotalCountry {
			continue
		}
		out = append(out, f)
		t, ok := totals[f.Date.String()]
		if !ok {
			t = &epi.Fact{Country: TotalCountry, Date: f.Date}
			totals[f.Date.String()] = t
		}
		t.Confirmed += f.Confirmed
		t.Deaths += f.Deaths
		t.Recovered += f.Recovered
	}
	for _, t := range totals {
		out = append(out, *t)
	}
	sortFacts(out)
	return out
}

func sortFacts(facts []epi.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if c := facts[i].Date.Compare(facts[j].Date); c != 0 {
			return c < 0
		}
		return facts[i].Country < facts[j].Country
	})
}
