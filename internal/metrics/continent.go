package metrics

import (
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

// ContinentRow is one (date, continent) sum.
type ContinentRow struct {
	Date      epi.Date `json:"date"`
	Continent string   `json:"continent"`
	Confirmed int64    `json:"confirmed"`
	Deaths    int64    `json:"deaths"`
	Recovered int64    `json:"recovered"`
	Color     string   `json:"color"`
}

// ContinentRollup sums facts per date and continent. Countries without a
// reference row, the total row and the open-ocean pseudo continent are
// left out. Rows are ordered by date, then confirmed descending, then
// continent.
func ContinentRollup(facts []epi.Fact, refs References) []ContinentRow {
	sums := make(map[key]*ContinentRow)
	for _, f := range facts {
		ref, ok := refs[f.Country]
		if !ok || f.Country == TotalCountry || ref.Continent == OpenOcean {
			continue
		}
		k := keyOf(ref.Continent, f.Date)
		row, ok := sums[k]
		if !ok {
			row = &ContinentRow{Date: f.Date, Continent: ref.Continent, Color: ContinentColor(ref.Continent)}
			sums[k] = row
		}
		row.Confirmed += f.Confirmed
		row.Deaths += f.Deaths
		row.Recovered += f.Recovered
	}

	out := make([]ContinentRow, 0, len(sums))
	for _, r := range sums {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.Confirmed != b.Confirmed {
			return a.Confirmed > b.Confirmed
		}
		return a.Continent < b.Continent
	})
	return out
}
