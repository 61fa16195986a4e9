package metrics

import (
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

// Ranked is a fact with its per-date position by confirmed count.
type Ranked struct {
	epi.Fact
	Rank int `json:"rank"`
}

// Rank orders each date by confirmed descending, ties broken by country
// ascending, and numbers the rows from 1. The total row is never ranked.
// Output is ordered by date then rank.
func Rank(facts []epi.Fact) []Ranked {
	out := make([]Ranked, 0, len(facts))
	for _, f := range facts {
		if f.Country == TotalCountry {
			continue
		}
		out = append(out, Ranked{Fact: f})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.Confirmed != b.Confirmed {
			return a.Confirmed > b.Confirmed
		}
		return a.Country < b.Country
	})
	for i := range out {
		if i > 0 && out[i].Date.Equal(out[i-1].Date) {
			out[i].Rank = out[i-1].Rank + 1
		} else {
			out[i].Rank = 1
		}
	}
	return out
}

// TopN keeps ranked rows with rank <= n.
func TopN(ranked []Ranked, n int) []Ranked {
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if r.Rank <= n {
			out = append(out, r)
		}
	}
	return out
}

// TopRow is one bar of the top-n view.
type TopRow struct {
	Ranked
	Continent      string `json:"continent"`
	ContinentColor string `json:"continent_color"`
	SlotColor      string `json:"slot_color"`
}

// Top builds the top-n view: ranked rows carrying their continent colour
// and their stable series colour.
func Top(facts []epi.Fact, refs References, n int) []TopRow {
	top := TopN(Rank(facts), n)
	slots := make(map[key]Slot)
	for _, s := range SeriesSlots(top, n) {
		slots[keyOf(s.Country, s.Date)] = s
	}

	out := make([]TopRow, len(top))
	for i, r := range top {
		row := TopRow{Ranked: r, Continent: refs[r.Country].Continent}
		row.ContinentColor = ContinentColor(row.Continent)
		row.SlotColor = slots[keyOf(r.Country, r.Date)].Color
		out[i] = row
	}
	return out
}

// Slot is a country's palette position on one date.
type Slot struct {
	Country string   `json:"country"`
	Date    epi.Date `json:"date"`
	Slot    int      `json:"slot"`
	Color   string   `json:"color"`
}

// SeriesSlots gives each top-n country a palette slot that is stable across
// consecutive dates. A country that stays in the top-n keeps its slot.
// Countries that drop out free their slots, and newcomers take the freed
// slots lowest first, in rank order. ranking must be ordered by date then
// rank, as Rank returns it.
func SeriesSlots(ranking []Ranked, n int) []Slot {
	var out []Slot
	held := make(map[string]int)
	for start := 0; start < len(ranking); {
		end := start
		for end < len(ranking) && ranking[end].Date.Equal(ranking[start].Date) {
			end++
		}
		day := TopN(ranking[start:end], n)

		present := make(map[string]bool, len(day))
		for _, r := range day {
			present[r.Country] = true
		}
		used := make(map[int]bool)
		for country, slot := range held {
			if present[country] {
				used[slot] = true
			} else {
				delete(held, country)
			}
		}
		next := 0
		for _, r := range day {
			if _, ok := held[r.Country]; ok {
				continue
			}
			for used[next] {
				next++
			}
			held[r.Country] = next
			used[next] = true
		}

		for _, r := range day {
			slot := held[r.Country]
			out = append(out, Slot{
				Country: r.Country,
				Date:    r.Date,
				Slot:    slot,
				Color:   Category10[slot%len(Category10)],
			})
		}
		start = end
	}
	return out
}
