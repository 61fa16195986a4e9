package metrics

import (
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

// CountryRow is one (country, date) row of the country view.
type CountryRow struct {
	Country         string   `json:"country"`
	Date            epi.Date `json:"date"`
	Confirmed       int64    `json:"confirmed"`
	Deaths          int64    `json:"deaths"`
	Recovered       int64    `json:"recovered"`
	ConfirmedScaled *int64   `json:"confirmed_scaled"`
	DeathsScaled    *int64   `json:"deaths_scaled"`
	RecoveredScaled *int64   `json:"recovered_scaled"`
	DeathRate       float64  `json:"death_rate"`
	DailyConfirmed  int64    `json:"daily_confirmed"`
	DailyDeaths     int64    `json:"daily_deaths"`
	DailyRecovered  int64    `json:"daily_recovered"`
	ConfirmedMA7    float64  `json:"daily_confirmed_ma7"`
	DeathsMA7       float64  `json:"daily_deaths_ma7"`
	RecoveredMA7    float64  `json:"daily_recovered_ma7"`
	ConfGroup       int      `json:"conf_group"`
	Bucket          int      `json:"bucket"`
	Color           string   `json:"color"`
}

// CountryOptions controls CountryView.
type CountryOptions struct {
	Flags   Flags
	MinDate epi.Date
	Country string
	// Buckets is the number of colour classes; zero means DefaultBuckets.
	Buckets int
}

// CountryView builds the per-country dashboard rows.
//
// Population-scaled values are per million inhabitants, truncated, and are
// nil for countries without a reference row and for the total row. Rows
// are grouped per date by scaled confirmed (dense rank, nil first) and the
// groups are folded into colour buckets. Filtering by MinDate and Country
// happens after every history-dependent column is computed.
func CountryView(facts []epi.Fact, refs References, opts CountryOptions) []CountryRow {
	n := opts.Buckets
	if n <= 0 {
		n = DefaultBuckets
	}
	var rows []epi.Fact
	if opts.Flags.GlobalRollup {
		rows = GlobalRollup(facts)
	} else {
		rows = append([]epi.Fact(nil), facts...)
		sortFacts(rows)
	}

	daily := make(map[key]epi.Daily, len(rows))
	for _, d := range Daily(rows) {
		daily[keyOf(d.Country, d.Date)] = d
	}

	out := make([]CountryRow, len(rows))
	for i, f := range rows {
		d := daily[keyOf(f.Country, f.Date)]
		r := CountryRow{
			Country:        f.Country,
			Date:           f.Date,
			Confirmed:      f.Confirmed,
			Deaths:         f.Deaths,
			Recovered:      f.Recovered,
			DeathRate:      round2(float64(f.Deaths) / float64(max(f.Confirmed, 1))),
			DailyConfirmed: d.DailyConfirmed,
			DailyDeaths:    d.DailyDeaths,
			DailyRecovered: d.DailyRecovered,
			ConfirmedMA7:   d.ConfirmedMA7,
			DeathsMA7:      d.DeathsMA7,
			RecoveredMA7:   d.RecoveredMA7,
		}
		if ref, ok := refs[f.Country]; ok && opts.Flags.PopulationScaling && f.Country != TotalCountry {
			r.ConfirmedScaled = scale(f.Confirmed, ref.ScaledPopulation)
			r.DeathsScaled = scale(f.Deaths, ref.ScaledPopulation)
			r.RecoveredScaled = scale(f.Recovered, ref.ScaledPopulation)
		}
		out[i] = r
	}

	// rows are sorted by date, so each date is one contiguous run
	for start := 0; start < len(out); {
		end := start
		for end < len(out) && out[end].Date.Equal(out[start].Date) {
			end++
		}
		assignGroups(out[start:end], n)
		start = end
	}

	filtered := out[:0]
	for _, r := range out {
		if !opts.MinDate.IsZero() && r.Date.Before(opts.MinDate) {
			continue
		}
		if opts.Country != "" && r.Country != opts.Country {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func scale(v int64, scaledPop float64) *int64 {
	if scaledPop <= 0 {
		return nil
	}
	s := int64(float64(v) / scaledPop)
	return &s
}

// assignGroups sets ConfGroup, Bucket and Color for one date.
func assignGroups(day []CountryRow, n int) {
	idx := make([]int, len(day))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := day[idx[a]].ConfirmedScaled, day[idx[b]].ConfirmedScaled
		switch {
		case x == nil:
			return y != nil
		case y == nil:
			return false
		}
		return *x < *y
	})

	group := 0
	for i, j := range idx {
		if i == 0 || !sameScaled(day[idx[i-1]].ConfirmedScaled, day[j].ConfirmedScaled) {
			group++
		}
		day[j].ConfGroup = group
	}

	ranks := make([]int, len(day))
	noData := false
	for i := range day {
		ranks[i] = day[i].ConfGroup - 1
		noData = noData || day[i].ConfirmedScaled == nil
	}
	buckets := Buckets(ranks, n, noData)
	for i := range day {
		if day[i].ConfirmedScaled == nil {
			day[i].Bucket = 0
			day[i].Color = NoDataColor
			continue
		}
		day[i].Bucket = buckets[i]
		day[i].Color = BucketColor(buckets[i], n)
	}
}

func sameScaled(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Buckets folds zero-based dense ranks into n classes numbered 1..n.
//
// noData marks rank 0 as the group without a value, so real ranks start at
// 1. With few ranks each real rank is its own class: rank itself under
// noData, rank+1 otherwise. Beyond that the
// range 0..maxRank is cut at evenly spaced percentiles (0, 11, ..., 88, 100
// for nine classes), cut points rounded half to even. Intervals are closed
// on the right and the lowest cut point belongs to the first class.
func Buckets(ranks []int, n int, noData bool) []int {
	out := make([]int, len(ranks))
	if len(ranks) == 0 || n <= 0 {
		return out
	}
	maxRank := 0
	for _, r := range ranks {
		maxRank = max(maxRank, r)
	}
	if maxRank < n {
		shift := 1
		if noData {
			shift = 0
		}
		for i, r := range ranks {
			out[i] = r + shift
		}
		return out
	}

	edges := CutPoints(maxRank, n)
	for i, r := range ranks {
		b := 1
		for b < n && r > edges[b] {
			b++
		}
		out[i] = b
	}
	return out
}

// CutPoints returns the n+1 bucket edges over 0..maxRank.
func CutPoints(maxRank, n int) []int {
	step := 100 / n
	edges := make([]int, n+1)
	for k := 0; k < n; k++ {
		edges[k] = percentile(maxRank, k*step)
	}
	edges[n] = percentile(maxRank, 100)
	return edges
}

// percentile is the linearly interpolated q-th percentile of 0..maxRank,
// rounded half to even. Integer arithmetic keeps x.5 cases exact.
func percentile(maxRank, q int) int {
	num := q * maxRank
	quo, rem := num/100, num%100
	switch {
	case rem > 50, rem == 50 && quo%2 == 1:
		quo++
	}
	return quo
}
