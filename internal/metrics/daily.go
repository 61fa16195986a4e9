package metrics

import (
	"sort"

	"github.com/roach88/epiboard/internal/epi"
)

// maWindow is the trailing moving-average window, in rows.
const maWindow = 7

// Daily derives per-country daily increments from cumulative facts.
//
// The first row of each series has a zero delta. Moving averages cover the
// current row and up to six preceding rows of the same country, so the
// window is shorter at the start of a series. Output is ordered by date
// then country.
func Daily(facts []epi.Fact) []epi.Daily {
	out := make([]epi.Daily, 0, len(facts))
	for country, series := range byCountry(facts) {
		var dc, dd, dr []int64
		for i, f := range series {
			d := epi.Daily{Country: country, Date: f.Date}
			if i > 0 {
				prev := series[i-1]
				d.DailyConfirmed = f.Confirmed - prev.Confirmed
				d.DailyDeaths = f.Deaths - prev.Deaths
				d.DailyRecovered = f.Recovered - prev.Recovered
			}
			dc = append(dc, d.DailyConfirmed)
			dd = append(dd, d.DailyDeaths)
			dr = append(dr, d.DailyRecovered)
			d.ConfirmedMA7 = trailingMean(dc)
			d.DeathsMA7 = trailingMean(dd)
			d.RecoveredMA7 = trailingMean(dr)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].Country < out[j].Country
	})
	return out
}

// trailingMean averages the last maWindow values, rounded to 2 decimals.
func trailingMean(values []int64) float64 {
	return round2(float64(trailingSum(values, maWindow)) / float64(min(len(values), maWindow)))
}

func trailingSum(values []int64, window int) int64 {
	start := max(len(values)-window, 0)
	var sum int64
	for _, v := range values[start:] {
		sum += v
	}
	return sum
}

// FilterDaily keeps rows on or after minDate and, when country is set, for
// that country only.
func FilterDaily(rows []epi.Daily, minDate epi.Date, country string) []epi.Daily {
	out := make([]epi.Daily, 0, len(rows))
	for _, r := range rows {
		if !minDate.IsZero() && r.Date.Before(minDate) {
			continue
		}
		if country != "" && r.Country != country {
			continue
		}
		out = append(out, r)
	}
	return out
}
