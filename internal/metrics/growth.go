package metrics

import (
	"math"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/epiboard/internal/epi"
)

// DefaultMinConfirmed is the cumulative count below which a trajectory
// point is too noisy to plot.
const DefaultMinConfirmed = 100

// GrowthRow pairs the cumulative count with last week's new cases.
type GrowthRow struct {
	Country     string   `json:"country"`
	Date        epi.Date `json:"date"`
	Confirmed   int64    `json:"confirmed"`
	NewLastWeek int64    `json:"new_last_week"`
	Rank        int      `json:"rank"`
}

// Growth computes, per country and date, the cumulative confirmed count,
// the sum of daily confirmed over the trailing seven rows and the rank by
// confirmed. Output is ordered by date then rank.
func Growth(facts []epi.Fact) []GrowthRow {
	weekly := make(map[key]int64, len(facts))
	for country, series := range byCountry(facts) {
		var deltas []int64
		for i, f := range series {
			var d int64
			if i > 0 {
				d = f.Confirmed - series[i-1].Confirmed
			}
			deltas = append(deltas, d)
			weekly[keyOf(country, f.Date)] = trailingSum(deltas, maWindow)
		}
	}

	ranked := Rank(facts)
	out := make([]GrowthRow, len(ranked))
	for i, r := range ranked {
		out[i] = GrowthRow{
			Country:     r.Country,
			Date:        r.Date,
			Confirmed:   r.Confirmed,
			NewLastWeek: weekly[keyOf(r.Country, r.Date)],
			Rank:        r.Rank,
		}
	}
	return out
}

// Point is one vertex of a trajectory.
type Point struct {
	Date        epi.Date `json:"date"`
	Confirmed   int64    `json:"confirmed"`
	NewLastWeek int64    `json:"new_last_week"`
}

// Trajectory is one country's growth line up to the selected date.
type Trajectory struct {
	Country  string  `json:"country"`
	Current  bool    `json:"current"`
	BestRank int     `json:"best_rank"`
	Color    string  `json:"color"`
	Points   []Point `json:"points"`
}

// Trajectories selects every country whose best rank on or before date is
// within n, and returns its points up to date with at least minConfirmed
// cumulative cases. Lines in the top-n on date itself are Current and take
// their colour from colors (falling back to rank order in Category10);
// the rest are drawn in TrajectoryGrey. Current lines come first in rank
// order, then the others by best rank and country.
func Trajectories(rows []GrowthRow, date epi.Date, n int, minConfirmed int64, colors map[string]string) []Trajectory {
	best := make(map[string]int)
	currentRank := make(map[string]int)
	for _, r := range rows {
		if r.Date.After(date) || r.Rank > n {
			continue
		}
		if b, ok := best[r.Country]; !ok || r.Rank < b {
			best[r.Country] = r.Rank
		}
		if r.Date.Equal(date) {
			currentRank[r.Country] = r.Rank
		}
	}

	lines := make(map[string]*Trajectory, len(best))
	for country, b := range best {
		t := &Trajectory{Country: country, BestRank: b, Color: TrajectoryGrey, Points: []Point{}}
		if rank, ok := currentRank[country]; ok {
			t.Current = true
			t.Color = Category10[(rank-1)%len(Category10)]
			if c, ok := colors[country]; ok {
				t.Color = c
			}
		}
		lines[country] = t
	}

	// rows are ordered by date, so points come out in date order
	for _, r := range rows {
		t, ok := lines[r.Country]
		if !ok || r.Date.After(date) || r.Confirmed < minConfirmed {
			continue
		}
		t.Points = append(t.Points, Point{Date: r.Date, Confirmed: r.Confirmed, NewLastWeek: r.NewLastWeek})
	}

	out := make([]Trajectory, 0, len(lines))
	for _, t := range lines {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Current != b.Current {
			return a.Current
		}
		if a.Current {
			return currentRank[a.Country] < currentRank[b.Country]
		}
		if a.BestRank != b.BestRank {
			return a.BestRank < b.BestRank
		}
		return a.Country < b.Country
	})
	return out
}

// Tick is one labelled axis position.
type Tick struct {
	Value int64  `json:"value"`
	Label string `json:"label"`
}

// Axis is a base-10 logarithmic axis.
type Axis struct {
	Decades int    `json:"decades"`
	Ticks   []Tick `json:"ticks"`
}

// LogAxis returns decade ticks 1, 10, ... up to 10^ceil(log10(maxValue))
// with thousands-grouped labels.
func LogAxis(maxValue int64) Axis {
	p := message.NewPrinter(language.English)
	axis := Axis{Ticks: []Tick{{Value: 1, Label: "1"}}}
	for v := int64(1); v < maxValue && v <= math.MaxInt64/10; {
		v *= 10
		axis.Decades++
		axis.Ticks = append(axis.Ticks, Tick{Value: v, Label: p.Sprintf("%d", v)})
	}
	return axis
}

// GrowthAxes sizes both trajectory axes from the plotted points.
func GrowthAxes(lines []Trajectory) (x, y Axis) {
	var maxX, maxY int64
	for _, l := range lines {
		for _, p := range l.Points {
			maxX = max(maxX, p.Confirmed)
			maxY = max(maxY, p.NewLastWeek)
		}
	}
	return LogAxis(maxX), LogAxis(maxY)
}
