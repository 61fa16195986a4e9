package metrics

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epiboard/internal/epi"
)

func f(country, date string, confirmed, deaths, recovered int64) epi.Fact {
	return epi.Fact{
		Country:   country,
		Date:      epi.MustDate(date),
		Confirmed: confirmed,
		Deaths:    deaths,
		Recovered: recovered,
	}
}

func ref(country, continent string, population int64) epi.Reference {
	return epi.Reference{
		Country:          country,
		Continent:        continent,
		Population:       population,
		ScaledPopulation: epi.ScalePopulation(population),
	}
}

// sampleFacts has two matched countries and one without a reference row.
func sampleFacts() ([]epi.Fact, References) {
	facts := []epi.Fact{
		f("Chile", "2020-03-01", 10, 1, 0),
		f("Peru", "2020-03-01", 20, 0, 0),
		f("Atlantis", "2020-03-01", 5, 0, 0),
		f("Chile", "2020-03-02", 30, 3, 5),
		f("Peru", "2020-03-02", 20, 2, 0),
		f("Atlantis", "2020-03-02", 8, 0, 0),
	}
	refs := IndexReferences([]epi.Reference{
		ref("Chile", "South America", 2_000_000),
		ref("Peru", "South America", 4_000_000),
	})
	return facts, refs
}

func TestGlobalRollup(t *testing.T) {
	facts, _ := sampleFacts()
	// A stale total row in the input is recomputed, not summed.
	facts = append(facts, f(TotalCountry, "2020-03-01", 1, 1, 1))

	got := GlobalRollup(facts)
	require.Len(t, got, 8)
	assert.Equal(t, "Atlantis", got[0].Country)
	assert.Equal(t, f(TotalCountry, "2020-03-01", 35, 1, 0), got[3])
	assert.Equal(t, f(TotalCountry, "2020-03-02", 58, 5, 5), got[7])
}

func TestDaily(t *testing.T) {
	got := Daily([]epi.Fact{
		f("Chile", "2020-03-04", 65, 0, 0),
		f("Chile", "2020-03-01", 5, 0, 0),
		f("Chile", "2020-03-03", 35, 0, 0),
		f("Chile", "2020-03-02", 15, 0, 0),
	})
	require.Len(t, got, 4)

	var deltas []int64
	var ma []float64
	for _, d := range got {
		deltas = append(deltas, d.DailyConfirmed)
		ma = append(ma, d.ConfirmedMA7)
	}
	assert.Equal(t, []int64{0, 10, 20, 30}, deltas)
	assert.Equal(t, []float64{0, 5, 10, 15}, ma)
}

func TestDaily_WindowAndRounding(t *testing.T) {
	var facts []epi.Fact
	start := epi.MustDate("2020-03-01")
	for i := 0; i < 9; i++ {
		facts = append(facts, epi.Fact{Country: "Peru", Date: start.AddDays(i), Confirmed: int64(7 * i)})
	}
	got := Daily(facts)
	assert.Equal(t, 6.0, got[6].ConfirmedMA7)
	assert.Equal(t, 7.0, got[7].ConfirmedMA7)
	assert.Equal(t, 7.0, got[8].ConfirmedMA7)

	got = Daily([]epi.Fact{
		f("Peru", "2020-03-01", 0, 0, 0),
		f("Peru", "2020-03-02", 1, 0, 0),
		f("Peru", "2020-03-03", 2, 0, 0),
	})
	assert.Equal(t, 0.67, got[2].ConfirmedMA7)
}

func TestFilterDaily(t *testing.T) {
	facts, _ := sampleFacts()
	got := FilterDaily(Daily(facts), epi.MustDate("2020-03-02"), "Chile")
	require.Len(t, got, 1)
	assert.Equal(t, int64(20), got[0].DailyConfirmed)
}

func TestCountryView_Golden(t *testing.T) {
	facts, refs := sampleFacts()
	rows := CountryView(facts, refs, CountryOptions{Flags: DefaultFlags()})

	var buf bytes.Buffer
	for _, r := range rows {
		fmt.Fprintf(&buf, "%s %s c=%d d=%d r=%d scaled=%s dr=%.2f daily=%d/%d/%d ma7=%.2f/%.2f/%.2f group=%d bucket=%d %s\n",
			r.Date, r.Country, r.Confirmed, r.Deaths, r.Recovered,
			scaledString(r), r.DeathRate,
			r.DailyConfirmed, r.DailyDeaths, r.DailyRecovered,
			r.ConfirmedMA7, r.DeathsMA7, r.RecoveredMA7,
			r.ConfGroup, r.Bucket, r.Color)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "country_view", buf.Bytes())
}

func scaledString(r CountryRow) string {
	if r.ConfirmedScaled == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d/%d", *r.ConfirmedScaled, *r.DeathsScaled, *r.RecoveredScaled)
}

func TestCountryView_FilterKeepsHistory(t *testing.T) {
	facts, refs := sampleFacts()
	rows := CountryView(facts, refs, CountryOptions{
		Flags:   DefaultFlags(),
		MinDate: epi.MustDate("2020-03-02"),
		Country: "Chile",
	})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(20), rows[0].DailyConfirmed)
	assert.Equal(t, 10.0, rows[0].ConfirmedMA7)
	assert.Equal(t, 3, rows[0].ConfGroup)
}

func TestCountryView_FlagsOff(t *testing.T) {
	facts, refs := sampleFacts()
	rows := CountryView(facts, refs, CountryOptions{})
	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.NotEqual(t, TotalCountry, r.Country)
		assert.Nil(t, r.ConfirmedScaled)
		assert.Equal(t, NoDataColor, r.Color)
		assert.Equal(t, 1, r.ConfGroup)
	}
}

func TestBuckets(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4}, Buckets([]int{0, 1, 2, 3}, 9, false))
	assert.Equal(t, []int{0, 1, 2, 3}, Buckets([]int{0, 1, 2, 3}, 9, true))
	assert.Equal(t, []int{1, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		Buckets([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 9, false))
	assert.Empty(t, Buckets(nil, 9, false))

	ranks := make([]int, 21)
	for i := range ranks {
		ranks[i] = i
	}
	got := Buckets(ranks, 9, false)
	assert.Equal(t, 1, got[0])
	assert.Equal(t, 1, got[2])
	assert.Equal(t, 2, got[3])
	assert.Equal(t, 4, got[7])
	assert.Equal(t, 9, got[20])
}

func TestCountryView_LowestCountryBucketIgnoresCountryCount(t *testing.T) {
	lowest := func(countries int) CountryRow {
		t.Helper()
		var facts []epi.Fact
		var refs []epi.Reference
		for i := 1; i <= countries; i++ {
			name := fmt.Sprintf("C%02d", i)
			facts = append(facts, f(name, "2020-03-01", int64(10*i), 0, 0))
			refs = append(refs, ref(name, "Europe", 1_000_000))
		}
		rows := CountryView(facts, IndexReferences(refs), CountryOptions{Flags: DefaultFlags()})
		for _, r := range rows {
			if r.Country == TotalCountry {
				assert.Equal(t, 1, r.ConfGroup)
				assert.Equal(t, 0, r.Bucket)
			}
		}
		require.Equal(t, "C01", rows[0].Country)
		return rows[0]
	}

	few := lowest(3)
	assert.Equal(t, 2, few.ConfGroup)
	assert.Equal(t, 1, few.Bucket)
	assert.Equal(t, Reds[0], few.Color)

	many := lowest(12)
	assert.Equal(t, 2, many.ConfGroup)
	assert.Equal(t, 1, many.Bucket)
}

func TestCutPoints(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, CutPoints(9, 9))
	assert.Equal(t, []int{0, 2, 4, 7, 9, 11, 13, 15, 18, 20}, CutPoints(20, 9))

	// x.5 rounds to the even neighbour
	assert.Equal(t, 6, percentile(50, 11))
	assert.Equal(t, 16, percentile(50, 33))
}

func TestBucketColor(t *testing.T) {
	assert.Equal(t, "#fff5f0", BucketColor(1, 9))
	assert.Equal(t, "#67000d", BucketColor(9, 9))
	assert.Equal(t, NoDataColor, BucketColor(0, 9))
	assert.Equal(t, "#fb6a4a", BucketColor(2, 3))
	assert.Equal(t, "#67000d", BucketColor(3, 3))
}

func TestRank(t *testing.T) {
	got := Rank([]epi.Fact{
		f("Peru", "2020-03-01", 10, 0, 0),
		f("Chile", "2020-03-01", 10, 0, 0),
		f("Atlantis", "2020-03-01", 5, 0, 0),
		f(TotalCountry, "2020-03-01", 25, 0, 0),
		f("Atlantis", "2020-03-02", 50, 0, 0),
	})
	require.Len(t, got, 4)
	assert.Equal(t, "Chile", got[0].Country)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "Peru", got[1].Country)
	assert.Equal(t, 2, got[1].Rank)
	assert.Equal(t, 3, got[2].Rank)
	assert.Equal(t, 1, got[3].Rank)

	assert.Len(t, TopN(got, 1), 2)
}

func TestSeriesSlots(t *testing.T) {
	ranking := Rank([]epi.Fact{
		f("A", "2020-03-01", 30, 0, 0),
		f("B", "2020-03-01", 20, 0, 0),
		f("C", "2020-03-01", 10, 0, 0),
		f("C", "2020-03-02", 40, 0, 0),
		f("A", "2020-03-02", 35, 0, 0),
		f("B", "2020-03-02", 20, 0, 0),
		f("B", "2020-03-03", 50, 0, 0),
		f("C", "2020-03-03", 45, 0, 0),
		f("A", "2020-03-03", 36, 0, 0),
	})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	var buf bytes.Buffer
	for _, s := range SeriesSlots(ranking, 2) {
		fmt.Fprintf(&buf, "%s %s slot=%d %s\n", s.Date, s.Country, s.Slot, s.Color)
	}
	g.Assert(t, "series_slots", buf.Bytes())
}

func TestTop(t *testing.T) {
	facts, refs := sampleFacts()
	got := Top(facts, refs, 3)
	require.Len(t, got, 6)

	assert.Equal(t, "Peru", got[0].Country)
	assert.Equal(t, "South America", got[0].Continent)
	assert.Equal(t, "#ffa600", got[0].ContinentColor)
	assert.Equal(t, Category10[0], got[0].SlotColor)
	assert.Equal(t, "Chile", got[1].Country)
	assert.Equal(t, Category10[1], got[1].SlotColor)
	assert.Equal(t, "Atlantis", got[2].Country)
	assert.Equal(t, NoDataColor, got[2].ContinentColor)

	// Chile overtakes Peru on the second date but both keep their colour.
	assert.Equal(t, "Chile", got[3].Country)
	assert.Equal(t, 1, got[3].Rank)
	assert.Equal(t, Category10[1], got[3].SlotColor)
	assert.Equal(t, Category10[0], got[4].SlotColor)
}

func TestContinentRollup(t *testing.T) {
	refs := IndexReferences([]epi.Reference{
		ref("Chile", "South America", 1),
		ref("Peru", "South America", 1),
		ref("Fiji", "Oceania", 1),
		ref("MS Zaandam", OpenOcean, 1),
	})
	got := ContinentRollup([]epi.Fact{
		f("Chile", "2020-03-01", 10, 1, 0),
		f("Peru", "2020-03-01", 20, 0, 2),
		f("Fiji", "2020-03-01", 40, 0, 0),
		f("MS Zaandam", "2020-03-01", 100, 0, 0),
		f("Atlantis", "2020-03-01", 999, 0, 0),
		f(TotalCountry, "2020-03-01", 1169, 1, 2),
	}, refs)

	require.Len(t, got, 2)
	assert.Equal(t, ContinentRow{
		Date: epi.MustDate("2020-03-01"), Continent: "Oceania", Confirmed: 40, Color: "#ff6e54",
	}, got[0])
	assert.Equal(t, ContinentRow{
		Date: epi.MustDate("2020-03-01"), Continent: "South America",
		Confirmed: 30, Deaths: 1, Recovered: 2, Color: "#ffa600",
	}, got[1])
}

func growthFacts() []epi.Fact {
	return []epi.Fact{
		f("A", "2020-03-01", 50, 0, 0),
		f("B", "2020-03-01", 200, 0, 0),
		f("C", "2020-03-01", 10, 0, 0),
		f("A", "2020-03-02", 150, 0, 0),
		f("B", "2020-03-02", 210, 0, 0),
		f("C", "2020-03-02", 20, 0, 0),
		f("A", "2020-03-03", 300, 0, 0),
		f("B", "2020-03-03", 220, 0, 0),
		f("C", "2020-03-03", 400, 0, 0),
	}
}

func TestGrowth_NewLastWeek(t *testing.T) {
	var facts []epi.Fact
	start := epi.MustDate("2020-03-01")
	for i := 0; i < 9; i++ {
		facts = append(facts, epi.Fact{Country: "Chile", Date: start.AddDays(i), Confirmed: int64(100 + 10*i)})
	}
	rows := Growth(facts)
	require.Len(t, rows, 9)
	assert.Zero(t, rows[0].NewLastWeek)
	assert.Equal(t, int64(10), rows[1].NewLastWeek)
	assert.Equal(t, int64(70), rows[8].NewLastWeek)
	assert.Equal(t, 1, rows[8].Rank)
}

func TestTrajectories(t *testing.T) {
	rows := Growth(growthFacts())

	lines := Trajectories(rows, epi.MustDate("2020-03-02"), 2, DefaultMinConfirmed, nil)
	require.Len(t, lines, 2)
	assert.Equal(t, "B", lines[0].Country)
	assert.True(t, lines[0].Current)
	assert.Equal(t, Category10[0], lines[0].Color)
	assert.Equal(t, []Point{
		{Date: epi.MustDate("2020-03-01"), Confirmed: 200, NewLastWeek: 0},
		{Date: epi.MustDate("2020-03-02"), Confirmed: 210, NewLastWeek: 10},
	}, lines[0].Points)
	assert.Equal(t, "A", lines[1].Country)
	require.Len(t, lines[1].Points, 1, "points under the threshold are dropped")
	assert.Equal(t, int64(100), lines[1].Points[0].NewLastWeek)

	lines = Trajectories(rows, epi.MustDate("2020-03-03"), 2, DefaultMinConfirmed,
		map[string]string{"C": "#123456"})
	require.Len(t, lines, 3)
	assert.Equal(t, "C", lines[0].Country)
	assert.Equal(t, "#123456", lines[0].Color)
	assert.Equal(t, int64(390), lines[0].Points[0].NewLastWeek)
	assert.Equal(t, "A", lines[1].Country)
	assert.Equal(t, "B", lines[2].Country)
	assert.False(t, lines[2].Current)
	assert.Equal(t, TrajectoryGrey, lines[2].Color)
	assert.Equal(t, 1, lines[2].BestRank)
}

func TestLogAxis(t *testing.T) {
	axis := LogAxis(1000)
	assert.Equal(t, 3, axis.Decades)
	assert.Equal(t, []Tick{
		{Value: 1, Label: "1"},
		{Value: 10, Label: "10"},
		{Value: 100, Label: "100"},
		{Value: 1000, Label: "1,000"},
	}, axis.Ticks)

	assert.Equal(t, 4, LogAxis(1001).Decades)
	assert.Equal(t, "10,000", LogAxis(1001).Ticks[4].Label)
	assert.Equal(t, []Tick{{Value: 1, Label: "1"}}, LogAxis(0).Ticks)
}

func TestGrowthAxes(t *testing.T) {
	lines := Trajectories(Growth(growthFacts()), epi.MustDate("2020-03-03"), 2, DefaultMinConfirmed, nil)
	x, y := GrowthAxes(lines)
	assert.Equal(t, 3, x.Decades)
	assert.Equal(t, 3, y.Decades)
}
