package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/epiboard/internal/epi"
)

func long(country, date string, v int64) epi.LongRow {
	return epi.LongRow{Country: country, Date: epi.MustDate(date), Value: v}
}

func TestMerge_InnerJoin(t *testing.T) {
	confirmed := []epi.LongRow{
		long("Chile", "2020-03-02", 5),
		long("Chile", "2020-03-01", 3),
		long("Peru", "2020-03-01", 1),
	}
	deaths := []epi.LongRow{
		long("Chile", "2020-03-01", 0),
		long("Chile", "2020-03-02", 1),
		long("Peru", "2020-03-01", 0),
	}
	recovered := []epi.LongRow{
		long("Chile", "2020-03-01", 0),
		long("Chile", "2020-03-02", 0),
		long("Brazil", "2020-03-01", 4),
	}

	facts, stats := Merge(confirmed, deaths, recovered)
	assert.Equal(t, []epi.Fact{
		{Country: "Chile", Date: epi.MustDate("2020-03-01"), Confirmed: 3},
		{Country: "Chile", Date: epi.MustDate("2020-03-02"), Confirmed: 5, Deaths: 1},
	}, facts)
	assert.Equal(t, 2, stats.Joined)
	// Peru lacks recovered; Brazil exists only in recovered.
	assert.Equal(t, 2, stats.DroppedPartial)
}

func TestMerge_Empty(t *testing.T) {
	facts, stats := Merge(nil, nil, nil)
	assert.Empty(t, facts)
	assert.Zero(t, stats.DroppedPartial)
}

func TestDetectRevisions(t *testing.T) {
	facts := []epi.Fact{
		{Country: "Spain", Date: epi.MustDate("2020-04-26"), Confirmed: 100, Deaths: 10, Recovered: 5},
		{Country: "Spain", Date: epi.MustDate("2020-04-24"), Confirmed: 90, Deaths: 9, Recovered: 5},
		{Country: "Spain", Date: epi.MustDate("2020-04-25"), Confirmed: 95, Deaths: 11, Recovered: 5},
		{Country: "Italy", Date: epi.MustDate("2020-04-24"), Confirmed: 200},
	}
	revs := DetectRevisions(facts)
	assert.Equal(t, []Revision{{
		Country: "Spain", Date: epi.MustDate("2020-04-26"), Metric: epi.Deaths, Previous: 11, Current: 10,
	}}, revs)
}

func TestDetectRevisions_CleanSeriesIsMonotonic(t *testing.T) {
	facts := []epi.Fact{
		{Country: "Spain", Date: epi.MustDate("2020-04-24"), Confirmed: 90},
		{Country: "Spain", Date: epi.MustDate("2020-04-25"), Confirmed: 90},
		{Country: "Spain", Date: epi.MustDate("2020-04-26"), Confirmed: 91},
	}
	assert.Empty(t, DetectRevisions(facts))
}
