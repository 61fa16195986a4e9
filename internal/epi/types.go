// Package epi holds the domain records shared by every pipeline stage:
// normalized long rows, fact rows, reference rows and snapshot locations.
package epi

import (
	"fmt"
	"time"
)

// Metric names one of the three cumulative counters published per country.
type Metric string

const (
	Confirmed Metric = "confirmed"
	Deaths    Metric = "deaths"
	Recovered Metric = "recovered"
)

// Metrics lists the counters in their canonical column order.
var Metrics = []Metric{Confirmed, Deaths, Recovered}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// TotalCountry is the pseudo-country carrying the global rollup.
const TotalCountry = "total"

// DateLayout is the textual form of a Date everywhere it is persisted or returned.
const DateLayout = "2006-01-02"

// Date is a calendar day. The zero value means "no date".
//
// Dates are compared as strings once formatted, so the layout must stay
// lexicographically ordered.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses the canonical YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate is ParseDate for literals in tests and defaults.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string { return d.t.Format(DateLayout) }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1 as d is before, equal to or after o.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Time() time.Time { return d.t }

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LongRow is one normalized (country, date) cell of a single metric.
type LongRow struct {
	Country string
	Date    Date
	Value   int64
}

// Fact is one row of the append-only fact table.
type Fact struct {
	Country   string `json:"country"`
	Date      Date   `json:"date"`
	Confirmed int64  `json:"confirmed"`
	Deaths    int64  `json:"deaths"`
	Recovered int64  `json:"recovered"`
}

// Value returns the counter for m.
func (f Fact) Value(m Metric) int64 {
	switch m {
	case Deaths:
		return f.Deaths
	case Recovered:
		return f.Recovered
	default:
		return f.Confirmed
	}
}

// Reference is one row of the population/continent lookup table.
//
// Optional fields are nil when the source publishes no value (N.A.).
type Reference struct {
	Country          string   `json:"country"`
	Population       int64    `json:"population"`
	Continent        string   `json:"continent"`
	ScaledPopulation float64  `json:"scaled_population"`
	Rank             *int64   `json:"rank,omitempty"`
	YearlyChangePct  *float64 `json:"yearly_change_pct,omitempty"`
	NetChange        *int64   `json:"net_change,omitempty"`
	Density          *int64   `json:"density,omitempty"`
	LandArea         *int64   `json:"land_area,omitempty"`
	Migrants         *int64   `json:"migrants,omitempty"`
	FertilityRate    *float64 `json:"fertility_rate,omitempty"`
	MedianAge        *int64   `json:"median_age,omitempty"`
	UrbanPopPct      *float64 `json:"urban_pop_pct,omitempty"`
	WorldSharePct    *float64 `json:"world_share_pct,omitempty"`
}

// ScalePopulation converts a head count to millions.
func ScalePopulation(population int64) float64 {
	return float64(population) / 1_000_000
}

// Location is the identifying part of one raw snapshot row.
type Location struct {
	State   string  `json:"state"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
}

// Daily is one row of the derived daily table: first differences of the
// cumulative counters and their trailing 7-row moving averages.
type Daily struct {
	Country        string  `json:"country"`
	Date           Date    `json:"date"`
	DailyConfirmed int64   `json:"daily_confirmed"`
	DailyDeaths    int64   `json:"daily_deaths"`
	DailyRecovered int64   `json:"daily_recovered"`
	ConfirmedMA7   float64 `json:"daily_confirmed_ma7"`
	DeathsMA7      float64 `json:"daily_deaths_ma7"`
	RecoveredMA7   float64 `json:"daily_recovered_ma7"`
}
