package testutil

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/store"
)

func prefixed(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// Snapshot builds a wide-format CSV snapshot in the upstream layout:
// Province/State, Country/Region, Lat, Long, then one m/d/yy column per date.
type Snapshot struct {
	dates []epi.Date
	rows  []string
}

// NewSnapshot starts a snapshot with the given ISO dates as columns.
func NewSnapshot(dates ...string) *Snapshot {
	s := &Snapshot{}
	for _, d := range dates {
		s.dates = append(s.dates, epi.MustDate(d))
	}
	return s
}

// Days starts a snapshot with n consecutive dates from first.
func Days(first string, n int) *Snapshot {
	start := epi.MustDate(first)
	s := &Snapshot{}
	for i := 0; i < n; i++ {
		s.dates = append(s.dates, start.AddDays(i))
	}
	return s
}

// Row appends one entity row. values must align with the date columns.
func (s *Snapshot) Row(state, country string, values ...int64) *Snapshot {
	if len(values) != len(s.dates) {
		panic(fmt.Sprintf("testutil: row %s/%s has %d values for %d dates", state, country, len(values), len(s.dates)))
	}
	cells := []string{csvField(state), csvField(country), "0", "0"}
	for _, v := range values {
		cells = append(cells, strconv.FormatInt(v, 10))
	}
	s.rows = append(s.rows, strings.Join(cells, ","))
	return s
}

// Dates returns the ISO date labels of the snapshot columns.
func (s *Snapshot) Dates() []string {
	out := make([]string, len(s.dates))
	for i, d := range s.dates {
		out[i] = d.String()
	}
	return out
}

// String renders the CSV.
func (s *Snapshot) String() string {
	var b strings.Builder
	b.WriteString("Province/State,Country/Region,Lat,Long")
	for _, d := range s.dates {
		t := d.Time()
		fmt.Fprintf(&b, ",%d/%d/%02d", int(t.Month()), t.Day(), t.Year()%100)
	}
	b.WriteByte('\n')
	for _, r := range s.rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String()
}

// Bytes renders the CSV as bytes.
func (s *Snapshot) Bytes() []byte {
	return []byte(s.String())
}

// Population builds a population feed CSV with formatted numbers.
type Population struct {
	rows []string
}

// NewPopulation starts an empty population feed.
func NewPopulation() *Population {
	return &Population{}
}

// Row appends a country with a population, rendered with thousands separators.
func (p *Population) Row(country string, population int64) *Population {
	p.rows = append(p.rows, csvField(country)+`,"`+thousands(population)+`"`)
	return p
}

// String renders the CSV.
func (p *Population) String() string {
	return "Country (or dependency),Population (2020)\n" + strings.Join(p.rows, "\n") + "\n"
}

// Continents renders a country,continent association CSV from pairs.
func Continents(pairs ...string) string {
	if len(pairs)%2 != 0 {
		panic("testutil: Continents needs country/continent pairs")
	}
	var b strings.Builder
	b.WriteString("Country,Continent\n")
	for i := 0; i < len(pairs); i += 2 {
		b.WriteString(csvField(pairs[i]) + "," + csvField(pairs[i+1]) + "\n")
	}
	return b.String()
}

func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// NewStore opens a store in t.TempDir with a fixed clock and sequential
// run IDs, closed at test cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	clock := NewFixedClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "epiboard.db"),
		store.WithClock(clock.Now),
		store.WithIDGenerator(SequentialIDs("run")),
	)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
