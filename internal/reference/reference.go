// Package reference loads the population/continent lookup table.
//
// The population feed publishes numbers as formatted strings ("1,234,567",
// "1.02 %", "N.A."). Loading strips the formatting, casts each field,
// reconciles entity names and attaches the continent association.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/names"
)

// UnknownContinent is assigned to rows with no continent association.
const UnknownContinent = "Unknown"

type field int

const (
	fIgnored field = iota
	fRank
	fCountry
	fPopulation
	fYearlyChange
	fNetChange
	fDensity
	fLandArea
	fMigrants
	fFertility
	fMedianAge
	fUrbanPop
	fWorldShare
	fContinent
)

// classify maps a population-feed header to its field. Headers are compared
// on their lowercase alphanumeric prefix so "Density (P/Km²)" and
// "density" are the same column.
func classify(header string) field {
	key := squash(header)
	switch {
	case key == "rank" || key == "no" || strings.TrimSpace(header) == "#":
		return fRank
	case strings.HasPrefix(key, "country"):
		return fCountry
	case strings.HasPrefix(key, "population"):
		return fPopulation
	case strings.HasPrefix(key, "yearlychange"):
		return fYearlyChange
	case strings.HasPrefix(key, "netchange"):
		return fNetChange
	case strings.HasPrefix(key, "density"):
		return fDensity
	case strings.HasPrefix(key, "landarea"):
		return fLandArea
	case strings.HasPrefix(key, "migrants"):
		return fMigrants
	case strings.HasPrefix(key, "fert"):
		return fFertility
	case strings.HasPrefix(key, "medage"), strings.HasPrefix(key, "medianage"):
		return fMedianAge
	case strings.HasPrefix(key, "urbanpop"):
		return fUrbanPop
	case strings.HasPrefix(key, "worldshare"):
		return fWorldShare
	case strings.HasPrefix(key, "continent"):
		return fContinent
	}
	return fIgnored
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cleanNumber strips thousands separators, percent signs, plus signs and
// spaces. It reports ok=false for empty and "N.A." cells.
func cleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(strings.TrimSuffix(s, "."), "N.A") || strings.EqualFold(s, "NA") {
		return "", false
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '%', '+', ' ', '\u00a0':
			return -1
		}
		return r
	}, s)
	return s, s != ""
}

// ParseInt parses a formatted integer such as "1,234,567".
func ParseInt(s string) (*int64, error) {
	clean, ok := cleanNumber(s)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return &v, nil
}

// ParseDecimal parses a formatted decimal such as "1.02 %".
func ParseDecimal(s string) (*float64, error) {
	clean, ok := cleanNumber(s)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return &v, nil
}

// Loader turns raw reference feeds into typed reference rows.
type Loader struct {
	names  *names.Table
	logger *zap.Logger
}

// NewLoader creates a Loader. A nil logger is replaced with a no-op logger.
func NewLoader(tbl *names.Table, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{names: tbl, logger: logger}
}

// Load parses the population feed and, when continents is non-nil, the
// country-to-continent association. The result is sorted by country.
func (l *Loader) Load(population io.Reader, continents io.Reader) ([]epi.Reference, error) {
	const op = "reference.load"

	assoc := map[string]string{}
	if continents != nil {
		var err error
		assoc, err = l.parseContinents(continents)
		if err != nil {
			return nil, err
		}
	}

	reader := csv.NewReader(population)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, failure.Integrity(op, nil, "empty population feed")
		}
		return nil, fmt.Errorf("read population header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	fields := make([]field, len(header))
	var hasCountry, hasPopulation bool
	for i, h := range header {
		fields[i] = classify(h)
		hasCountry = hasCountry || fields[i] == fCountry
		hasPopulation = hasPopulation || fields[i] == fPopulation
	}
	if !hasCountry || !hasPopulation {
		return nil, failure.Integrity(op, header, "population feed needs country and population columns")
	}

	seen := make(map[string]string) // canonical -> raw
	var out []epi.Reference
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read population row: %w", err)
		}
		line++
		if len(rec) != len(header) {
			return nil, failure.Integrity(op, []string{fmt.Sprintf("line %d", line)},
				"row has %d fields, header has %d", len(rec), len(header))
		}

		ref, raw, err := parseRow(fields, header, rec)
		if err != nil {
			return nil, failure.Integrity(op, []string{fmt.Sprintf("line %d", line)}, "%v", err)
		}
		canonical, keep := l.names.Resolve(names.TableReference, raw)
		if !keep {
			l.logger.Debug("reference entity excluded", zap.String("country", raw))
			continue
		}
		if prev, dup := seen[canonical]; dup {
			return nil, failure.Integrity(op, []string{prev, raw}, "duplicate reference row for %q", canonical)
		}
		seen[canonical] = raw
		ref.Country = canonical

		if c, ok := assoc[canonical]; ok {
			ref.Continent = c
		}
		if ref.Continent == "" {
			ref.Continent = UnknownContinent
		}
		out = append(out, ref)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	l.logger.Info("reference rows loaded", zap.Int("rows", len(out)), zap.Int("continents", len(assoc)))
	return out, nil
}

func parseRow(fields []field, header, rec []string) (epi.Reference, string, error) {
	var ref epi.Reference
	var raw string
	for i, cell := range rec {
		var err error
		switch fields[i] {
		case fCountry:
			raw = strings.TrimSpace(cell)
		case fContinent:
			ref.Continent = strings.TrimSpace(cell)
		case fPopulation:
			var p *int64
			p, err = ParseInt(cell)
			if err == nil && (p == nil || *p <= 0) {
				err = fmt.Errorf("population must be positive, got %q", cell)
			}
			if p != nil {
				ref.Population = *p
			}
		case fRank:
			ref.Rank, err = ParseInt(cell)
		case fYearlyChange:
			ref.YearlyChangePct, err = ParseDecimal(cell)
		case fNetChange:
			ref.NetChange, err = ParseInt(cell)
		case fDensity:
			ref.Density, err = ParseInt(cell)
		case fLandArea:
			ref.LandArea, err = ParseInt(cell)
		case fMigrants:
			ref.Migrants, err = ParseInt(cell)
		case fFertility:
			ref.FertilityRate, err = ParseDecimal(cell)
		case fMedianAge:
			ref.MedianAge, err = ParseInt(cell)
		case fUrbanPop:
			ref.UrbanPopPct, err = ParseDecimal(cell)
		case fWorldShare:
			ref.WorldSharePct, err = ParseDecimal(cell)
		}
		if err != nil {
			return epi.Reference{}, "", fmt.Errorf("%s: %w", header[i], err)
		}
	}
	if raw == "" {
		return epi.Reference{}, "", fmt.Errorf("empty country")
	}
	ref.ScaledPopulation = epi.ScalePopulation(ref.Population)
	return ref, raw, nil
}

// parseContinents reads a country,continent association. Country names go
// through the same reconciliation as the population feed.
func (l *Loader) parseContinents(r io.Reader) (map[string]string, error) {
	const op = "reference.continents"
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read continent header: %w", err)
	}
	countryCol, continentCol := -1, -1
	for i, h := range header {
		switch squash(h) {
		case "country", "countryname", "countryregion":
			countryCol = i
		case "continent", "continentname":
			continentCol = i
		}
	}
	if countryCol < 0 || continentCol < 0 {
		return nil, failure.Integrity(op, header, "continent feed needs country and continent columns")
	}

	out := make(map[string]string)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read continent row: %w", err)
		}
		canonical, keep := l.names.Resolve(names.TableReference, rec[countryCol])
		if !keep {
			continue
		}
		continent := strings.TrimSpace(rec[continentCol])
		if prev, ok := out[canonical]; ok && prev != continent {
			return nil, failure.Integrity(op, []string{canonical, prev, continent}, "conflicting continents")
		}
		out[canonical] = continent
	}
	return out, nil
}

// Reconcile checks that every fact-table country has a reference row.
//
// With strict set, any residue is a configuration error naming the raw
// names that need a mapping entry. Otherwise the residue is logged and those
// countries drop out of population-scaled and continent views.
func Reconcile(factCountries []string, refs []epi.Reference, strict bool, logger *zap.Logger) ([]string, error) {
	refCountries := make([]string, len(refs))
	for i, r := range refs {
		refCountries[i] = r.Country
	}
	unmatched := names.Unmatched(factCountries, refCountries)
	if len(unmatched) == 0 {
		return nil, nil
	}
	if strict {
		return unmatched, failure.Config("reference.reconcile", unmatched,
			"%d fact countries have no reference row; add name mapping entries", len(unmatched))
	}
	if logger != nil {
		logger.Warn("fact countries without reference row",
			zap.Strings("countries", unmatched))
	}
	return unmatched, nil
}
