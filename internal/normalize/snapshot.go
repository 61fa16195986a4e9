package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
)

// Snapshot is one wide-format feed file: one row per national or
// sub-national entity, one column per date.
type Snapshot struct {
	Metric epi.Metric
	Dates  []epi.Date // column order as published
	Rows   []SnapshotRow
}

// SnapshotRow is one entity row of a Snapshot.
type SnapshotRow struct {
	Location epi.Location
	Values   []int64 // aligned with Snapshot.Dates
}

type idColumn int

const (
	colNone idColumn = iota
	colCountry
	colState
	colLat
	colLong
)

// identifying headers, lowercased
var idHeaders = map[string]idColumn{
	"country/region": colCountry,
	"country_region": colCountry,
	"country":        colCountry,
	"province/state": colState,
	"province_state": colState,
	"state":          colState,
	"lat":            colLat,
	"long":           colLong,
	"long_":          colLong,
	"lon":            colLong,
}

// ParseSnapshot reads a wide CSV snapshot for metric.
//
// Every column that is not an identifying column must be a date label.
func ParseSnapshot(metric epi.Metric, r io.Reader) (*Snapshot, error) {
	op := "normalize.parse." + string(metric)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, failure.Integrity(op, nil, "empty snapshot")
		}
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	kinds := make([]idColumn, len(header))
	dateIdx := make([]int, len(header))
	snap := &Snapshot{Metric: metric}
	seenDates := make(map[string]struct{})
	hasCountry := false
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if k, ok := idHeaders[key]; ok {
			kinds[i] = k
			dateIdx[i] = -1
			if k == colCountry {
				hasCountry = true
			}
			continue
		}
		d, err := ParseDateLabel(h)
		if err != nil {
			return nil, failure.Integrity(op, []string{h}, "unrecognised column header")
		}
		if _, dup := seenDates[d.String()]; dup {
			return nil, failure.Integrity(op, []string{h}, "duplicate date column")
		}
		seenDates[d.String()] = struct{}{}
		dateIdx[i] = len(snap.Dates)
		snap.Dates = append(snap.Dates, d)
	}
	if !hasCountry {
		return nil, failure.Integrity(op, header, "no country column")
	}
	if len(snap.Dates) == 0 {
		return nil, failure.Integrity(op, nil, "no date columns")
	}

	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot row: %w", err)
		}
		line++
		if len(rec) != len(header) {
			return nil, failure.Integrity(op, []string{fmt.Sprintf("line %d", line)},
				"row has %d fields, header has %d", len(rec), len(header))
		}

		row := SnapshotRow{Values: make([]int64, len(snap.Dates))}
		for i, cell := range rec {
			switch kinds[i] {
			case colCountry:
				row.Location.Country = strings.TrimSpace(cell)
			case colState:
				row.Location.State = strings.TrimSpace(cell)
			case colLat:
				row.Location.Lat = parseCoord(cell)
			case colLong:
				row.Location.Long = parseCoord(cell)
			default:
				v, err := parseCount(cell)
				if err != nil {
					return nil, failure.Integrity(op,
						[]string{fmt.Sprintf("line %d", line), header[i]}, "%v", err)
				}
				row.Values[dateIdx[i]] = v
			}
		}
		if row.Location.Country == "" {
			return nil, failure.Integrity(op, []string{fmt.Sprintf("line %d", line)}, "empty country")
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseCount accepts empty cells (0), integers and integral floats.
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative count %q", s)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative count %q", s)
	}
	return int64(f), nil
}

var (
	usDateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	isoDateRe = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
)

// ParseDateLabel converts a snapshot column label to a calendar date.
//
// Two layouts are published: m/d/yy (month and day unpadded, two-digit year
// in the 2000s) and yyyy-mm-dd. Four-digit years are accepted in the first
// layout and '/' separators in the second.
func ParseDateLabel(label string) (epi.Date, error) {
	s := strings.TrimSpace(label)
	var y, m, d int
	if parts := usDateRe.FindStringSubmatch(s); parts != nil {
		m, _ = strconv.Atoi(parts[1])
		d, _ = strconv.Atoi(parts[2])
		y, _ = strconv.Atoi(parts[3])
		if len(parts[3]) == 2 {
			y += 2000
		}
	} else if parts := isoDateRe.FindStringSubmatch(s); parts != nil {
		y, _ = strconv.Atoi(parts[1])
		m, _ = strconv.Atoi(parts[2])
		d, _ = strconv.Atoi(parts[3])
	} else {
		return epi.Date{}, fmt.Errorf("unrecognised date label %q", label)
	}

	date := epi.NewDate(y, time.Month(m), d)
	// time.Date normalizes overflow (2/30 -> 3/1); reject instead.
	if date.Time().Year() != y || int(date.Time().Month()) != m || date.Time().Day() != d {
		return epi.Date{}, fmt.Errorf("invalid calendar date %q", label)
	}
	return date, nil
}
