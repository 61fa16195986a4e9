package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/querysql"
)

// DateCount is the number of countries reporting on one date.
type DateCount struct {
	Date      epi.Date `json:"date"`
	Countries int      `json:"countries"`
}

// Watermark returns the most recent fact date, or the zero Date when the
// fact table is empty.
func (s *Store) Watermark(ctx context.Context) (epi.Date, error) {
	return watermark(ctx, s.db)
}

func watermark(ctx context.Context, q querier) (epi.Date, error) {
	var max sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT MAX(date) FROM facts`).Scan(&max); err != nil {
		return epi.Date{}, fmt.Errorf("read watermark: %w", err)
	}
	if !max.Valid {
		return epi.Date{}, nil
	}
	d, err := epi.ParseDate(max.String)
	if err != nil {
		return epi.Date{}, fmt.Errorf("read watermark: %w", err)
	}
	return d, nil
}

// StateVersion returns the counter bumped by every committed data write,
// including writes from other processes sharing the database file.
func (s *Store) StateVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM state_version WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read state version: %w", err)
	}
	return v, nil
}

// CountFacts returns the number of fact rows.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	return s.count(ctx, "facts")
}

// CountReference returns the number of reference rows.
func (s *Store) CountReference(ctx context.Context) (int, error) {
	return s.count(ctx, "reference")
}

// CountLocations returns the number of location rows.
func (s *Store) CountLocations(ctx context.Context) (int, error) {
	return s.count(ctx, "locations")
}

// CountDailyStats returns the number of cached daily rows.
func (s *Store) CountDailyStats(ctx context.Context) (int, error) {
	return s.count(ctx, "daily_stats")
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	if _, ok := querysql.Tables[table]; !ok {
		return 0, fmt.Errorf("count %s: unknown table", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ReadFacts returns the fact rows matching f, ordered by date then country.
// f.Table and f.Columns are ignored.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadFacts(ctx context.Context, f querysql.Filter) ([]epi.Fact, error) {
	f.Table, f.Columns = "facts", nil
	query, params, err := f.Compile()
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []epi.Fact{}
	for rows.Next() {
		var fact epi.Fact
		var date string
		if err := rows.Scan(&fact.Country, &date, &fact.Confirmed, &fact.Deaths, &fact.Recovered); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if fact.Date, err = epi.ParseDate(date); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// ReadDailyStats returns cached daily rows matching f, ordered by date then
// country. f.Table and f.Columns are ignored.
func (s *Store) ReadDailyStats(ctx context.Context, f querysql.Filter) ([]epi.Daily, error) {
	f.Table, f.Columns = "daily_stats", nil
	query, params, err := f.Compile()
	if err != nil {
		return nil, fmt.Errorf("read daily stats: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	out := []epi.Daily{}
	for rows.Next() {
		var d epi.Daily
		var date string
		if err := rows.Scan(&d.Country, &date,
			&d.DailyConfirmed, &d.DailyDeaths, &d.DailyRecovered,
			&d.ConfirmedMA7, &d.DeathsMA7, &d.RecoveredMA7); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		if d.Date, err = epi.ParseDate(date); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stats: %w", err)
	}
	return out, nil
}

// ReadReference returns every reference row ordered by country.
func (s *Store) ReadReference(ctx context.Context) ([]epi.Reference, error) {
	query, params, err := querysql.Filter{Table: "reference"}.Compile()
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query reference: %w", err)
	}
	defer rows.Close()

	out := []epi.Reference{}
	for rows.Next() {
		var r epi.Reference
		var rank, netChange, density, landArea, migrants, medianAge sql.NullInt64
		var yearly, fertility, urban, share sql.NullFloat64
		if err := rows.Scan(&r.Country, &r.Population, &r.Continent, &r.ScaledPopulation,
			&rank, &yearly, &netChange, &density, &landArea, &migrants,
			&fertility, &medianAge, &urban, &share); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		r.Rank = intPtr(rank)
		r.YearlyChangePct = floatPtr(yearly)
		r.NetChange = intPtr(netChange)
		r.Density = intPtr(density)
		r.LandArea = intPtr(landArea)
		r.Migrants = intPtr(migrants)
		r.FertilityRate = floatPtr(fertility)
		r.MedianAge = intPtr(medianAge)
		r.UrbanPopPct = floatPtr(urban)
		r.WorldSharePct = floatPtr(share)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference: %w", err)
	}
	return out, nil
}

// ReadLocations returns every location ordered by country then state.
func (s *Store) ReadLocations(ctx context.Context) ([]epi.Location, error) {
	query, params, err := querysql.Filter{Table: "locations"}.Compile()
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	out := []epi.Location{}
	for rows.Next() {
		var l epi.Location
		if err := rows.Scan(&l.Country, &l.State, &l.Lat, &l.Long); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

// FactCountries returns the distinct fact-table countries, sorted.
func (s *Store) FactCountries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT country FROM facts
		ORDER BY country COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query fact countries: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan fact country: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact countries: %w", err)
	}
	return out, nil
}

// CountriesPerDate returns the country count of the lastN most recent
// dates, oldest first. lastN <= 0 returns every date.
func (s *Store) CountriesPerDate(ctx context.Context, lastN int) ([]DateCount, error) {
	return countriesPerDate(ctx, s.db, lastN)
}

func countriesPerDate(ctx context.Context, q querier, lastN int) ([]DateCount, error) {
	limit := int64(lastN)
	if lastN <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.QueryContext(ctx, `
		SELECT date, COUNT(*) FROM facts
		GROUP BY date
		ORDER BY date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query countries per date: %w", err)
	}
	defer rows.Close()

	out := []DateCount{}
	for rows.Next() {
		var dc DateCount
		var date string
		if err := rows.Scan(&date, &dc.Countries); err != nil {
			return nil, fmt.Errorf("scan countries per date: %w", err)
		}
		if dc.Date, err = epi.ParseDate(date); err != nil {
			return nil, fmt.Errorf("scan countries per date: %w", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate countries per date: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
