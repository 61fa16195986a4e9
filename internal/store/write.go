package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/epiboard/internal/epi"
)

// Tx is a read view of the store inside a write transaction. It lets a
// pre-commit check see the rows about to be committed.
type Tx struct {
	tx *sql.Tx
}

// CountriesPerDate is Store.CountriesPerDate inside the transaction.
func (t *Tx) CountriesPerDate(ctx context.Context, lastN int) ([]DateCount, error) {
	return countriesPerDate(ctx, t.tx, lastN)
}

// Watermark is Store.Watermark inside the transaction.
func (t *Tx) Watermark(ctx context.Context) (epi.Date, error) {
	return watermark(ctx, t.tx)
}

// CheckFunc runs before commit. A non-nil error rolls the write back.
type CheckFunc func(ctx context.Context, tx *Tx) error

const insertFactSQL = `
	INSERT INTO facts (country, date, confirmed, deaths, recovered)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(country, date) DO NOTHING
`

// AppendFacts inserts rows in a single transaction and returns how many
// were new. Rows whose (country, date) already exists are silently skipped;
// existing rows are never rewritten.
//
// check, when non-nil, runs after the inserts and before commit. If it
// fails, nothing is committed.
func (s *Store) AppendFacts(ctx context.Context, rows []epi.Fact, check CheckFunc) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append facts: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	appended, err := insertFacts(ctx, tx, rows)
	if err != nil {
		return 0, fmt.Errorf("append facts: %w", err)
	}

	if check != nil {
		if err := check(ctx, &Tx{tx: tx}); err != nil {
			return 0, err
		}
	}
	if appended > 0 {
		if err := bumpStateVersion(ctx, tx); err != nil {
			return 0, fmt.Errorf("append facts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append facts: commit: %w", err)
	}
	return appended, nil
}

// ReplaceFacts drops the fact table and reloads it from rows. This is the
// hard-replace strategy used by full rebuilds; check runs before commit as
// in AppendFacts.
func (s *Store) ReplaceFacts(ctx context.Context, rows []epi.Fact, check CheckFunc) error {
	return s.replaceTable(ctx, "facts", func(tx *sql.Tx) error {
		if _, err := insertFacts(ctx, tx, rows); err != nil {
			return err
		}
		if check != nil {
			return check(ctx, &Tx{tx: tx})
		}
		return nil
	})
}

func insertFacts(ctx context.Context, tx *sql.Tx, rows []epi.Fact) (int, error) {
	stmt, err := tx.PrepareContext(ctx, insertFactSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int
	for _, f := range rows {
		res, err := stmt.ExecContext(ctx, f.Country, f.Date.String(), f.Confirmed, f.Deaths, f.Recovered)
		if err != nil {
			return 0, fmt.Errorf("insert %s %s: %w", f.Country, f.Date, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// ReplaceReference hard-replaces the reference table.
func (s *Store) ReplaceReference(ctx context.Context, refs []epi.Reference) error {
	return s.replaceTable(ctx, "reference", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO reference
			(country, population, continent, scaled_population, rank, yearly_change_pct,
			 net_change, density, land_area, migrants, fertility_rate, median_age,
			 urban_pop_pct, world_share_pct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range refs {
			_, err := stmt.ExecContext(ctx,
				r.Country,
				r.Population,
				r.Continent,
				r.ScaledPopulation,
				nullInt(r.Rank),
				nullFloat(r.YearlyChangePct),
				nullInt(r.NetChange),
				nullInt(r.Density),
				nullInt(r.LandArea),
				nullInt(r.Migrants),
				nullFloat(r.FertilityRate),
				nullInt(r.MedianAge),
				nullFloat(r.UrbanPopPct),
				nullFloat(r.WorldSharePct),
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", r.Country, err)
			}
		}
		return nil
	})
}

// ReplaceLocations hard-replaces the locations table.
func (s *Store) ReplaceLocations(ctx context.Context, locs []epi.Location) error {
	return s.replaceTable(ctx, "locations", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO locations (country, state, lat, long)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(country, state) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range locs {
			if _, err := stmt.ExecContext(ctx, l.Country, l.State, l.Lat, l.Long); err != nil {
				return fmt.Errorf("insert %s/%s: %w", l.Country, l.State, err)
			}
		}
		return nil
	})
}

// ReplaceDailyStats hard-replaces the daily_stats cache.
func (s *Store) ReplaceDailyStats(ctx context.Context, rows []epi.Daily) error {
	return s.replaceTable(ctx, "daily_stats", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_stats
			(country, date, daily_confirmed, daily_deaths, daily_recovered,
			 daily_confirmed_ma7, daily_deaths_ma7, daily_recovered_ma7)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range rows {
			_, err := stmt.ExecContext(ctx,
				d.Country, d.Date.String(),
				d.DailyConfirmed, d.DailyDeaths, d.DailyRecovered,
				d.ConfirmedMA7, d.DeathsMA7, d.RecoveredMA7,
			)
			if err != nil {
				return fmt.Errorf("insert %s %s: %w", d.Country, d.Date, err)
			}
		}
		return nil
	})
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
