package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/queryir"
)

func TestCompile_SimpleSelect(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From:    "facts",
		Columns: []string{"country", "confirmed"},
		Filter:  queryir.Equals{Field: "country", Value: queryir.Text("Chile")},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT country, confirmed FROM facts WHERE country = ? ORDER BY date ASC, country COLLATE BINARY ASC",
		sql)
	assert.NotContains(t, sql, "Chile")
	assert.Equal(t, []any{"Chile"}, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	compiler := NewSQLCompiler()
	for name := range Tables {
		t.Run(name, func(t *testing.T) {
			sql, _, err := compiler.Compile(&queryir.Select{From: name, Columns: []string{"country"}})
			require.NoError(t, err)
			assert.Contains(t, sql, " ORDER BY ")
			assert.Contains(t, sql, "COLLATE BINARY")
		})
	}
}

func TestCompile_RangeInLimit(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From:    "daily_stats",
		Columns: []string{"country", "date", "daily_confirmed"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Range{Field: "date", Min: queryir.Text("2020-03-01"), Max: queryir.Text("2020-03-31")},
			queryir.In{Field: "country", Values: []queryir.Value{queryir.Text("Chile"), queryir.Text("Peru")}},
		}},
		Limit: 5,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT country, date, daily_confirmed FROM daily_stats"+
			" WHERE date >= ? AND date <= ? AND country IN (?, ?)"+
			" ORDER BY date ASC, country COLLATE BINARY ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"2020-03-01", "2020-03-31", "Chile", "Peru", int64(5)}, params)
}

func TestCompile_RejectsUnknownIdentifiers(t *testing.T) {
	compiler := NewSQLCompiler()
	cases := map[string]queryir.Query{
		"table":         queryir.Select{From: "sqlite_master", Columns: []string{"name"}},
		"column":        queryir.Select{From: "facts", Columns: []string{"country; DROP TABLE facts"}},
		"filter field":  queryir.Select{From: "facts", Columns: []string{"country"}, Filter: queryir.Equals{Field: "population", Value: queryir.Text("1")}},
		"invalid query": queryir.Select{From: "facts"},
		"nil":           nil,
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := compiler.Compile(q)
			assert.Error(t, err)
		})
	}
}

func TestCompile_InjectionIsParameterized(t *testing.T) {
	evil := "x' OR '1'='1"
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From:    "reference",
		Columns: []string{"country"},
		Filter:  queryir.Equals{Field: "country", Value: queryir.Text(evil)},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, evil)
	assert.Equal(t, []any{evil}, params)
}

func TestFilter_Query(t *testing.T) {
	f := Filter{
		Table:     "facts",
		MinDate:   epi.MustDate("2020-03-01"),
		Countries: []string{"Peru"},
	}
	sql, params, err := f.Compile()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT country, date, confirmed, deaths, recovered FROM facts"+
			" WHERE date >= ? AND country = ?"+
			" ORDER BY date ASC, country COLLATE BINARY ASC",
		sql)
	assert.Equal(t, []any{"2020-03-01", "Peru"}, params)

	f.Countries = append(f.Countries, "Chile")
	sql, params, err = f.Compile()
	require.NoError(t, err)
	assert.Contains(t, sql, " WHERE date >= ? AND country IN (?, ?) ")
	assert.Equal(t, []any{"2020-03-01", "Peru", "Chile"}, params)
}

func TestFilter_NoConditions(t *testing.T) {
	sql, params, err := Filter{Table: "locations"}.Compile()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT country, state, lat, long FROM locations ORDER BY country COLLATE BINARY ASC, state COLLATE BINARY ASC",
		sql)
	assert.Empty(t, params)
}

func TestFilter_UnknownTable(t *testing.T) {
	_, _, err := Filter{Table: "users"}.Compile()
	assert.Error(t, err)
}
