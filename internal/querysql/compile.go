package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/queryir"
)

// Table describes a readable table: its columns and its stable order.
type Table struct {
	Name    string
	Columns []string
	OrderBy string
}

// factOrder is the stable order of every date-keyed table.
const factOrder = "date ASC, country COLLATE BINARY ASC"

// Tables is the whitelist of readable tables. Identifiers in generated SQL
// come only from here.
var Tables = map[string]Table{
	"facts": {
		Name:    "facts",
		Columns: []string{"country", "date", "confirmed", "deaths", "recovered"},
		OrderBy: factOrder,
	},
	"daily_stats": {
		Name: "daily_stats",
		Columns: []string{
			"country", "date",
			"daily_confirmed", "daily_deaths", "daily_recovered",
			"daily_confirmed_ma7", "daily_deaths_ma7", "daily_recovered_ma7",
		},
		OrderBy: factOrder,
	},
	"reference": {
		Name: "reference",
		Columns: []string{
			"country", "population", "continent", "scaled_population",
			"rank", "yearly_change_pct", "net_change", "density", "land_area",
			"migrants", "fertility_rate", "median_age", "urban_pop_pct", "world_share_pct",
		},
		OrderBy: "country COLLATE BINARY ASC",
	},
	"locations": {
		Name:    "locations",
		Columns: []string{"country", "state", "lat", "long"},
		OrderBy: "country COLLATE BINARY ASC, state COLLATE BINARY ASC",
	},
}

func (t Table) has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// SQLCompiler compiles queryir queries to parameterized SQLite statements.
//
// Every statement ends with the table's stable ORDER BY and every literal is
// a bound parameter.
type SQLCompiler struct {
	tables map[string]Table
}

// NewSQLCompiler creates a compiler over the default table whitelist.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{tables: Tables}
}

// Compile converts q to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	table, ok := c.tables[q.From]
	if !ok {
		return "", nil, fmt.Errorf("unknown table %q", q.From)
	}
	for _, col := range q.Columns {
		if !table.has(col) {
			return "", nil, fmt.Errorf("unknown column %q in table %q", col, q.From)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), table.Name)

	var params []any
	if q.Filter != nil {
		where, whereParams, err := c.compilePredicate(table, q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = whereParams
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(table.OrderBy)

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, int64(q.Limit))
	}
	return b.String(), params, nil
}

func (c *SQLCompiler) compilePredicate(table Table, p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		if err := checkField(table, pred.Field); err != nil {
			return "", nil, err
		}
		return pred.Field + " = ?", []any{toParam(pred.Value)}, nil

	case queryir.Range:
		if err := checkField(table, pred.Field); err != nil {
			return "", nil, err
		}
		var parts []string
		var params []any
		if pred.Min != nil {
			parts = append(parts, pred.Field+" >= ?")
			params = append(params, toParam(pred.Min))
		}
		if pred.Max != nil {
			parts = append(parts, pred.Field+" <= ?")
			params = append(params, toParam(pred.Max))
		}
		return strings.Join(parts, " AND "), params, nil

	case queryir.In:
		if err := checkField(table, pred.Field); err != nil {
			return "", nil, err
		}
		marks := make([]string, len(pred.Values))
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			marks[i] = "?"
			params[i] = toParam(v)
		}
		return fmt.Sprintf("%s IN (%s)", pred.Field, strings.Join(marks, ", ")), params, nil

	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := c.compilePredicate(table, sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func checkField(table Table, field string) error {
	if !table.has(field) {
		return fmt.Errorf("unknown column %q in table %q", field, table.Name)
	}
	return nil
}

func toParam(v queryir.Value) any {
	switch val := v.(type) {
	case queryir.Text:
		return string(val)
	}
	return nil
}

// Filter is the parameter set accepted by the read surface.
type Filter struct {
	Table     string
	Columns   []string // nil selects every column of Table
	MinDate   epi.Date // zero means unbounded
	MaxDate   epi.Date // zero means unbounded
	Countries []string // nil means every country
	Limit     int
}

// Query lowers f to a queryir.Select.
func (f Filter) Query() queryir.Select {
	cols := f.Columns
	if cols == nil {
		cols = Tables[f.Table].Columns
	}
	var preds []queryir.Predicate
	if !f.MinDate.IsZero() || !f.MaxDate.IsZero() {
		r := queryir.Range{Field: "date"}
		if !f.MinDate.IsZero() {
			r.Min = queryir.DateValue(f.MinDate)
		}
		if !f.MaxDate.IsZero() {
			r.Max = queryir.DateValue(f.MaxDate)
		}
		preds = append(preds, r)
	}
	switch len(f.Countries) {
	case 0:
	case 1:
		preds = append(preds, queryir.Equals{Field: "country", Value: queryir.Text(f.Countries[0])})
	default:
		vals := make([]queryir.Value, len(f.Countries))
		for i, c := range f.Countries {
			vals[i] = queryir.Text(c)
		}
		preds = append(preds, queryir.In{Field: "country", Values: vals})
	}

	sel := queryir.Select{From: f.Table, Columns: cols, Limit: f.Limit}
	if len(preds) > 0 {
		sel.Filter = queryir.And{Predicates: preds}
	}
	return sel
}

// Compile compiles f with the default compiler.
func (f Filter) Compile() (string, []any, error) {
	return NewSQLCompiler().Compile(f.Query())
}
