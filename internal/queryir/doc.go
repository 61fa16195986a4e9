// Package queryir is the small query representation behind every read of
// persisted state.
//
// Read paths never build SQL strings directly. They describe the rows they
// want as a Select with a predicate tree, and a backend compiler (see
// internal/querysql) turns that into a parameterized statement.
//
// The fragment is intentionally narrow:
//   - Select(from, columns, filter, limit)
//   - Predicates: Equals, Range (inclusive bounds), In, And
//   - Values: Text literals only; dates use their persisted form
//
// Query and Predicate are sealed with marker methods so compilers can use
// exhaustive type switches:
//
//	switch p := pred.(type) {
//	case Equals:
//	case Range:
//	case In:
//	case And:
//	}
//
// There are no OR predicates, joins, aggregates or subqueries. Views that
// need them are computed in Go over the selected rows.
package queryir
