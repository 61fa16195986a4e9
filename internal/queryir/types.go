package queryir

import "github.com/roach88/epiboard/internal/epi"

// Query is an abstract read. Only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate is a filter condition. Only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Value is a literal compared against a column.
type Value interface {
	valueNode()
}

// Text is a string literal.
type Text string

func (Text) valueNode() {}

// DateValue returns d in its persisted textual form.
func DateValue(d epi.Date) Text {
	return Text(d.String())
}

// Select reads Columns from a table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <table order> LIMIT <limit>
//
// Filter may be nil. Limit 0 means no limit. The ordering is not part of the
// query; each backend applies the table's stable order.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate
	Limit   int
}

func (Select) queryNode() {}

// Equals is <field> = <value>.
type Equals struct {
	Field string
	Value Value
}

func (Equals) predicateNode() {}

// Range is Min <= <field> <= Max. A nil bound is open.
type Range struct {
	Field string
	Min   Value
	Max   Value
}

func (Range) predicateNode() {}

// In is <field> IN (<values>).
type In struct {
	Field  string
	Values []Value
}

func (In) predicateNode() {}

// And holds when every predicate holds. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
