package queryir

import (
	"errors"
	"fmt"
)

// Validate checks the structural rules of q: a source, an explicit column
// list, non-empty field names, at least one bound per Range, at least one
// value per In and a non-negative limit.
//
// Table and column names are not checked here; backends own their schema.
// Validate is a pure function and reports every problem it finds.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	return errors.Join(v.problems...)
}

type validator struct {
	problems []error
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.add("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.add("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.add("select without source")
	}
	if len(sel.Columns) == 0 {
		v.add("select from %q has no columns", sel.From)
	}
	for _, c := range sel.Columns {
		if c == "" {
			v.add("empty column name")
		}
	}
	if sel.Limit < 0 {
		v.add("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.field(pred.Field)
		v.value(pred.Field, pred.Value)
	case Range:
		v.field(pred.Field)
		if pred.Min == nil && pred.Max == nil {
			v.add("range on %q has no bounds", pred.Field)
		}
		if pred.Min != nil {
			v.value(pred.Field, pred.Min)
		}
		if pred.Max != nil {
			v.value(pred.Field, pred.Max)
		}
	case In:
		v.field(pred.Field)
		if len(pred.Values) == 0 {
			v.add("empty IN list on %q", pred.Field)
		}
		for _, val := range pred.Values {
			v.value(pred.Field, val)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case nil:
		v.add("nil predicate")
	default:
		v.add("unknown predicate type %T", p)
	}
}

func (v *validator) field(name string) {
	if name == "" {
		v.add("predicate without field")
	}
}

func (v *validator) value(field string, val Value) {
	if val == nil {
		v.add("nil value for %q", field)
	}
}
