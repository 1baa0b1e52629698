package engine

import (
	"fmt"

	"github.com/flashql/storage/recordstore"
)

// Cond is one leaf condition: column OP literal.
type Cond struct {
	Column     string
	Comparator recordstore.Comparator
	Value      any
}

// Expr is a predicate tree supporting "and"/"or" connectives over leaf
// Conds, generalizing a single implicit per-column conjunction to
// arbitrary boolean combinations.
type Expr struct {
	And  []Expr
	Or   []Expr
	Leaf *Cond
}

// Lit builds a single-condition leaf expression.
func Lit(column string, cmp recordstore.Comparator, value any) Expr {
	return Expr{Leaf: &Cond{Column: column, Comparator: cmp, Value: value}}
}

// And combines expressions conjunctively.
func And(exprs ...Expr) Expr { return Expr{And: exprs} }

// Or combines expressions disjunctively.
func Or(exprs ...Expr) Expr { return Expr{Or: exprs} }

// compiledFilter evaluates an Expr against a decoded tuple using a
// table's column name -> index mapping.
type compiledFilter func(recordstore.Tuple) bool

func compile(e Expr, colIndex func(string) (int, bool)) (compiledFilter, error) {
	switch {
	case e.Leaf != nil:
		idx, ok := colIndex(e.Leaf.Column)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrSchemaError, e.Leaf.Column)
		}
		cmp, val := e.Leaf.Comparator, e.Leaf.Value
		return func(t recordstore.Tuple) bool {
			b := recordstore.Bound{Comparator: cmp, Value: val}
			return recordstore.Predicate{idx: {b}}.Match(t)
		}, nil

	case len(e.And) > 0:
		filters := make([]compiledFilter, len(e.And))
		for i, sub := range e.And {
			f, err := compile(sub, colIndex)
			if err != nil {
				return nil, err
			}
			filters[i] = f
		}
		return func(t recordstore.Tuple) bool {
			for _, f := range filters {
				if !f(t) {
					return false
				}
			}
			return true
		}, nil

	case len(e.Or) > 0:
		filters := make([]compiledFilter, len(e.Or))
		for i, sub := range e.Or {
			f, err := compile(sub, colIndex)
			if err != nil {
				return nil, err
			}
			filters[i] = f
		}
		return func(t recordstore.Tuple) bool {
			for _, f := range filters {
				if f(t) {
					return true
				}
			}
			return false
		}, nil

	default:
		return func(recordstore.Tuple) bool { return true }, nil
	}
}
