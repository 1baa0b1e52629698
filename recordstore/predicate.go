package recordstore

import "fmt"

// Comparator is one of the three relational operators a Bound may apply.
type Comparator int

const (
	Eq Comparator = iota
	Lt
	Gt
)

// Bound is one (comparator, literal) test applied to a single column.
type Bound struct {
	Comparator Comparator
	Value      any
}

// Predicate maps column index to the set of bounds that column's value must
// satisfy, all conjunctively: a column present with multiple comparators
// applies all of them, and a matching row must satisfy every listed column.
type Predicate map[int][]Bound

// Match reports whether t satisfies every bound of every listed column.
func (p Predicate) Match(t Tuple) bool {
	for col, bounds := range p {
		if col < 0 || col >= len(t) {
			return false
		}
		for _, b := range bounds {
			if !matchOne(t[col], b) {
				return false
			}
		}
	}
	return true
}

func matchOne(v any, b Bound) bool {
	switch a := v.(type) {
	case int32:
		w, ok := b.Value.(int32)
		if !ok {
			return false
		}
		return compareOrdered(a, w, b.Comparator)
	case float64:
		w, ok := b.Value.(float64)
		if !ok {
			return false
		}
		return compareOrdered(a, w, b.Comparator)
	case string:
		w, ok := b.Value.(string)
		if !ok {
			return false
		}
		return compareOrdered(a, w, b.Comparator)
	default:
		return false
	}
}

func compareOrdered[T int32 | float64 | string](a, b T, c Comparator) bool {
	switch c {
	case Eq:
		return a == b
	case Lt:
		return a < b
	case Gt:
		return a > b
	default:
		return false
	}
}

// String renders a predicate for diagnostics (not used on any hot path).
func (p Predicate) String() string {
	return fmt.Sprintf("Predicate(%d columns)", len(p))
}
