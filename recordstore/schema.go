package recordstore

import "fmt"

// ColumnKind is the packed wire type of one column. The engine only ever
// produces these three: little-endian signed 32-bit integers, IEEE-754
// little-endian doubles, and fixed-width zero-padded ASCII strings.
type ColumnKind int

const (
	KindInt ColumnKind = iota
	KindFloat
	KindString
)

// ColumnDef describes one column of a record layout: its wire kind and,
// for strings, its fixed declared width in bytes.
type ColumnDef struct {
	Name  string
	Kind  ColumnKind
	Width int // only meaningful for KindString
}

// wireWidth reports the packed byte width of this column.
func (c ColumnDef) wireWidth() int {
	switch c.Kind {
	case KindInt:
		return 4
	case KindFloat:
		return 8
	case KindString:
		return c.Width
	default:
		return 0
	}
}

// Schema is the stable, ordered column layout of one record file. Its
// RecordWidth is fixed for the life of the file: the layout is supplied by
// the caller once, at creation, and never changes afterward.
type Schema struct {
	Columns []ColumnDef
}

const (
	validityWidth = 1
	nextPtrWidth  = 4
)

// PayloadWidth is the sum of column widths, excluding the validity byte
// and next-free pointer the store appends after the columns internally.
func (s Schema) PayloadWidth() int {
	w := 0
	for _, c := range s.Columns {
		w += c.wireWidth()
	}
	return w
}

// RecordWidth is PayloadWidth plus the validity byte and next-free pointer.
func (s Schema) RecordWidth() int {
	return s.PayloadWidth() + validityWidth + nextPtrWidth
}

// Tuple is one record's decoded values, one entry per column, in schema
// order. Values are int32, float64, or string.
type Tuple []any

func (s Schema) validate(t Tuple) error {
	if len(t) != len(s.Columns) {
		return fmt.Errorf("%w: expected %d columns, got %d", ErrInvalidTuple, len(s.Columns), len(t))
	}
	for i, c := range s.Columns {
		switch c.Kind {
		case KindInt:
			if _, ok := t[i].(int32); !ok {
				return fmt.Errorf("%w: column %s wants int32, got %T", ErrInvalidTuple, c.Name, t[i])
			}
		case KindFloat:
			if _, ok := t[i].(float64); !ok {
				return fmt.Errorf("%w: column %s wants float64, got %T", ErrInvalidTuple, c.Name, t[i])
			}
		case KindString:
			s, ok := t[i].(string)
			if !ok {
				return fmt.Errorf("%w: column %s wants string, got %T", ErrInvalidTuple, c.Name, t[i])
			}
			if len(s) > c.Width {
				return fmt.Errorf("%w: column %s value %q exceeds width %d", ErrInvalidTuple, c.Name, s, c.Width)
			}
		}
	}
	return nil
}
