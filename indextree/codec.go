// Package indextree implements a disk-resident B+-tree index built
// entirely on top of the shared buffer pool: every node is one pool
// block, split/borrow/fuse rewrite whole blocks, and persistence happens
// only through Tree.Close.
package indextree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ColumnKind is the packed wire type of one key column, matching
// recordstore's three wire kinds so a table's primary-key/secondary-key
// format can be derived straight from its column list.
type ColumnKind int

const (
	KindInt ColumnKind = iota
	KindFloat
	KindString
)

// ColumnDef describes one column of a composite key.
type ColumnDef struct {
	Kind  ColumnKind
	Width int // only meaningful for KindString
}

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

// KeyCodec is the schema-derived packer/comparator for one index's key
// format: a plain value standing in for a runtime-generated key class.
type KeyCodec struct {
	Columns []ColumnDef
}

// Size is the fixed packed byte width of one key under this codec.
func (c KeyCodec) Size() int {
	w := 0
	for _, col := range c.Columns {
		w += col.wireWidth()
	}
	return w
}

// Key is one decoded composite key value, one entry per column, holding
// int32, float64, or string values in codec column order.
type Key []any

// Pack encodes k into its fixed-width wire form.
func (c KeyCodec) Pack(k Key) []byte {
	buf := make([]byte, c.Size())
	off := 0
	for i, col := range c.Columns {
		switch col.Kind {
		case KindInt:
			binary.LittleEndian.PutUint32(buf[off:], uint32(k[i].(int32)))
		case KindFloat:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(k[i].(float64)))
		case KindString:
			copy(buf[off:off+col.Width], padASCII(k[i].(string), col.Width))
		}
		off += col.wireWidth()
	}
	return buf
}

// Unpack decodes one fixed-width key from buf.
func (c KeyCodec) Unpack(buf []byte) Key {
	k := make(Key, len(c.Columns))
	off := 0
	for i, col := range c.Columns {
		switch col.Kind {
		case KindInt:
			k[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		case KindFloat:
			k[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		case KindString:
			k[i] = trimASCII(buf[off : off+col.Width])
		}
		off += col.wireWidth()
	}
	return k
}

// Compare orders two keys lexicographically, column by column. Strings
// compare as zero-padded byte sequences: no locale-aware collation.
func (c KeyCodec) Compare(a, b Key) int {
	for i, col := range c.Columns {
		var cmp int
		switch col.Kind {
		case KindInt:
			av, bv := a[i].(int32), b[i].(int32)
			cmp = compareInt(av, bv)
		case KindFloat:
			av, bv := a[i].(float64), b[i].(float64)
			cmp = compareFloat(av, bv)
		case KindString:
			cmp = bytes.Compare(padASCII(a[i].(string), col.Width), padASCII(b[i].(string), col.Width))
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// Equal reports whether a and b pack to the same byte sequence.
func (c KeyCodec) Equal(a, b Key) bool { return c.Compare(a, b) == 0 }

func compareInt(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func padASCII(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

func trimASCII(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

func (c KeyCodec) validate(k Key) error {
	if len(k) != len(c.Columns) {
		return fmt.Errorf("indextree: key has %d columns, codec wants %d", len(k), len(c.Columns))
	}
	return nil
}
