package recordstore

import (
	"encoding/binary"
	"math"
)

// slot is the binary layout of one record-file slot; the trailing validity
// byte and next-free pointer are added on write and stripped on read:
// [column bytes...][validity byte: '0' or '1'][next_free int32 little-endian]
const (
	validLive = '1'
	validFree = '0'
)

// packTuple encodes t (assumed already validated against the schema) plus
// the validity byte and next-free pointer into one record_width slot.
func (s Schema) packTuple(t Tuple, valid byte, next int32) []byte {
	buf := make([]byte, s.RecordWidth())
	off := 0
	for i, c := range s.Columns {
		switch c.Kind {
		case KindInt:
			binary.LittleEndian.PutUint32(buf[off:], uint32(t[i].(int32)))
		case KindFloat:
			binary.LittleEndian.PutUint64(buf[off:], floatBits(t[i].(float64)))
		case KindString:
			copy(buf[off:off+c.Width], padASCII(t[i].(string), c.Width))
		}
		off += c.wireWidth()
	}
	buf[off] = valid
	off += validityWidth
	binary.LittleEndian.PutUint32(buf[off:], uint32(next))
	return buf
}

// unpackSlot decodes one record_width slot into its tuple, validity byte,
// and next-free pointer.
func (s Schema) unpackSlot(buf []byte) (Tuple, byte, int32) {
	t := make(Tuple, len(s.Columns))
	off := 0
	for i, c := range s.Columns {
		switch c.Kind {
		case KindInt:
			t[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		case KindFloat:
			t[i] = bitsToFloat(binary.LittleEndian.Uint64(buf[off:]))
		case KindString:
			t[i] = trimASCII(buf[off : off+c.Width])
		}
		off += c.wireWidth()
	}
	valid := buf[off]
	off += validityWidth
	next := int32(binary.LittleEndian.Uint32(buf[off:]))
	return t, valid, next
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

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func bitsToFloat(u uint64) float64 {
	return math.Float64frombits(u)
}
