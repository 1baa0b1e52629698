package recordstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashql/storage/bufferpool"
)

func testSchema() Schema {
	return Schema{Columns: []ColumnDef{
		{Name: "a", Kind: KindInt},
		{Name: "b", Kind: KindFloat},
		{Name: "c", Kind: KindInt},
	}}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	pool := bufferpool.Open(32, 4096)
	path := filepath.Join(t.TempDir(), "table.rec")
	s, err := Init(pool, path, testSchema())
	require.NoError(t, err)
	return s
}

func TestInsertReadRoundTrip(t *testing.T) {
	s := newStore(t)

	off, err := s.Insert(Tuple{int32(1), 2.0, int32(-1)})
	require.NoError(t, err)
	require.Equal(t, int32(0), off)

	got, err := s.Read(off)
	require.NoError(t, err)
	require.Equal(t, Tuple{int32(1), 2.0, int32(-1)}, got)
}

func TestFreeListLIFOReuse(t *testing.T) {
	s := newStore(t)

	o0, err := s.Insert(Tuple{int32(1), 2.0, int32(-1)})
	require.NoError(t, err)
	o1, err := s.Insert(Tuple{int32(-1), -1.5, int32(1)})
	require.NoError(t, err)

	require.Equal(t, int32(0), o0)
	require.Equal(t, int32(1), o1)
	require.Equal(t, int32(-1), s.firstFree)
	require.Equal(t, int32(2), s.recTail)

	require.NoError(t, s.Delete(o1))
	require.Equal(t, int32(1), s.firstFree)
	require.Equal(t, int32(2), s.recTail)

	o2, err := s.Insert(Tuple{int32(9), 9.9, int32(9)})
	require.NoError(t, err)
	require.Equal(t, int32(1), o2)
	require.Equal(t, int32(-1), s.firstFree)
	require.Equal(t, int32(2), s.recTail)
}

func TestDeleteThenReadFails(t *testing.T) {
	s := newStore(t)
	off, err := s.Insert(Tuple{int32(1), 2.0, int32(-1)})
	require.NoError(t, err)

	require.NoError(t, s.Delete(off))
	_, err = s.Read(off)
	require.ErrorIs(t, err, ErrInvalidRecord)

	err = s.Delete(off)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestReadPastTailFails(t *testing.T) {
	s := newStore(t)
	_, err := s.Read(5)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestUpdateInPlace(t *testing.T) {
	s := newStore(t)
	off, err := s.Insert(Tuple{int32(1), 2.0, int32(-1)})
	require.NoError(t, err)

	require.NoError(t, s.Update(off, Tuple{int32(42), 42.0, int32(42)}))
	got, err := s.Read(off)
	require.NoError(t, err)
	require.Equal(t, Tuple{int32(42), 42.0, int32(42)}, got)
}

func TestScanWithPredicate(t *testing.T) {
	s := newStore(t)
	for i := int32(0); i < 10; i++ {
		_, err := s.Insert(Tuple{i, float64(i), int32(-1)})
		require.NoError(t, err)
	}

	pred := Predicate{0: {{Comparator: Gt, Value: int32(5)}}}
	entries, err := s.Scan(pred)
	require.NoError(t, err)
	require.Len(t, entries, 4) // 6,7,8,9

	for _, e := range entries {
		require.Greater(t, e.Tuple[0].(int32), int32(5))
	}
}

func TestScanSpansMultipleBlocks(t *testing.T) {
	pool := bufferpool.Open(64, 64) // tiny blocks to force multi-block scans
	path := filepath.Join(t.TempDir(), "table.rec")
	s, err := Init(pool, path, testSchema())
	require.NoError(t, err)

	const n = 50
	for i := int32(0); i < n; i++ {
		_, err := s.Insert(Tuple{i, float64(i), int32(-1)})
		require.NoError(t, err)
	}

	entries, err := s.Scan(nil)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		require.Equal(t, int32(i), e.Tuple[0].(int32))
	}
}

func TestScanDeleteAndScanUpdate(t *testing.T) {
	s := newStore(t)
	for i := int32(0); i < 5; i++ {
		_, err := s.Insert(Tuple{i, float64(i), int32(-1)})
		require.NoError(t, err)
	}

	n, err := s.ScanUpdate(Predicate{0: {{Comparator: Lt, Value: int32(2)}}}, Tuple{int32(-99), -99.0, int32(-1)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.ScanDelete(Predicate{0: {{Comparator: Eq, Value: int32(-99)}}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	remaining, err := s.Scan(nil)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
}

func TestInitExistingFails(t *testing.T) {
	pool := bufferpool.Open(32, 4096)
	path := filepath.Join(t.TempDir(), "table.rec")

	_, err := Init(pool, path, testSchema())
	require.NoError(t, err)

	_, err = Init(pool, path, testSchema())
	require.ErrorIs(t, err, ErrExists)
}

func TestOpenReattaches(t *testing.T) {
	pool := bufferpool.Open(32, 4096)
	path := filepath.Join(t.TempDir(), "table.rec")

	s, err := Init(pool, path, testSchema())
	require.NoError(t, err)
	off, err := s.Insert(Tuple{int32(7), 7.0, int32(7)})
	require.NoError(t, err)
	require.NoError(t, pool.FlushAll())

	reopened, err := Open(pool, path, testSchema())
	require.NoError(t, err)
	got, err := reopened.Read(off)
	require.NoError(t, err)
	require.Equal(t, Tuple{int32(7), 7.0, int32(7)}, got)
}

func TestStringColumnPadAndTrim(t *testing.T) {
	schema := Schema{Columns: []ColumnDef{
		{Name: "name", Kind: KindString, Width: 8},
	}}
	pool := bufferpool.Open(32, 4096)
	path := filepath.Join(t.TempDir(), "table.rec")
	s, err := Init(pool, path, schema)
	require.NoError(t, err)

	off, err := s.Insert(Tuple{"hi"})
	require.NoError(t, err)
	got, err := s.Read(off)
	require.NoError(t, err)
	require.Equal(t, Tuple{"hi"}, got)
}
