package indextree

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/flashql/storage/bufferpool"
)

func intCodec() KeyCodec {
	return KeyCodec{Columns: []ColumnDef{{Kind: KindInt}}}
}

func newTree(t *testing.T, blockSize int) *Tree {
	t.Helper()
	pool := bufferpool.Open(32, blockSize)
	path := filepath.Join(t.TempDir(), "idx.bin")
	tr, err := Create(pool, path, intCodec())
	require.NoError(t, err)
	return tr
}

func TestSingleKeyInsertAndFind(t *testing.T) {
	tr := newTree(t, 4096)

	require.NoError(t, tr.Insert(Key{int32(5)}, 100))

	got, err := tr.Find(Key{int32(5)})
	require.NoError(t, err)
	require.Equal(t, int32(100), got)

	root, err := tr.readNode(tr.root)
	require.NoError(t, err)
	require.True(t, root.isLeaf)
	require.Len(t, root.keys, 1)
	require.Equal(t, Key{int32(5)}, root.keys[0])
	require.Equal(t, int32(100), root.values[0])
}

func TestDuplicateInsertFails(t *testing.T) {
	tr := newTree(t, 4096)
	require.NoError(t, tr.Insert(Key{int32(1)}, 10))

	err := tr.Insert(Key{int32(1)}, 20)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestFindMissingFails(t *testing.T) {
	tr := newTree(t, 4096)
	require.NoError(t, tr.Insert(Key{int32(1)}, 10))

	_, err := tr.Find(Key{int32(99)})
	require.ErrorIs(t, err, ErrNotFound)
}

// blockSize 45 with a single int32 key column yields order=4: capacity =
// (45 - 13) / (4+4) = 4, matching a small, easily hand-traced tree.
func TestSplitThenRebalance(t *testing.T) {
	tr := newTree(t, 45)
	require.Equal(t, 4, tr.order)

	for i := int32(1); i <= 5; i++ {
		require.NoError(t, tr.Insert(Key{i}, i*10))
	}

	root, err := tr.readNode(tr.root)
	require.NoError(t, err)
	require.False(t, root.isLeaf, "fifth insert must have split the root leaf")
	require.Len(t, root.children, 2)

	for i := int32(1); i <= 5; i++ {
		v, err := tr.Find(Key{i})
		require.NoError(t, err)
		require.Equal(t, i*10, v)
	}

	all, err := tr.All()
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, e := range all {
		require.Equal(t, int32(i+1), e.Key[0])
	}

	require.NoError(t, tr.Delete(Key{int32(4)}))
	require.NoError(t, tr.Delete(Key{int32(5)}))

	for _, k := range []int32{4, 5} {
		_, err := tr.Find(Key{k})
		require.ErrorIs(t, err, ErrNotFound)
	}
	for _, k := range []int32{1, 2, 3} {
		v, err := tr.Find(Key{k})
		require.NoError(t, err)
		require.Equal(t, k*10, v)
	}

	root, err = tr.readNode(tr.root)
	require.NoError(t, err)
	require.True(t, root.isLeaf, "deleting the right branch down to nothing must collapse the root back to a leaf")
	require.Len(t, root.keys, 3)
}

func TestRangeQuery(t *testing.T) {
	tr := newTree(t, 45)
	for i := int32(1); i <= 10; i++ {
		require.NoError(t, tr.Insert(Key{i}, i*10))
	}

	entries, err := tr.Range(Key{int32(3)}, Key{int32(7)})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		require.Equal(t, int32(3+i), e.Key[0])
	}

	want := []Key{{int32(3)}, {int32(4)}, {int32(5)}, {int32(6)}, {int32(7)}}
	got := make([]Key, len(entries))
	for i, e := range entries {
		got[i] = e.Key
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("range keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	tr := newTree(t, 45)
	for i := int32(1); i <= 6; i++ {
		require.NoError(t, tr.Insert(Key{i}, i*10))
	}
	require.NoError(t, tr.Delete(Key{int32(3)}))

	_, err := tr.Find(Key{int32(3)})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tr.Insert(Key{int32(3)}, 999))
	v, err := tr.Find(Key{int32(3)})
	require.NoError(t, err)
	require.Equal(t, int32(999), v)
}

func TestCreateExistingFails(t *testing.T) {
	pool := bufferpool.Open(32, 4096)
	path := filepath.Join(t.TempDir(), "idx.bin")

	_, err := Create(pool, path, intCodec())
	require.NoError(t, err)

	_, err = Create(pool, path, intCodec())
	require.ErrorIs(t, err, ErrExists)
}

// blockSize 53 with a single int32 key column yields order=5 (odd):
// capacity = (53 - 13) / (4+4) = 5. Exercises propagateSplit's
// order-derived separator arithmetic through several levels of internal
// splits, then deletes every odd key.
func TestOddOrderMultiLevelSplit(t *testing.T) {
	tr := newTree(t, 53)
	require.Equal(t, 5, tr.order)

	const n = 40
	for i := int32(1); i <= n; i++ {
		require.NoError(t, tr.Insert(Key{i}, i*10))
	}

	root, err := tr.readNode(tr.root)
	require.NoError(t, err)
	require.False(t, root.isLeaf, "40 inserts at order 5 must split the root more than once")

	for i := int32(1); i <= n; i++ {
		v, err := tr.Find(Key{i})
		require.NoError(t, err)
		require.Equal(t, i*10, v)
	}

	all, err := tr.All()
	require.NoError(t, err)
	require.Len(t, all, n)
	for i, e := range all {
		require.Equal(t, int32(i+1), e.Key[0])
	}

	for i := int32(1); i <= n; i += 2 {
		require.NoError(t, tr.Delete(Key{i}))
	}
	for i := int32(1); i <= n; i++ {
		_, err := tr.Find(Key{i})
		if i%2 == 1 {
			require.ErrorIs(t, err, ErrNotFound)
		} else {
			require.NoError(t, err)
		}
	}
}

func TestFuseMismatchedKindsReturnsStructureBroken(t *testing.T) {
	tr := newTree(t, 45)

	leaf := newLeaf(10)
	internal := newInternal(11)

	err := tr.fuse(nil, nil, 0, leaf, internal)
	require.ErrorIs(t, err, ErrStructureBroken)
}

func TestOpenRebuildsBloomAndReattaches(t *testing.T) {
	pool := bufferpool.Open(32, 45)
	path := filepath.Join(t.TempDir(), "idx.bin")

	tr, err := Create(pool, path, intCodec())
	require.NoError(t, err)
	for i := int32(1); i <= 8; i++ {
		require.NoError(t, tr.Insert(Key{i}, i*10))
	}
	require.NoError(t, pool.FlushAll())

	reopened, err := Open(pool, path, intCodec())
	require.NoError(t, err)
	for i := int32(1); i <= 8; i++ {
		v, err := reopened.Find(Key{i})
		require.NoError(t, err)
		require.Equal(t, i*10, v)
	}
}
