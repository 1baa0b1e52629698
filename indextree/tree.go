package indextree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flashql/storage/block"
	"github.com/flashql/storage/bufferpool"
)

// ErrExists is returned by Create when the index file already exists.
var ErrExists = errors.New("indextree: file already exists")

const headerWidth = 12 // root int32 + freeHead int32 + next int32

const bloomDefaultCapacity = 4096
const bloomFalsePositiveRate = 0.01

// Tree is a disk-resident B+-tree index: a block-per-node tree with
// leaf-linked range iteration, built on the shared buffer pool. One Tree
// instance serves one index file.
type Tree struct {
	pool      *bufferpool.Pool
	path      string
	codec     KeyCodec
	order     int
	blockSize int

	root     int32
	freeHead int32
	next     int32

	bloom *bloom.BloomFilter // presence filter; never persisted, rebuilt on Open
}

type pathEntry struct {
	blk int32
	idx int
}

// Create initializes a new, empty index file at path.
func Create(pool *bufferpool.Pool, path string, codec KeyCodec) (*Tree, error) {
	if err := bufferpool.EnsureFile(path); err != nil {
		return nil, err
	}
	b, err := pool.Get(path, 0)
	if err != nil {
		return nil, err
	}
	g := block.PinScoped(b)
	defer g.Release()

	if b.EffectiveBytes() >= headerWidth {
		return nil, fmt.Errorf("indextree: create %s: %w", path, ErrExists)
	}

	order := capacity(codec, pool.BlockSize())
	if order < 2 {
		return nil, fmt.Errorf("indextree: key width %d leaves no room in a %d-byte block", codec.Size(), pool.BlockSize())
	}

	t := &Tree{
		pool:      pool,
		path:      path,
		codec:     codec,
		order:     order,
		blockSize: pool.BlockSize(),
		freeHead:  -1,
		next:      1,
		bloom:     bloom.NewWithEstimates(bloomDefaultCapacity, bloomFalsePositiveRate),
	}

	rootBlk, err := t.allocate()
	if err != nil {
		return nil, err
	}
	t.root = rootBlk
	if err := t.writeNode(newLeaf(rootBlk)); err != nil {
		return nil, err
	}
	if err := t.writeHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open reattaches to an existing index file and rebuilds its presence
// filter by walking the leaf chain once.
func Open(pool *bufferpool.Pool, path string, codec KeyCodec) (*Tree, error) {
	order := capacity(codec, pool.BlockSize())
	if order < 2 {
		return nil, fmt.Errorf("indextree: key width %d leaves no room in a %d-byte block", codec.Size(), pool.BlockSize())
	}
	t := &Tree{
		pool:      pool,
		path:      path,
		codec:     codec,
		order:     order,
		blockSize: pool.BlockSize(),
	}
	if err := t.readHeader(); err != nil {
		return nil, err
	}
	if err := t.rebuildBloom(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) readHeader() error {
	b, err := t.pool.Get(t.path, 0)
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()

	data, err := b.Read(0)
	if err != nil {
		return err
	}
	if len(data) < headerWidth {
		return fmt.Errorf("indextree: open %s: truncated header", t.path)
	}
	t.root = int32(binary.LittleEndian.Uint32(data[0:4]))
	t.freeHead = int32(binary.LittleEndian.Uint32(data[4:8]))
	t.next = int32(binary.LittleEndian.Uint32(data[8:12]))
	return nil
}

func (t *Tree) writeHeader() error {
	b, err := t.pool.Get(t.path, 0)
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()

	buf := make([]byte, headerWidth)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.root))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.freeHead))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t.next))
	return b.Write(buf, false, 1)
}

// allocate returns a free block index, preferring the free-list head over
// growing the file, mirroring recordstore's slot free list.
func (t *Tree) allocate() (int32, error) {
	if t.freeHead >= 0 {
		blk := t.freeHead
		b, err := t.pool.Get(t.path, int64(blk))
		if err != nil {
			return 0, err
		}
		g := block.PinScoped(b)
		data, err := b.Read(0)
		g.Release()
		if err != nil {
			return 0, err
		}
		if len(data) >= 4 {
			t.freeHead = int32(binary.LittleEndian.Uint32(data[0:4]))
		} else {
			t.freeHead = -1
		}
		return blk, nil
	}
	blk := t.next
	t.next++
	return blk, nil
}

func (t *Tree) free(blk int32) error {
	b, err := t.pool.Get(t.path, int64(blk))
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()

	buf := make([]byte, t.blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.freeHead))
	t.freeHead = blk
	return b.Write(buf, false, 1)
}

func (t *Tree) readNode(blk int32) (*node, error) {
	b, err := t.pool.Get(t.path, int64(blk))
	if err != nil {
		return nil, err
	}
	g := block.PinScoped(b)
	defer g.Release()

	data, err := b.Read(0)
	if err != nil {
		return nil, err
	}
	if len(data) < t.blockSize {
		grown := make([]byte, t.blockSize)
		copy(grown, data)
		data = grown
	}
	return decodeNode(blk, data, t.codec), nil
}

func (t *Tree) writeNode(n *node) error {
	b, err := t.pool.Get(t.path, int64(n.self))
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()
	return b.Write(n.encode(t.codec, t.blockSize), false, 1)
}

func (t *Tree) bloomAdd(key Key) error {
	if t.bloom == nil {
		return nil
	}
	t.bloom.Add(t.codec.Pack(key))
	return nil
}

func (t *Tree) rebuildBloom() error {
	t.bloom = bloom.NewWithEstimates(bloomDefaultCapacity, bloomFalsePositiveRate)
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return err
	}
	for leaf != nil {
		for _, k := range leaf.keys {
			t.bloom.Add(t.codec.Pack(k))
		}
		if leaf.nextLeaf < 0 {
			break
		}
		leaf, err = t.readNode(leaf.nextLeaf)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) leftmostLeaf() (*node, error) {
	cur := t.root
	for {
		n, err := t.readNode(cur)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		cur = n.children[0]
	}
}

// descend walks from the root to the leaf that must contain key, recording
// the (parent block, child index) pair taken at every internal level so
// Insert/Delete can propagate splits and underflows back up without a
// second pass.
func (t *Tree) descend(key Key) ([]pathEntry, *node, error) {
	var path []pathEntry
	cur := t.root
	for {
		n, err := t.readNode(cur)
		if err != nil {
			return nil, nil, err
		}
		if n.isLeaf {
			return path, n, nil
		}
		idx := n.findChild(t.codec, key)
		path = append(path, pathEntry{blk: cur, idx: idx})
		cur = n.children[idx]
	}
}

// Find returns the record offset stored under key.
func (t *Tree) Find(key Key) (int32, error) {
	if err := t.codec.validate(key); err != nil {
		return 0, err
	}
	if t.bloom != nil && !t.bloom.Test(t.codec.Pack(key)) {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	_, leaf, err := t.descend(key)
	if err != nil {
		return 0, err
	}
	i, ok := leaf.findSlot(t.codec, key)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return leaf.values[i], nil
}

// Insert adds (key, value), failing with ErrDuplicate if key is already
// present.
func (t *Tree) Insert(key Key, value int32) error {
	if err := t.codec.validate(key); err != nil {
		return err
	}
	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	if _, ok := leaf.findSlot(t.codec, key); ok {
		return fmt.Errorf("%w: %v", ErrDuplicate, key)
	}
	leaf.insertLeaf(t.codec, key, value)
	if err := t.bloomAdd(key); err != nil {
		return err
	}

	if !leaf.full(t.order) {
		return t.writeNode(leaf)
	}

	mid := (len(leaf.keys) + 1) / 2
	rightBlk, err := t.allocate()
	if err != nil {
		return err
	}
	right := newLeaf(rightBlk)
	right.keys = append([]Key(nil), leaf.keys[mid:]...)
	right.values = append([]int32(nil), leaf.values[mid:]...)
	right.nextLeaf = leaf.nextLeaf
	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]
	leaf.nextLeaf = right.self

	if err := t.writeNode(leaf); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	return t.propagateSplit(path, leaf.self, right.keys[0], right.self)
}

// propagateSplit inserts (sep, rightBlk) into the parent named by the
// last entry of path, splitting that parent in turn if it overflows, and
// creating a new root once path is exhausted.
func (t *Tree) propagateSplit(path []pathEntry, leftBlk int32, sep Key, rightBlk int32) error {
	if len(path) == 0 {
		newRootBlk, err := t.allocate()
		if err != nil {
			return err
		}
		root := newInternal(newRootBlk)
		root.children = []int32{leftBlk, rightBlk}
		root.keys = []Key{sep}
		if err := t.writeNode(root); err != nil {
			return err
		}
		t.root = newRootBlk
		return t.writeHeader()
	}

	last := path[len(path)-1]
	parent, err := t.readNode(last.blk)
	if err != nil {
		return err
	}
	parent.insertInternal(last.idx, sep, rightBlk)
	if !parent.full(t.order) {
		return t.writeNode(parent)
	}

	// Split point is derived from the fixed order, not the post-insert key
	// count: sp = floor(order/2)+1, separator = keys[sp-1], left keeps
	// keys[0:sp-1] and the right node gets keys[sp:]. For odd order the left
	// node ends up with floor(order/2) keys, one fewer than minKeys.
	sp := t.order/2 + 1
	mid := sp - 1
	promo := parent.keys[mid]
	rightBlk2, err := t.allocate()
	if err != nil {
		return err
	}
	rightNode := newInternal(rightBlk2)
	rightNode.keys = append([]Key(nil), parent.keys[mid+1:]...)
	rightNode.children = append([]int32(nil), parent.children[mid+1:]...)
	parent.keys = parent.keys[:mid]
	parent.children = parent.children[:mid+1]

	if err := t.writeNode(parent); err != nil {
		return err
	}
	if err := t.writeNode(rightNode); err != nil {
		return err
	}
	return t.propagateSplit(path[:len(path)-1], parent.self, promo, rightBlk2)
}

// Delete removes key, rebalancing underflowing nodes by borrowing from a
// sibling or fusing with one, all the way up to the root if necessary.
func (t *Tree) Delete(key Key) error {
	if err := t.codec.validate(key); err != nil {
		return err
	}
	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	i, ok := leaf.findSlot(t.codec, key)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	leaf.removeLeafAt(i)
	if err := t.writeNode(leaf); err != nil {
		return err
	}

	if len(path) == 0 {
		return nil // leaf is the root; no minimum occupancy to enforce
	}
	if len(leaf.keys) >= leaf.minKeys(t.order) {
		return nil
	}
	return t.handleUnderflow(path, leaf)
}

func (t *Tree) handleUnderflow(path []pathEntry, child *node) error {
	last := path[len(path)-1]
	parent, err := t.readNode(last.blk)
	if err != nil {
		return err
	}
	idx := last.idx

	if idx > 0 {
		left, err := t.readNode(parent.children[idx-1])
		if err != nil {
			return err
		}
		if len(left.keys) > left.minKeys(t.order) {
			return t.borrowFromLeft(parent, idx, left, child)
		}
	}
	if idx < len(parent.children)-1 {
		right, err := t.readNode(parent.children[idx+1])
		if err != nil {
			return err
		}
		if len(right.keys) > right.minKeys(t.order) {
			return t.borrowFromRight(parent, idx, child, right)
		}
	}
	if idx > 0 {
		left, err := t.readNode(parent.children[idx-1])
		if err != nil {
			return err
		}
		return t.fuse(path, parent, idx-1, left, child)
	}
	right, err := t.readNode(parent.children[idx+1])
	if err != nil {
		return err
	}
	return t.fuse(path, parent, idx, child, right)
}

func (t *Tree) borrowFromLeft(parent *node, idx int, left, right *node) error {
	if right.isLeaf {
		n := len(left.keys)
		movedKey, movedVal := left.keys[n-1], left.values[n-1]
		left.keys, left.values = left.keys[:n-1], left.values[:n-1]
		right.keys = append([]Key{movedKey}, right.keys...)
		right.values = append([]int32{movedVal}, right.values...)
		parent.keys[idx-1] = right.keys[0]
	} else {
		n := len(left.keys)
		movedChild := left.children[n]
		movedKey := left.keys[n-1]
		left.keys, left.children = left.keys[:n-1], left.children[:n]
		right.keys = append([]Key{parent.keys[idx-1]}, right.keys...)
		right.children = append([]int32{movedChild}, right.children...)
		parent.keys[idx-1] = movedKey
	}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	return t.writeNode(parent)
}

func (t *Tree) borrowFromRight(parent *node, idx int, left, right *node) error {
	if left.isLeaf {
		movedKey, movedVal := right.keys[0], right.values[0]
		right.keys, right.values = right.keys[1:], right.values[1:]
		left.keys = append(left.keys, movedKey)
		left.values = append(left.values, movedVal)
		parent.keys[idx] = right.keys[0]
	} else {
		movedChild := right.children[0]
		left.keys = append(left.keys, parent.keys[idx])
		left.children = append(left.children, movedChild)
		parent.keys[idx] = right.keys[0]
		right.keys, right.children = right.keys[1:], right.children[1:]
	}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	return t.writeNode(parent)
}

// fuse merges right into left (the children at leftIdx and leftIdx+1 of
// parent), frees the right block, and repairs parent, recursing upward if
// parent itself now underflows.
func (t *Tree) fuse(path []pathEntry, parent *node, leftIdx int, left, right *node) error {
	if left.isLeaf != right.isLeaf {
		return fmt.Errorf("%w: fuse of leaf block %d with internal block %d", ErrStructureBroken, left.self, right.self)
	}
	if left.isLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.nextLeaf = right.nextLeaf
	} else {
		left.keys = append(left.keys, parent.keys[leftIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	if err := t.free(right.self); err != nil {
		return err
	}
	parent.removeInternalAt(leftIdx)
	if err := t.writeNode(left); err != nil {
		return err
	}

	ancestors := path[:len(path)-1]
	if len(ancestors) == 0 {
		// parent is the root; collapse it if it lost its only key.
		if len(parent.keys) == 0 {
			t.root = left.self
			if err := t.free(parent.self); err != nil {
				return err
			}
			return t.writeHeader()
		}
		return t.writeNode(parent)
	}
	if err := t.writeNode(parent); err != nil {
		return err
	}
	if len(parent.keys) >= parent.minKeys(t.order) {
		return nil
	}
	return t.handleUnderflow(ancestors, parent)
}

// RangeEntry pairs a matched key with its stored record offset.
type RangeEntry struct {
	Key   Key
	Value int32
}

// Range returns every (key, value) pair with lo <= key <= hi in ascending
// order, walking the leaf chain from the first qualifying leaf instead of
// re-descending per key.
func (t *Tree) Range(lo, hi Key) ([]RangeEntry, error) {
	_, leaf, err := t.descend(lo)
	if err != nil {
		return nil, err
	}
	var out []RangeEntry
	for leaf != nil {
		for i, k := range leaf.keys {
			if t.codec.Compare(k, lo) < 0 {
				continue
			}
			if t.codec.Compare(k, hi) > 0 {
				return out, nil
			}
			out = append(out, RangeEntry{Key: k, Value: leaf.values[i]})
		}
		if leaf.nextLeaf < 0 {
			break
		}
		leaf, err = t.readNode(leaf.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// All returns every (key, value) pair in ascending key order.
func (t *Tree) All() ([]RangeEntry, error) {
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	var out []RangeEntry
	for leaf != nil {
		for i, k := range leaf.keys {
			out = append(out, RangeEntry{Key: k, Value: leaf.values[i]})
		}
		if leaf.nextLeaf < 0 {
			break
		}
		leaf, err = t.readNode(leaf.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close writes the header back to block 0 and detaches the index file from
// the buffer pool, flushing any dirty blocks first.
func (t *Tree) Close() error {
	if err := t.writeHeader(); err != nil {
		return err
	}
	return t.pool.Detach(t.path)
}
