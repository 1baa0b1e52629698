package indextree

import (
	"encoding/binary"
)

const nodeHeaderWidth = 1 + 4 + 4 // isLeaf + numKeys + nextLeaf

// node is the decoded, in-memory form of one B+-tree block. Internal nodes
// carry numKeys keys and numKeys+1 children; leaves carry numKeys keys and
// numKeys values (record offsets) plus a right-sibling link for range scans.
type node struct {
	self     int32
	isLeaf   bool
	keys     []Key
	children []int32 // len == len(keys)+1, internal only
	values   []int32 // len == len(keys), leaf only
	nextLeaf int32   // leaf only, -1 if rightmost
}

// capacity returns the maximum number of keys a node may hold under codec,
// given a block of size blockSize. One extra child pointer (the leftmost)
// is accounted for so internal and leaf nodes share one fixed slot layout.
func capacity(codec KeyCodec, blockSize int) int {
	entry := codec.Size() + 4
	avail := blockSize - nodeHeaderWidth - 4
	if avail < entry {
		return 0
	}
	return avail / entry
}

func newLeaf(self int32) *node {
	return &node{self: self, isLeaf: true, nextLeaf: -1}
}

func newInternal(self int32) *node {
	return &node{self: self, isLeaf: false}
}

func (n *node) full(order int) bool { return len(n.keys) > order }

// minKeys is the ceil(order/2) occupancy floor every non-root node must
// keep after a delete.
func (n *node) minKeys(order int) int { return (order + 1) / 2 }

// encode packs n into a full block-sized buffer.
func (n *node) encode(codec KeyCodec, blockSize int) []byte {
	buf := make([]byte, blockSize)
	if n.isLeaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(n.keys)))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(n.nextLeaf))

	keySize := codec.Size()
	off := nodeHeaderWidth
	if n.isLeaf {
		for i, k := range n.keys {
			copy(buf[off:off+keySize], codec.Pack(k))
			off += keySize
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.values[i]))
			off += 4
		}
	} else {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.children[0]))
		off += 4
		for i, k := range n.keys {
			copy(buf[off:off+keySize], codec.Pack(k))
			off += keySize
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.children[i+1]))
			off += 4
		}
	}
	return buf
}

// decodeNode unpacks a block's bytes into a node value.
func decodeNode(self int32, data []byte, codec KeyCodec) *node {
	isLeaf := data[0] == 1
	numKeys := int(binary.LittleEndian.Uint32(data[1:5]))
	nextLeaf := int32(binary.LittleEndian.Uint32(data[5:9]))

	n := &node{self: self, isLeaf: isLeaf, nextLeaf: nextLeaf}
	keySize := codec.Size()
	off := nodeHeaderWidth

	if isLeaf {
		n.keys = make([]Key, numKeys)
		n.values = make([]int32, numKeys)
		for i := 0; i < numKeys; i++ {
			n.keys[i] = codec.Unpack(data[off : off+keySize])
			off += keySize
			n.values[i] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
	} else {
		n.keys = make([]Key, numKeys)
		n.children = make([]int32, numKeys+1)
		n.children[0] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		for i := 0; i < numKeys; i++ {
			n.keys[i] = codec.Unpack(data[off : off+keySize])
			off += keySize
			n.children[i+1] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
	}
	return n
}

// findChild returns the index of the child that must contain key.
func (n *node) findChild(codec KeyCodec, key Key) int {
	i := 0
	for i < len(n.keys) && codec.Compare(key, n.keys[i]) >= 0 {
		i++
	}
	return i
}

// findSlot returns the insertion point for key among a leaf's sorted keys,
// and whether key is already present there.
func (n *node) findSlot(codec KeyCodec, key Key) (int, bool) {
	i := 0
	for i < len(n.keys) {
		c := codec.Compare(key, n.keys[i])
		if c == 0 {
			return i, true
		}
		if c < 0 {
			break
		}
		i++
	}
	return i, false
}

// insertLeaf inserts (key, value) into a leaf node's sorted slots.
func (n *node) insertLeaf(codec KeyCodec, key Key, value int32) {
	i, _ := n.findSlot(codec, key)
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key

	n.values = append(n.values, 0)
	copy(n.values[i+1:], n.values[i:])
	n.values[i] = value
}

// insertInternal inserts key with its right child at the position dictated
// by childIdx (the index of the left child that just split).
func (n *node) insertInternal(childIdx int, key Key, rightChild int32) {
	n.keys = append(n.keys, nil)
	copy(n.keys[childIdx+1:], n.keys[childIdx:])
	n.keys[childIdx] = key

	n.children = append(n.children, 0)
	copy(n.children[childIdx+2:], n.children[childIdx+1:])
	n.children[childIdx+1] = rightChild
}

func (n *node) removeLeafAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
}

func (n *node) removeInternalAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}
