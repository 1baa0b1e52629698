package indextree

import "errors"

var (
	// ErrDuplicate is returned by Insert when the key already exists.
	ErrDuplicate = errors.New("indextree: duplicate key")
	// ErrNotFound is returned by Find/Delete when the key is absent.
	ErrNotFound = errors.New("indextree: key not found")
	// ErrStructureBroken signals an invariant violation discovered while
	// walking the tree (e.g. a child pointer to a block that doesn't parse
	// as a node of the expected kind). It should never surface in a
	// correctly operated tree.
	ErrStructureBroken = errors.New("indextree: structure broken")
)
