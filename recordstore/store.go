// Package recordstore persists fixed-width tuples for one table in a
// block-aligned heap file with a free-list for O(1) amortized insert and a
// validity bit per slot, all bytes flowing through a shared buffer pool.
package recordstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flashql/storage/block"
	"github.com/flashql/storage/bufferpool"
)

var (
	// ErrExists is returned by Init when the table file already exists.
	ErrExists = errors.New("recordstore: file already exists")
	// ErrInvalidRecord is returned by Read/Update/Delete of a slot that is
	// past the high-water mark or has been freed.
	ErrInvalidRecord = errors.New("recordstore: invalid record offset")
	// ErrInvalidTuple is returned by Insert/Update when a tuple does not
	// match the schema's column count, kinds, or string widths.
	ErrInvalidTuple = errors.New("recordstore: tuple does not match schema")
)

const headerWidth = 8 // first_free_rec int32 + rec_tail int32

// Store is the per-table record file: fixed-width tuples backed by a
// free-list of reusable slots, built on the shared buffer pool.
type Store struct {
	pool      *bufferpool.Pool
	path      string
	schema    Schema
	recWidth  int
	recPerBlk int

	firstFree int32
	recTail   int32
}

// Init creates a new, empty record file at path, failing with ErrExists if
// one is already there.
func Init(pool *bufferpool.Pool, path string, schema Schema) (*Store, error) {
	if err := bufferpool.EnsureFile(path); err != nil {
		return nil, err
	}

	// EnsureFile may have just created an empty file; detect pre-existing
	// content by checking whether the header has already been written.
	b, err := pool.Get(path, 0)
	if err != nil {
		return nil, err
	}
	g := block.PinScoped(b)
	defer g.Release()

	if b.EffectiveBytes() >= headerWidth {
		return nil, fmt.Errorf("recordstore: init %s: %w", path, ErrExists)
	}

	s := &Store{
		pool:      pool,
		path:      path,
		schema:    schema,
		recWidth:  schema.RecordWidth(),
		recPerBlk: pool.BlockSize() / schema.RecordWidth(),
		firstFree: -1,
		recTail:   0,
	}
	if s.recPerBlk <= 0 {
		return nil, fmt.Errorf("recordstore: record width %d exceeds block size %d", s.recWidth, pool.BlockSize())
	}

	if err := s.writeHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open reattaches to an existing record file, reading its header.
func Open(pool *bufferpool.Pool, path string, schema Schema) (*Store, error) {
	s := &Store{
		pool:      pool,
		path:      path,
		schema:    schema,
		recWidth:  schema.RecordWidth(),
		recPerBlk: pool.BlockSize() / schema.RecordWidth(),
	}
	if s.recPerBlk <= 0 {
		return nil, fmt.Errorf("recordstore: record width %d exceeds block size %d", s.recWidth, pool.BlockSize())
	}

	b, err := pool.Get(path, 0)
	if err != nil {
		return nil, err
	}
	g := block.PinScoped(b)
	defer g.Release()

	data, err := b.Read(0)
	if err != nil {
		return nil, err
	}
	if len(data) < headerWidth {
		return nil, fmt.Errorf("recordstore: open %s: truncated header", path)
	}
	s.firstFree = int32(binary.LittleEndian.Uint32(data[0:4]))
	s.recTail = int32(binary.LittleEndian.Uint32(data[4:8]))
	return s, nil
}

func (s *Store) blockOffsetOf(recOffset int32) int64 {
	return int64(recOffset / int32(s.recPerBlk))
}

func (s *Store) localOffsetOf(recOffset int32) int {
	return int(recOffset) % s.recPerBlk
}

// slotByteRange returns the byte range of the local-offset'th slot within
// a block, accounting for the 8-byte header squatting in block 0.
func (s *Store) slotByteRange(blockOffset int64, localOffset int) (start, end int) {
	base := 0
	if blockOffset == 0 {
		base = headerWidth
	}
	start = base + localOffset*s.recWidth
	end = start + s.recWidth
	return
}

func (s *Store) writeHeader() error {
	b, err := s.pool.Get(s.path, 0)
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()

	existing, err := b.Read(0)
	if err != nil {
		return err
	}
	buf := make([]byte, max(len(existing), headerWidth))
	copy(buf, existing)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.firstFree))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.recTail))
	return b.Write(buf, false, 1)
}

func (s *Store) readSlot(recOffset int32) (Tuple, byte, int32, error) {
	blockOffset := s.blockOffsetOf(recOffset)
	local := s.localOffsetOf(recOffset)

	b, err := s.pool.Get(s.path, blockOffset)
	if err != nil {
		return nil, 0, 0, err
	}
	g := block.PinScoped(b)
	defer g.Release()

	data, err := b.Read(0)
	if err != nil {
		return nil, 0, 0, err
	}
	start, end := s.slotByteRange(blockOffset, local)
	if end > len(data) {
		return nil, 0, 0, fmt.Errorf("%w: offset %d", ErrInvalidRecord, recOffset)
	}
	t, valid, next := s.schema.unpackSlot(data[start:end])
	return t, valid, next, nil
}

func (s *Store) writeSlot(recOffset int32, raw []byte) error {
	blockOffset := s.blockOffsetOf(recOffset)
	local := s.localOffsetOf(recOffset)

	b, err := s.pool.Get(s.path, blockOffset)
	if err != nil {
		return err
	}
	g := block.PinScoped(b)
	defer g.Release()

	data, err := b.Read(0)
	if err != nil {
		return err
	}
	start, end := s.slotByteRange(blockOffset, local)

	buf := data
	if end > len(buf) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[start:end], raw)
	return b.Write(buf, false, 1)
}

// Insert appends or recycles a slot for t, returning its global record
// offset.
func (s *Store) Insert(t Tuple) (int32, error) {
	if err := s.schema.validate(t); err != nil {
		return 0, err
	}

	var offset int32
	if s.firstFree >= 0 {
		offset = s.firstFree
		_, _, next, err := s.readSlot(offset)
		if err != nil {
			return 0, err
		}
		s.firstFree = next
	} else {
		offset = s.recTail
		s.recTail++
	}

	raw := s.schema.packTuple(t, validLive, -1)
	if err := s.writeSlot(offset, raw); err != nil {
		return 0, err
	}
	if err := s.writeHeader(); err != nil {
		return 0, err
	}
	return offset, nil
}

// Delete marks the slot at recOffset as free and pushes it onto the free
// chain head.
func (s *Store) Delete(recOffset int32) error {
	t, valid, _, err := s.readSlot(recOffset)
	if err != nil {
		return err
	}
	if err := s.checkLive(recOffset, valid); err != nil {
		return err
	}

	raw := s.schema.packTuple(t, validFree, s.firstFree)
	if err := s.writeSlot(recOffset, raw); err != nil {
		return err
	}
	s.firstFree = recOffset
	return s.writeHeader()
}

// Update overwrites the tuple at recOffset in place.
func (s *Store) Update(recOffset int32, t Tuple) error {
	if err := s.schema.validate(t); err != nil {
		return err
	}
	_, valid, _, err := s.readSlot(recOffset)
	if err != nil {
		return err
	}
	if err := s.checkLive(recOffset, valid); err != nil {
		return err
	}

	raw := s.schema.packTuple(t, validLive, -1)
	return s.writeSlot(recOffset, raw)
}

// Read returns the live tuple at recOffset.
func (s *Store) Read(recOffset int32) (Tuple, error) {
	t, valid, _, err := s.readSlot(recOffset)
	if err != nil {
		return nil, err
	}
	if err := s.checkLive(recOffset, valid); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) checkLive(recOffset int32, valid byte) error {
	if recOffset < 0 || recOffset >= s.recTail || valid != validLive {
		return fmt.Errorf("%w: offset %d", ErrInvalidRecord, recOffset)
	}
	return nil
}

// ScanEntry pairs a record's offset with its decoded tuple.
type ScanEntry struct {
	Offset int32
	Tuple  Tuple
}

// Scan walks every live slot satisfying pred and returns matches in offset
// order. Each call walks the file fresh; the result is not a live cursor.
func (s *Store) Scan(pred Predicate) ([]ScanEntry, error) {
	var out []ScanEntry
	blocks := s.numBlocks()

	for blockOffset := int64(0); blockOffset < blocks; blockOffset++ {
		b, err := s.pool.Get(s.path, blockOffset)
		if err != nil {
			return nil, err
		}
		g := block.PinScoped(b)
		data, err := b.Read(0)
		if err != nil {
			g.Release()
			return nil, err
		}

		base := 0
		if blockOffset == 0 {
			base = headerWidth
		}
		for local := 0; ; local++ {
			recOffset := int32(blockOffset)*int32(s.recPerBlk) + int32(local)
			if recOffset >= s.recTail {
				break
			}
			start := base + local*s.recWidth
			end := start + s.recWidth
			if end > len(data) {
				break
			}
			t, valid, _ := s.schema.unpackSlot(data[start:end])
			if valid == validLive && (pred == nil || pred.Match(t)) {
				out = append(out, ScanEntry{Offset: recOffset, Tuple: t})
			}
		}
		g.Release()
	}
	return out, nil
}

func (s *Store) numBlocks() int64 {
	if s.recTail == 0 {
		return 1
	}
	return int64((int(s.recTail) + s.recPerBlk - 1) / s.recPerBlk)
}

// ScanDelete deletes every live slot matching pred, committing the deletes
// one at a time after the scan completes, and returns how many were removed.
func (s *Store) ScanDelete(pred Predicate) (int, error) {
	entries, err := s.Scan(pred)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := s.Delete(e.Offset); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// ScanUpdate overwrites every live slot matching pred with t, committing the
// updates one at a time after the scan completes, and returns how many were
// changed.
func (s *Store) ScanUpdate(pred Predicate, t Tuple) (int, error) {
	entries, err := s.Scan(pred)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := s.Update(e.Offset, t); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// Close detaches the store's file from the buffer pool, flushing any
// dirty blocks first.
func (s *Store) Close() error {
	return s.pool.Detach(s.path)
}
