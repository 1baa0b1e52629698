// Package bufferpool implements the engine's single shared cache of disk
// blocks: every RecordStore and IndexTree in a process reads and writes
// bytes exclusively through a *Pool, never touching a file directly.
//
// Rather than a process-wide singleton, Pool exposes an explicit
// constructor (Open) and is passed around by reference, so tests can run
// isolated pools side by side instead of fighting over hidden global
// state.
package bufferpool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/flashql/storage/block"
)

// DefaultCapacity is the number of blocks cached when none is configured.
const DefaultCapacity = 1024

// ErrAllPinned is returned when every cached block is pinned and a miss
// would require evicting one to make room.
var ErrAllPinned = errors.New("bufferpool: all blocks pinned")

type frameKey struct {
	path  string
	index int64
}

// frame pairs a cached block with its slot in the dirty bitset, so the
// bitset stays in lockstep with map membership without a second map.
type frame struct {
	b   *block.Block
	slot uint
}

// Pool is a fixed-capacity, LRU-evicting cache of blocks, keyed by
// (absolute file path, block index). BlockSize is fixed for the pool's
// lifetime; Capacity bounds how many blocks may be resident at once.
type Pool struct {
	mu sync.Mutex

	blockSize int
	capacity  int
	tick      uint64

	frames   map[frameKey]*frame
	bySlot   map[uint]*frame // reverse index so dirty-bit scans skip frames, not just skip I/O
	dirty    *bitset.BitSet  // indexed by slot; mirrors frame.b.Dirty()
	freeSlot []uint          // recycled slot numbers from evicted frames
	nextSlot uint
}

// Open constructs an empty pool. blockSize and capacity fall back to their
// package defaults when zero.
func Open(capacity, blockSize int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if blockSize <= 0 {
		blockSize = block.DefaultSize
	}
	return &Pool{
		blockSize: blockSize,
		capacity:  capacity,
		frames:    make(map[frameKey]*frame, capacity),
		bySlot:    make(map[uint]*frame, capacity),
		dirty:     bitset.New(uint(capacity)),
	}
}

// BlockSize reports the fixed block size used by this pool.
func (p *Pool) BlockSize() int { return p.blockSize }

// Capacity reports the maximum number of resident blocks.
func (p *Pool) Capacity() int { return p.capacity }

// Len reports the number of blocks currently cached.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func absPath(path string) (string, error) {
	return filepath.Abs(path)
}

// Get returns the cached block for (path, index), loading it from disk on
// a miss and evicting the least-recently-used unpinned block if the pool
// is at capacity. Fails with ErrAllPinned if every resident block is
// pinned and eviction is required.
func (p *Pool) Get(path string, index int64) (*block.Block, error) {
	abs, err := absPath(path)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: resolve %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := frameKey{abs, index}
	p.tick++

	if fr, ok := p.frames[key]; ok {
		fr.b.Touch(p.tick)
		return fr.b, nil
	}

	if len(p.frames) >= p.capacity {
		if err := p.evictLocked(); err != nil {
			return nil, err
		}
	}

	b, err := block.New(abs, index, p.blockSize)
	if err != nil {
		return nil, err
	}
	b.Touch(p.tick)

	p.insertLocked(key, b)
	return b, nil
}

func (p *Pool) insertLocked(key frameKey, b *block.Block) {
	var slot uint
	if n := len(p.freeSlot); n > 0 {
		slot = p.freeSlot[n-1]
		p.freeSlot = p.freeSlot[:n-1]
	} else {
		slot = p.nextSlot
		p.nextSlot++
	}
	fr := &frame{b: b, slot: slot}
	p.frames[key] = fr
	p.bySlot[slot] = fr
	p.dirty.Clear(slot)
}

// evictLocked selects the unpinned resident block with the smallest
// last-used tick, flushes it, and drops it from the cache. Must be called
// with mu held.
func (p *Pool) evictLocked() error {
	var victimKey frameKey
	var victim *frame
	found := false

	for key, fr := range p.frames {
		if fr.b.PinCount() != 0 {
			continue
		}
		if !found || fr.b.LastUsed() < victim.b.LastUsed() {
			victimKey = key
			victim = fr
			found = true
		}
	}

	if !found {
		return ErrAllPinned
	}

	p.syncDirtyBit(victim)
	if p.dirty.Test(victim.slot) {
		if err := victim.b.Flush(); err != nil {
			return fmt.Errorf("bufferpool: evict flush: %w", err)
		}
	}
	victim.b.Detach()

	delete(p.frames, victimKey)
	delete(p.bySlot, victim.slot)
	p.dirty.Clear(victim.slot)
	p.freeSlot = append(p.freeSlot, victim.slot)
	return nil
}

// syncDirtyBit mirrors one frame's own Block.Dirty() flag into its bitset
// slot. Blocks report their own dirty state; we re-derive the bit from that
// rather than threading write notifications through Block, keeping Block
// itself pool-agnostic.
func (p *Pool) syncDirtyBit(fr *frame) {
	if fr.b.Dirty() {
		p.dirty.Set(fr.slot)
	} else {
		p.dirty.Clear(fr.slot)
	}
}

func (p *Pool) syncAllDirtyLocked() {
	for _, fr := range p.frames {
		p.syncDirtyBit(fr)
	}
}

// FlushAll flushes every cached block that has unwritten data. After
// syncing the bitset from each block's own dirty flag, the flush pass
// itself walks only the set bits via bySlot, never re-ranging p.frames.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.syncAllDirtyLocked()

	for slot, ok := p.dirty.NextSet(0); ok; slot, ok = p.dirty.NextSet(slot + 1) {
		fr, present := p.bySlot[slot]
		if !present {
			continue
		}
		if err := fr.b.Flush(); err != nil {
			return fmt.Errorf("bufferpool: flush slot %d: %w", slot, err)
		}
		p.dirty.Clear(slot)
	}
	return nil
}

// Detach flushes and drops every cached block belonging to path, e.g. when
// a table or index file is being dropped. Finding the path's frames still
// requires ranging p.frames (the bitset is slot-indexed, not path-indexed),
// but whether each one needs an I/O flush is decided by its dirty bit
// rather than an unconditional Block.Flush call.
func (p *Pool) Detach(path string) error {
	abs, err := absPath(path)
	if err != nil {
		return fmt.Errorf("bufferpool: resolve %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, fr := range p.frames {
		if key.path != abs {
			continue
		}
		p.syncDirtyBit(fr)
		if p.dirty.Test(fr.slot) {
			if err := fr.b.Flush(); err != nil {
				return fmt.Errorf("bufferpool: detach flush %s#%d: %w", key.path, key.index, err)
			}
			p.dirty.Clear(fr.slot)
		}
		fr.b.Detach()
		delete(p.frames, key)
		delete(p.bySlot, fr.slot)
		p.freeSlot = append(p.freeSlot, fr.slot)
	}
	return nil
}

// EnsureFile creates path if it does not already exist, so that the first
// Get against it does not fail with a missing-file error.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Shutdown flushes every resident block and drops it from the cache,
// returning the pool to its freshly-opened state.
func (p *Pool) Shutdown() error {
	if err := p.FlushAll(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fr := range p.frames {
		fr.b.Detach()
	}
	p.frames = make(map[frameKey]*frame, p.capacity)
	p.bySlot = make(map[uint]*frame, p.capacity)
	p.dirty = bitset.New(uint(p.capacity))
	p.freeSlot = nil
	p.nextSlot = 0
	return nil
}
