package modbus

import (
	"sync"
	"sync/atomic"
)

// BlockKind distinguishes the four Modbus data spaces so addresses from
// different function codes never collide in the cache (spec.md §4.B).
type BlockKind int

const (
	KindHolding BlockKind = iota
	KindInput
	KindCoil
	KindDiscrete
)

type blockKey struct {
	unit  uint8
	kind  BlockKind
	start uint16
}

// registerBlock is one scanned block's last-known values plus a
// generation counter so SnapshotRegisters/SnapshotBits callers can tell whether a block changed
// since they last read it without diffing the slice themselves.
type registerBlock struct {
	generation uint64
	regs       []uint16
	bits       []bool
}

// snapshot is the cache's entire state at one instant. Every write builds
// a new snapshot rather than mutating this one, so a reader holding a
// snapshot never observes a partial update.
type snapshot map[blockKey]registerBlock

// Cache holds the most recently scanned value of every register/coil
// address on every unit behind every transport. It is read far more often
// than written (every feature decode vs. one write per scanned block), so
// reads take no lock at all: the current snapshot lives in an atomic.Value
// and Load returns it directly (spec.md §4.B, "readers never block
// writers"). Writers serialize on wmu only against each other, to make
// their copy/modify/store sequence atomic; they never contend with a
// reader.
type Cache struct {
	v   atomic.Value // snapshot
	wmu sync.Mutex
}

// NewCache builds an empty register cache.
func NewCache() *Cache {
	c := &Cache{}
	c.v.Store(snapshot{})
	return c
}

func (c *Cache) load() snapshot {
	return c.v.Load().(snapshot)
}

// withUpdatedBlock publishes a new snapshot with one block replaced,
// built from its previous value. Caller must hold wmu.
func (c *Cache) withUpdatedBlock(key blockKey, build func(prev registerBlock) registerBlock) {
	cur := c.load()

	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key] = build(cur[key])

	c.v.Store(next)
}

// UpdateRegisters replaces the cached values for one holding/input block
// after a successful scan read, bumping its generation counter.
func (c *Cache) UpdateRegisters(unit uint8, kind BlockKind, start uint16, values []uint16) {
	key := blockKey{unit: unit, kind: kind, start: start}

	cp := make([]uint16, len(values))
	copy(cp, values)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.withUpdatedBlock(key, func(prev registerBlock) registerBlock {
		return registerBlock{generation: prev.generation + 1, regs: cp}
	})
}

// UpdateBits replaces the cached values for one coil/discrete-input block.
func (c *Cache) UpdateBits(unit uint8, kind BlockKind, start uint16, values []bool) {
	key := blockKey{unit: unit, kind: kind, start: start}

	cp := make([]bool, len(values))
	copy(cp, values)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.withUpdatedBlock(key, func(prev registerBlock) registerBlock {
		return registerBlock{generation: prev.generation + 1, bits: cp}
	})
}

// SnapshotRegisters returns a copy of the last scanned values for a
// holding/input block and the generation they were captured at. ok is
// false if the block has never been scanned.
func (c *Cache) SnapshotRegisters(unit uint8, kind BlockKind, start uint16) (values []uint16, generation uint64, ok bool) {
	key := blockKey{unit: unit, kind: kind, start: start}

	b, exists := c.load()[key]
	if !exists || b.regs == nil {
		return nil, 0, false
	}

	cp := make([]uint16, len(b.regs))
	copy(cp, b.regs)
	return cp, b.generation, true
}

// SnapshotBits returns a copy of the last scanned values for a
// coil/discrete-input block and the generation they were captured at.
func (c *Cache) SnapshotBits(unit uint8, kind BlockKind, start uint16) (values []bool, generation uint64, ok bool) {
	key := blockKey{unit: unit, kind: kind, start: start}

	b, exists := c.load()[key]
	if !exists || b.bits == nil {
		return nil, 0, false
	}

	cp := make([]bool, len(b.bits))
	copy(cp, b.bits)
	return cp, b.generation, true
}

// Register returns one holding/input register value by absolute address,
// resolving which scanned block covers it. ok is false if address is
// outside of any cached block of that kind for the given unit.
func (c *Cache) Register(unit uint8, kind BlockKind, address uint16) (uint16, bool) {
	for key, b := range c.load() {
		if key.unit != unit || key.kind != kind || b.regs == nil {
			continue
		}
		if address >= key.start && int(address-key.start) < len(b.regs) {
			return b.regs[address-key.start], true
		}
	}
	return 0, false
}

// Bit returns one coil/discrete-input value by absolute address.
func (c *Cache) Bit(unit uint8, kind BlockKind, address uint16) (bool, bool) {
	for key, b := range c.load() {
		if key.unit != unit || key.kind != kind || b.bits == nil {
			continue
		}
		if address >= key.start && int(address-key.start) < len(b.bits) {
			return b.bits[address-key.start], true
		}
	}
	return false, false
}
