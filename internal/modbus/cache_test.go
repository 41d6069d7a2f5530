package modbus

import "testing"

func TestCacheRegisterRoundTrip(t *testing.T) {
	c := NewCache()

	c.UpdateRegisters(0, KindHolding, 100, []uint16{10, 20, 30})

	v, ok := c.Register(0, KindHolding, 101)
	if !ok || v != 20 {
		t.Fatalf("Register(101) = %v, %v; want 20, true", v, ok)
	}

	if _, ok := c.Register(0, KindHolding, 200); ok {
		t.Fatalf("Register(200) should miss: no block covers it")
	}
}

func TestCacheGenerationIncrementsOnUpdate(t *testing.T) {
	c := NewCache()

	c.UpdateRegisters(0, KindInput, 0, []uint16{1})
	_, gen1, _ := c.SnapshotRegisters(0, KindInput, 0)

	c.UpdateRegisters(0, KindInput, 0, []uint16{2})
	_, gen2, _ := c.SnapshotRegisters(0, KindInput, 0)

	if gen2 <= gen1 {
		t.Fatalf("generation did not advance: %d -> %d", gen1, gen2)
	}
}

func TestCacheSnapshotIsACopy(t *testing.T) {
	c := NewCache()
	c.UpdateRegisters(0, KindHolding, 0, []uint16{5, 6})

	snap, _, _ := c.SnapshotRegisters(0, KindHolding, 0)
	snap[0] = 999

	v, _ := c.Register(0, KindHolding, 0)
	if v != 5 {
		t.Fatalf("mutating a snapshot must not affect the cache, got %d", v)
	}
}

func TestCacheBitsDistinctFromRegistersOfSameAddress(t *testing.T) {
	c := NewCache()

	c.UpdateRegisters(0, KindHolding, 0, []uint16{1})
	c.UpdateBits(0, KindCoil, 0, []bool{true})

	if _, ok := c.Bit(0, KindHolding, 0); ok {
		t.Fatalf("holding-register block must not satisfy a coil read")
	}

	bit, ok := c.Bit(0, KindCoil, 0)
	if !ok || !bit {
		t.Fatalf("Bit(0) = %v, %v; want true, true", bit, ok)
	}
}

func TestCacheScopedPerUnit(t *testing.T) {
	c := NewCache()

	c.UpdateRegisters(1, KindHolding, 0, []uint16{111})
	c.UpdateRegisters(2, KindHolding, 0, []uint16{222})

	v1, _ := c.Register(1, KindHolding, 0)
	v2, _ := c.Register(2, KindHolding, 0)

	if v1 != 111 || v2 != 222 {
		t.Fatalf("units must not share cache entries: got %d, %d", v1, v2)
	}
}
