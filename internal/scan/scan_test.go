package scan

import (
	"testing"

	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/modbus"
	"github.com/unipi-control/unipi-controld/internal/registry"
)

func fakeTransport(holding map[uint16][]uint16) *Transport {
	return &Transport{
		ReadHolding: func(unit uint8, start, count uint16) ([]uint16, error) {
			return holding[start], nil
		},
		ReadInput:          func(unit uint8, start, count uint16) ([]uint16, error) { return nil, nil },
		ReadCoils:          func(unit uint8, start, count uint16) ([]bool, error) { return nil, nil },
		ReadDiscreteInputs: func(unit uint8, start, count uint16) ([]bool, error) { return nil, nil },
		Dispatch:           func(cmd modbus.Command) error { return nil },
		State:              func() modbus.State { return modbus.StateHealthy },
	}
}

func TestTickEmitsChangeOnFirstRead(t *testing.T) {
	def := &config.HardwareDefinition{Features: []config.FeatureDef{
		{Kind: config.KindAnalogInput, Circuit: "3_01", Register: 0, Words: 1},
	}}
	reg, err := registry.Build("t1", 0, def, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f, _ := reg.Get("ai_3_01")

	cache := modbus.NewCache()
	queue := modbus.NewQueue()
	events := make(chan FeatureChanged, 4)

	transport := fakeTransport(map[uint16][]uint16{0: {42}})
	blocks := []Block{{Unit: 0, Kind: modbus.KindHolding, Start: 0, Count: 1}}

	loop := NewLoop(zap.NewNop(), transport, cache, queue, blocks, []*registry.Feature{f}, events)
	loop.tick()

	select {
	case ev := <-events:
		if ev.FeatureID != "ai_3_01" || ev.HadOld {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.New.Float != 42 {
			t.Fatalf("New.Float = %v, want 42", ev.New.Float)
		}
	default:
		t.Fatalf("expected a FeatureChanged event on first read")
	}
}

func TestTickSkipsDecodeWhenBlockUnchanged(t *testing.T) {
	def := &config.HardwareDefinition{Features: []config.FeatureDef{
		{Kind: config.KindAnalogInput, Circuit: "3_01", Register: 0, Words: 1},
	}}
	reg, _ := registry.Build("t1", 0, def, nil)
	f, _ := reg.Get("ai_3_01")

	cache := modbus.NewCache()
	queue := modbus.NewQueue()
	events := make(chan FeatureChanged, 4)

	transport := fakeTransport(map[uint16][]uint16{0: {7}})
	blocks := []Block{{Unit: 0, Kind: modbus.KindHolding, Start: 0, Count: 1}}

	loop := NewLoop(zap.NewNop(), transport, cache, queue, blocks, []*registry.Feature{f}, events)
	loop.tick() // first read: always "changed"
	<-events

	loop.tick() // second read: identical value, no new event
	select {
	case ev := <-events:
		t.Fatalf("unexpected event on unchanged block: %+v", ev)
	default:
	}
}

func TestTickInterleavesQueuedWriteEveryFourReads(t *testing.T) {
	def := &config.HardwareDefinition{}
	_ = def

	cache := modbus.NewCache()
	queue := modbus.NewQueue()
	events := make(chan FeatureChanged, 4)

	var dispatched int
	transport := fakeTransport(map[uint16][]uint16{0: {1}})
	transport.Dispatch = func(cmd modbus.Command) error {
		dispatched++
		return nil
	}

	blocks := []Block{{Unit: 0, Kind: modbus.KindHolding, Start: 0, Count: 1}}
	loop := NewLoop(zap.NewNop(), transport, cache, queue, blocks, nil, events)

	queue.Submit(modbus.Command{Unit: 0, Address: 5, Kind: modbus.CommandWriteRegister, RegValue: 1})

	for i := 0; i < modbus.ScanFairnessBurst; i++ {
		loop.tick()
	}

	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1 after %d reads", dispatched, modbus.ScanFairnessBurst)
	}
}
