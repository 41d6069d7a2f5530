// Package scan implements the Scan Loop (spec.md §4.D): one task per
// Modbus unit (the daemon builds one Loop for each unit configured on a
// transport; loops on the same transport share its connection and Command
// Queue) that reads every readable register block, feeds the
// Register Cache, decodes feature-level diffs into change events, and
// interleaves pending writes from the Command Queue fairly with reads.
package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/modbus"
	"github.com/unipi-control/unipi-controld/internal/registry"
)

// FeatureChanged is emitted whenever a decoded feature value differs from
// its previously decoded value (or had none yet), per spec.md §4.D step 3.
type FeatureChanged struct {
	FeatureID string
	Old       registry.FeatureValue
	HadOld    bool
	New       registry.FeatureValue
}

// Block is one readable register range to scan on a unit, grouped by the
// cache kind it belongs to.
type Block struct {
	Unit  uint8
	Kind  modbus.BlockKind
	Start uint16
	Count uint16
}

// Loop drives one transport: reads its blocks on an interval, updates the
// cache, decodes changed features, and interleaves queued writes.
type Loop struct {
	log       *zap.Logger
	transport *Transport
	cache     *modbus.Cache
	queue     *modbus.Queue
	blocks    []Block
	features  []*registry.Feature

	events chan<- FeatureChanged

	interval time.Duration

	lastValues map[string]registry.FeatureValue
	hadValue   map[string]bool

	readsSinceWrite int
	droppedEvents   uint64
}

// Transport is the subset of modbus.Transport the scan loop needs; kept
// narrow so tests can substitute a fake.
type Transport struct {
	ReadHolding        func(unit uint8, start, count uint16) ([]uint16, error)
	ReadInput          func(unit uint8, start, count uint16) ([]uint16, error)
	ReadCoils          func(unit uint8, start, count uint16) ([]bool, error)
	ReadDiscreteInputs func(unit uint8, start, count uint16) ([]bool, error)
	// Dispatch applies one popped command and resolves its completion
	// handle; set to modbus.Dispatcher bound to the real transport in
	// FromModbusTransport so Handle.Wait() callers still get notified.
	Dispatch func(cmd modbus.Command) error
	State    func() modbus.State
}

// FromModbusTransport adapts a concrete *modbus.Transport to the Transport
// function-set the scan loop calls through.
func FromModbusTransport(t *modbus.Transport) *Transport {
	return &Transport{
		ReadHolding:        t.ReadHolding,
		ReadInput:          t.ReadInput,
		ReadCoils:          t.ReadCoils,
		ReadDiscreteInputs: t.ReadDiscreteInputs,
		Dispatch:           func(cmd modbus.Command) error { return modbus.Dispatcher(t, cmd) },
		State:              t.State,
	}
}

// DefaultInterval is the healthy scan interval (spec.md §4.A, §4.D). The
// Command Queue's timeout is defined relative to it (3x, spec.md §7
// CommandTimeout).
const DefaultInterval = 200 * time.Millisecond

// NewLoop builds a scan loop over one transport's blocks and features.
// events must have spare capacity; a full channel causes the oldest
// pending event for the same feature to be dropped (spec.md §4.D).
func NewLoop(log *zap.Logger, transport *Transport, cache *modbus.Cache, queue *modbus.Queue, blocks []Block, features []*registry.Feature, events chan<- FeatureChanged) *Loop {
	return &Loop{
		log:        log,
		transport:  transport,
		cache:      cache,
		queue:      queue,
		blocks:     blocks,
		features:   features,
		events:     events,
		interval:   DefaultInterval,
		lastValues: make(map[string]registry.FeatureValue),
		hadValue:   make(map[string]bool),
	}
}

// Run loops until ctx is cancelled. It owns pacing: the healthy interval
// is DefaultInterval (200ms) for every transport, serial ones included,
// with no per-loop override, degrading to 5s when the transport reports
// degraded (spec.md §4.A, §4.D).
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick()

			next := l.interval
			if l.transport.State() == modbus.StateDegraded {
				next = 5 * time.Second
			}
			ticker.Reset(next)
		}
	}
}

func (l *Loop) tick() {
	for _, b := range l.blocks {
		changed := l.readBlock(b)
		if changed {
			l.decodeChangedFeatures(b)
		}

		l.readsSinceWrite++
		if l.readsSinceWrite >= modbus.ScanFairnessBurst || l.queue.HasOverdue(time.Now()) {
			l.drainOneCommand()
			l.readsSinceWrite = 0
		}
	}
}

// readBlock reads one block, feeds the cache, and reports whether its raw
// bytes changed since the last read — a cheap memcmp pre-filter before
// paying for feature-level decode (spec.md §4.D step 2). Only register
// blocks are compared; a successful coil or discrete-input read always
// reports a change.
func (l *Loop) readBlock(b Block) (changed bool) {
	switch b.Kind {
	case modbus.KindHolding, modbus.KindInput:
		var vals []uint16
		var err error
		if b.Kind == modbus.KindHolding {
			vals, err = l.transport.ReadHolding(b.Unit, b.Start, b.Count)
		} else {
			vals, err = l.transport.ReadInput(b.Unit, b.Start, b.Count)
		}
		if err != nil {
			return false
		}
		prev, _, existed := l.cache.SnapshotRegisters(b.Unit, b.Kind, b.Start)
		l.cache.UpdateRegisters(b.Unit, b.Kind, b.Start, vals)
		return !existed || !equalUint16(prev, vals)
	case modbus.KindCoil:
		vals, err := l.transport.ReadCoils(b.Unit, b.Start, b.Count)
		if err != nil {
			return false
		}
		l.cache.UpdateBits(b.Unit, b.Kind, b.Start, vals)
		return true
	case modbus.KindDiscrete:
		vals, err := l.transport.ReadDiscreteInputs(b.Unit, b.Start, b.Count)
		if err != nil {
			return false
		}
		l.cache.UpdateBits(b.Unit, b.Kind, b.Start, vals)
		return true
	}
	return false
}

// decodeChangedFeatures re-decodes every feature and emits an event for
// any whose value differs from what was last published (spec.md §4.D
// step 3). Block-level change detection above is a coarse pre-filter;
// the authoritative diff is always the decoded feature value.
func (l *Loop) decodeChangedFeatures(_ Block) {
	for _, f := range l.features {
		v, ok := registry.Decode(f, l.cache)
		if !ok {
			continue
		}

		prev, hadPrev := l.lastValues[f.ID]
		if hadPrev && prev.Equal(v) {
			continue
		}

		l.lastValues[f.ID] = v
		l.hadValue[f.ID] = true

		l.emit(FeatureChanged{FeatureID: f.ID, Old: prev, HadOld: hadPrev, New: v})
	}
}

// emit sends a change event, dropping the oldest queued event for the
// same feature under backpressure rather than blocking (spec.md §4.D).
func (l *Loop) emit(ev FeatureChanged) {
	select {
	case l.events <- ev:
	default:
		l.droppedEvents++
		l.log.Warn("dropping feature change event under backpressure",
			zap.String("feature_id", ev.FeatureID), zap.Uint64("dropped_total", l.droppedEvents))
		// Best effort: try once more non-blockingly now that logging gave
		// the consumer a scheduling point; still never block the scan loop.
		select {
		case l.events <- ev:
		default:
		}
	}
}

// drainOneCommand pops and applies the oldest queued write, the
// fairness interleave from spec.md §4.D step 4.
func (l *Loop) drainOneCommand() {
	cmd, ok := l.queue.Pop()
	if !ok {
		return
	}

	if err := l.transport.Dispatch(cmd); err != nil {
		l.log.Warn("queued write failed", zap.Uint16("address", cmd.Address), zap.Error(err))
	}
}

func equalUint16(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
