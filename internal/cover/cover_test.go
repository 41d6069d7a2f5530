package cover

import (
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeRelay struct {
	energized bool
	hasValue  bool
	writes    []bool
	writeErr  error
}

func (f *fakeRelay) Read() (bool, bool) { return f.energized, f.hasValue }

func (f *fakeRelay) Write(energized bool) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.energized = energized
	f.hasValue = true
	f.writes = append(f.writes, energized)
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeRelay, *fakeRelay, *fakeClock) {
	t.Helper()

	cfg.TmpDir = t.TempDir()

	up := &fakeRelay{hasValue: true}
	down := &fakeRelay{hasValue: true}

	c, err := New(zap.NewNop(), cfg, up, down)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clock := &fakeClock{now: time.Now()}
	c.clock = clock
	c.lastTick = clock.now

	return c, up, down, clock
}

func TestNewWithNoPersistedStateEntersCalibration(t *testing.T) {
	c, _, _, _ := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30})

	if !c.Calibrating() {
		t.Fatalf("expected calibration mode with no persisted state")
	}
}

func TestOpenFromClosedReachesOpenAfterCoverRunTime(t *testing.T) {
	c, up, down, clock := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30})
	// Acknowledge calibration so we test the plain open/close path.
	c.calibration = false
	c.state = StateClosed

	if err := c.Handle(CommandOpen); err != nil {
		t.Fatalf("Handle(Open): %v", err)
	}

	if !up.energized {
		t.Fatalf("expected up relay energized immediately")
	}
	if down.energized {
		t.Fatalf("down relay must never be energized while opening")
	}

	// Advance in 1s steps for 30s; position should reach 100 and stop.
	for i := 0; i < 31; i++ {
		c.Tick(clock.advance(time.Second))
	}

	if got := c.Position(); got != 100 {
		t.Fatalf("Position() = %d, want 100", got)
	}
	if c.State() != StateOpen {
		t.Fatalf("State() = %v, want Open", c.State())
	}
	if up.energized {
		t.Fatalf("up relay should de-energize once fully open")
	}
}

func TestReversalEnforcesDeadTime(t *testing.T) {
	c, up, down, clock := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30})
	c.calibration = false
	c.state = StateClosed

	_ = c.Handle(CommandOpen)
	for i := 0; i < 10; i++ {
		c.Tick(clock.advance(time.Second))
	}

	if err := c.Handle(CommandClose); err != nil {
		t.Fatalf("Handle(Close): %v", err)
	}

	// Both relays must be off immediately after the reversal request.
	if up.energized || down.energized {
		t.Fatalf("unexpected relay state: up=%v down=%v", up.energized, down.energized)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected Stopped during dead time, got %v", c.State())
	}

	// Before 500ms elapses, down must still be off.
	c.Tick(clock.advance(200 * time.Millisecond))
	if down.energized {
		t.Fatalf("down relay energized before dead time elapsed")
	}

	c.Tick(clock.advance(400 * time.Millisecond))
	if !down.energized {
		t.Fatalf("down relay should energize once dead time has elapsed")
	}
	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want Closing", c.State())
	}
}

func TestSetPositionStopsAtTarget(t *testing.T) {
	c, _, down, clock := newTestController(t, Config{ID: "c1", DeviceClass: "garage_door", CoverRunTime: 30})
	c.calibration = false
	c.state = StateOpen
	c.position = 100

	if err := c.SetPosition(40); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if !down.energized {
		t.Fatalf("expected down relay energized while closing toward 40")
	}

	for i := 0; i < 40; i++ {
		c.Tick(clock.advance(500 * time.Millisecond))
	}

	if got := c.Position(); got != 40 {
		t.Fatalf("Position() = %d, want 40", got)
	}
	if c.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped", c.State())
	}
	if down.energized {
		t.Fatalf("down relay should de-energize at target")
	}
}

func TestSetPositionNoopWhenAlreadyAtTarget(t *testing.T) {
	c, up, down, _ := newTestController(t, Config{ID: "c1", DeviceClass: "blind", CoverRunTime: 30})
	c.calibration = false
	c.state = StateOpen
	c.position = 100

	if err := c.SetPosition(100); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if up.energized || down.energized {
		t.Fatalf("no-op SetPosition must not energize a relay")
	}
}

func TestStopDeenergizesAndPersists(t *testing.T) {
	c, up, _, clock := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30})
	c.calibration = false
	c.state = StateClosed

	_ = c.Handle(CommandOpen)
	c.Tick(clock.advance(5 * time.Second))

	if err := c.Handle(CommandStop); err != nil {
		t.Fatalf("Handle(Stop): %v", err)
	}

	if up.energized {
		t.Fatalf("relay should be off after Stop")
	}
	if c.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped", c.State())
	}

	raw, err := os.ReadFile(positionFilePath(c.cfg.TmpDir, "c1"))
	if err != nil {
		t.Fatalf("expected position file to exist after Stop: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("position file is empty")
	}
}

func TestBlindOpenSwingsTiltBeforePosition(t *testing.T) {
	c, up, _, clock := newTestController(t, Config{ID: "c1", DeviceClass: "blind", CoverRunTime: 30, TiltChangeTime: 1.5})
	c.calibration = false
	c.state = StateClosed
	c.tilt = 0
	c.position = 0

	_ = c.Handle(CommandOpen)
	if !up.energized {
		t.Fatalf("expected up relay energized")
	}

	// Tilt should reach 100 well before position moves meaningfully.
	c.Tick(clock.advance(1500 * time.Millisecond))
	if c.Tilt() != 100 {
		t.Fatalf("Tilt() = %d, want 100 after tilt_change_time elapses", c.Tilt())
	}
	if c.Position() != 0 {
		t.Fatalf("Position() = %d, want 0 while still swinging tilt", c.Position())
	}
}

func TestWriteFailureWhileEnergizingStopsAndClearsRelays(t *testing.T) {
	c, up, _, _ := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30})
	c.calibration = false
	c.state = StateClosed
	up.writeErr = errors.New("transport write failed")

	if err := c.Handle(CommandOpen); err == nil {
		t.Fatalf("Handle(Open) = nil, want the relay write error")
	}

	if c.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped after a failed energize", c.State())
	}
	if up.energized {
		t.Fatalf("up relay must not be left energized after a failed write")
	}
}

func TestPersistentTmpDirDisablesCalibrationOnMissingFile(t *testing.T) {
	c, _, _, _ := newTestController(t, Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30, PersistentTmpDir: true})

	if c.Calibrating() {
		t.Fatalf("persistent_tmp_dir must disable calibration even with no persisted state")
	}
}

func TestPersistentTmpDirDisablesCalibrationOnMidMotionState(t *testing.T) {
	tmp := t.TempDir()

	up := &fakeRelay{hasValue: true}
	down := &fakeRelay{hasValue: true}

	cfg := Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30, TmpDir: tmp}
	c, err := New(zap.NewNop(), cfg, up, down)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.calibration = false
	c.state = StateClosing
	c.position = 62
	c.persist()

	cfg.PersistentTmpDir = true
	c2, err := New(zap.NewNop(), cfg, up, down)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}

	if c2.Calibrating() {
		t.Fatalf("persistent_tmp_dir must disable calibration even after a mid-motion shutdown")
	}
	if got := c2.Position(); got != 62 {
		t.Fatalf("Position() = %d, want 62", got)
	}
	if c2.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped", c2.State())
	}
}

func TestPersistenceRoundTripAvoidsCalibration(t *testing.T) {
	tmp := t.TempDir()

	up := &fakeRelay{hasValue: true}
	down := &fakeRelay{hasValue: true}

	cfg := Config{ID: "c1", DeviceClass: "roller_shutter", CoverRunTime: 30, TmpDir: tmp}
	c, err := New(zap.NewNop(), cfg, up, down)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.calibration = false
	c.state = StateOpen
	c.position = 73
	c.persist()

	c2, err := New(zap.NewNop(), cfg, up, down)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}

	if c2.Calibrating() {
		t.Fatalf("reloading a resting persisted state must not enter calibration")
	}
	if got := c2.Position(); got != 73 {
		t.Fatalf("Position() = %d, want 73", got)
	}
}
