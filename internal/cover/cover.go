package cover

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RelayPort is the narrow interface the Cover Controller needs from a
// single UP or DOWN relay feature: read its last-scanned energized state,
// and submit a write for a new one. Concrete implementations wrap a
// registry.Feature plus the owning transport's modbus.Cache/Queue.
type RelayPort interface {
	Read() (energized bool, ok bool)
	Write(energized bool) error
}

// Clock is injected so tests can drive the controller without real sleeps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config is the static, immutable-after-construction configuration of one
// cover (spec.md §3 Cover entity).
type Config struct {
	ID             string
	DeviceClass    string
	CoverRunTime   float64 // seconds, full travel 0..100
	TiltChangeTime float64 // seconds, full tilt swing; blinds only
	TmpDir         string

	// PersistentTmpDir mirrors config.AdvancedConfig.PersistentTmpDir: when
	// true, TmpDir survives reboots, so a missing or mid-motion position
	// file no longer implies an unclean shutdown and calibration mode is
	// disabled entirely (spec.md §6).
	PersistentTmpDir bool
}

type phase int

const (
	phaseIdle phase = iota
	phaseDeadTime
	phaseTiltSwing
	phaseMoving
)

// intent is the motion the controller is working toward once any pending
// dead-time/safety delay elapses.
type intent int

const (
	intentNone intent = iota
	intentOpen
	intentClose
)

// Controller is one cover's state machine (spec.md §4.F). All public
// methods are safe for concurrent use; Tick must be called periodically
// (driven by the 1 Hz runtime tick, spec.md §5) to advance motion.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	up, down RelayPort
	clock    Clock

	props Properties

	state       State
	position    float64
	tilt        float64
	calibration bool

	phase          phase
	pendingIntent  intent
	phaseDeadline  time.Time
	lastTick       time.Time
	targetPosition *float64 // nil = run to the natural limit
	targetTiltOnly bool     // true when this motion is a tilt-only adjustment at rest
}

// New constructs a Controller and loads any persisted position, entering
// calibration mode if the file is missing or the persisted state indicates
// an unclean shutdown mid-motion (spec.md §3 Lifecycle, §4.F Calibration).
func New(log *zap.Logger, cfg Config, up, down RelayPort) (*Controller, error) {
	c := &Controller{
		cfg:   cfg,
		log:   log.With(zap.String("cover", cfg.ID)),
		up:    up,
		down:  down,
		clock: realClock{},
		props: PropertiesFor(cfg.DeviceClass),
		state: StateStopped,
		phase: phaseIdle,
	}

	persisted, ok, err := load(cfg.TmpDir, cfg.ID)
	if err != nil {
		return nil, err
	}

	if !ok {
		if cfg.PersistentTmpDir {
			// No unclean-shutdown signal possible without a prior file, and
			// calibration is disabled outright in this mode (spec.md §6).
			return c, nil
		}
		c.enterCalibration()
		return c, nil
	}

	state, err := parseState(persisted.State)
	if err != nil || state.Moving() {
		if cfg.PersistentTmpDir {
			c.state = StateStopped
			c.position = float64(persisted.Position)
			c.tilt = float64(persisted.Tilt)
			return c, nil
		}
		c.enterCalibration()
		return c, nil
	}

	c.state = state
	c.position = float64(persisted.Position)
	c.tilt = float64(persisted.Tilt)

	return c, nil
}

func (c *Controller) enterCalibration() {
	c.calibration = true
	c.state = StateClosed
	c.position = 0
	c.tilt = 0
}

// State returns the cover's current motion state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Position returns the rounded published position (spec.md §4.F).
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(math.Round(c.position))
}

// Tilt returns the rounded published tilt; meaningless for non-blind
// device classes.
func (c *Controller) Tilt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(math.Round(c.tilt))
}

// Calibrating reports whether the cover is running its startup
// full-open calibration pass.
func (c *Controller) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibration
}

// Handle dispatches an inbound OPEN/CLOSE/STOP command (spec.md §4.F).
func (c *Controller) Handle(cmd DeviceCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calibration && cmd != CommandOpen {
		return nil // calibration ignores everything but OPEN
	}

	switch cmd {
	case CommandOpen:
		return c.startMotion(intentOpen, nil, false)
	case CommandClose:
		return c.startMotion(intentClose, nil, false)
	case CommandStop:
		c.stopNow()
		return nil
	}
	return fmt.Errorf("cover: unknown command %v", cmd)
}

// SetPosition drives toward an explicit target position (spec.md §4.F).
// A no-op matches the Open Question decision for target==current resting
// extreme (e.g. 100 while already Open).
func (c *Controller) SetPosition(target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calibration || !c.props.SetPosition {
		return nil
	}

	t := clampPercent(target)
	if t == c.position && !c.state.Moving() {
		return nil
	}

	want := intentOpen
	if t < c.position {
		want = intentClose
	}

	tf := t
	return c.startMotion(want, &tf, false)
}

// SetTilt adjusts tilt only, with the cover at rest (spec.md §4.F: "An
// explicit /tilt/set target with the cover at rest runs the motor only
// long enough to adjust tilt, then stops.").
func (c *Controller) SetTilt(target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calibration || !c.props.SetTilt || c.state.Moving() {
		return nil
	}

	t := clampPercent(target)
	if t == c.tilt {
		return nil
	}

	want := intentOpen
	if t < c.tilt {
		want = intentClose
	}

	return c.startMotion(want, nil, true)
}

// startMotion schedules the requested direction, inserting the mandatory
// 500 ms dead time when reversing out of a moving state, or the 100 ms
// safety delay if the opposite relay is unexpectedly energized. Caller
// must hold c.mu.
func (c *Controller) startMotion(want intent, target *float64, tiltOnly bool) error {
	reversing := c.state.Moving() && ((c.state == StateOpening && want == intentClose) || (c.state == StateClosing && want == intentOpen))

	now := c.clock.Now()

	// Integrate the time elapsed since the last Tick under the current
	// motion before retargeting, so a mid-motion command does not lose it.
	switch c.phase {
	case phaseMoving:
		c.tickMoving(now)
	case phaseTiltSwing:
		c.tickTiltSwing(now)
	}

	c.pendingIntent = want
	c.targetPosition = target
	c.targetTiltOnly = tiltOnly

	if reversing {
		c.deenergizeBoth()
		c.state = StateStopped
		c.phase = phaseDeadTime
		c.phaseDeadline = now.Add(deadTimeMillis * time.Millisecond)
		return nil
	}

	opposite := c.down
	if want == intentClose {
		opposite = c.up
	}

	if energized, ok := opposite.Read(); ok && energized {
		if err := opposite.Write(false); err != nil {
			return err
		}
		c.phase = phaseDeadTime
		c.phaseDeadline = now.Add(relaySafetyDelayMillis * time.Millisecond)
		return nil
	}

	return c.beginEnergized(now)
}

// beginEnergized energizes the intended relay and enters the tilt-swing
// or moving phase as appropriate. Caller must hold c.mu.
func (c *Controller) beginEnergized(now time.Time) error {
	relay, opposite := c.up, c.down
	relayName := "up"
	newState := StateOpening
	if c.pendingIntent == intentClose {
		relay, opposite = c.down, c.up
		relayName = "down"
		newState = StateClosing
	}

	// startMotion always clears or skips the opposite relay before
	// reaching here; finding it still energized means both relays were
	// about to be commanded on at once, which must never happen
	// (spec.md §7 CoverSafetyViolation).
	if energized, ok := opposite.Read(); ok && energized {
		c.log.Error("refusing to energize relay, opposite relay already energized",
			zap.String("relay", relayName))
		c.deenergizeBoth()
		c.state = StateStopped
		c.phase = phaseIdle
		return &CoverSafetyViolationError{CoverID: c.cfg.ID, Relay: relayName}
	}

	if err := relay.Write(true); err != nil {
		c.deenergizeBoth()
		c.state = StateStopped
		c.phase = phaseIdle
		return err
	}

	c.state = newState
	c.lastTick = now
	c.persist()

	needsTiltSwing := c.props.SetTilt && c.cfg.TiltChangeTime > 0 && tiltNeedsSwing(c.tilt, c.pendingIntent)

	switch {
	case c.targetTiltOnly:
		c.phase = phaseTiltSwing
	case needsTiltSwing:
		c.phase = phaseTiltSwing
	default:
		c.phase = phaseMoving
	}

	return nil
}

func tiltNeedsSwing(tilt float64, want intent) bool {
	if want == intentOpen {
		return tilt < OpenPosition
	}
	return tilt > ClosedPosition
}

// Tick advances time-driven motion: dead-time/safety-delay expiry, tilt
// swing integration, and position integration (spec.md §4.F, §5). It
// must be called periodically by the owning runtime task.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case phaseDeadTime:
		if !now.Before(c.phaseDeadline) {
			_ = c.beginEnergized(now)
		}
	case phaseTiltSwing:
		c.tickTiltSwing(now)
	case phaseMoving:
		c.tickMoving(now)
	}
}

func (c *Controller) tickTiltSwing(now time.Time) {
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now

	delta := 100 * elapsed / c.cfg.TiltChangeTime
	if c.pendingIntent == intentClose {
		delta = -delta
	}
	c.tilt = clampFloat(c.tilt+delta, 0, 100)

	reachedExtreme := (c.pendingIntent == intentOpen && c.tilt >= OpenPosition) ||
		(c.pendingIntent == intentClose && c.tilt <= ClosedPosition)

	if !reachedExtreme {
		return
	}

	if c.targetTiltOnly {
		c.finishMotion()
		return
	}

	c.phase = phaseMoving
}

func (c *Controller) tickMoving(now time.Time) {
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now

	delta := 100 * elapsed / c.cfg.CoverRunTime
	if c.pendingIntent == intentClose {
		delta = -delta
	}
	c.position = clampFloat(c.position+delta, 0, 100)

	if c.targetPosition != nil {
		reached := (c.pendingIntent == intentOpen && c.position >= *c.targetPosition) ||
			(c.pendingIntent == intentClose && c.position <= *c.targetPosition)
		if reached {
			c.position = *c.targetPosition
			c.finishMotion()
		}
		return
	}

	if c.position >= OpenPosition {
		c.position = OpenPosition
		c.finishAtLimit(StateOpen)
	} else if c.position <= ClosedPosition {
		c.position = ClosedPosition
		c.finishAtLimit(StateClosed)
	}
}

// finishMotion stops at an explicit target (position or tilt-only),
// settling into Stopped (spec.md §4.F state diagram).
func (c *Controller) finishMotion() {
	c.deenergizeBoth()
	c.state = StateStopped
	c.phase = phaseIdle
	c.persist()
}

// finishAtLimit stops because position reached a natural extreme.
func (c *Controller) finishAtLimit(resting State) {
	c.deenergizeBoth()

	if c.calibration {
		c.calibration = false
	}

	c.state = resting
	c.phase = phaseIdle
	c.persist()
}

func (c *Controller) stopNow() {
	if !c.state.Moving() && c.phase == phaseIdle {
		return
	}
	c.deenergizeBoth()
	c.state = StateStopped
	c.phase = phaseIdle
	c.persist()
}

// deenergizeBoth clears both relays, ignoring individual write errors so
// the motor is quiesced even if one leg fails; CoverSafetyViolation is the
// only case where a logic bug could have both relays commanded at once,
// which this call prevents by construction (spec.md §4.F Safety invariants).
func (c *Controller) deenergizeBoth() {
	if err := c.up.Write(false); err != nil {
		c.log.Warn("failed to clear up relay", zap.Error(err))
	}
	if err := c.down.Write(false); err != nil {
		c.log.Warn("failed to clear down relay", zap.Error(err))
	}
}

func (c *Controller) persist() {
	err := save(c.cfg.TmpDir, c.cfg.ID, PersistedState{
		Position: int(math.Round(c.position)),
		Tilt:     int(math.Round(c.tilt)),
		State:    c.state.String(),
	}, c.clock.Now())
	if err != nil {
		c.log.Warn("failed to persist cover position", zap.Error(err))
	}
}

func clampPercent(v int) float64 {
	return clampFloat(float64(v), 0, 100)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
