// Package daemon wires the Modbus Transport, Register Cache, Feature
// Registry, Scan Loop, Command Queue, Cover Controller and MQTT Plane
// together into one running process and owns its lifecycle (spec.md §5).
package daemon

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/cover"
	"github.com/unipi-control/unipi-controld/internal/modbus"
	"github.com/unipi-control/unipi-controld/internal/mqttplane"
	"github.com/unipi-control/unipi-controld/internal/registry"
	"github.com/unipi-control/unipi-controld/internal/runtimectx"
	"github.com/unipi-control/unipi-controld/internal/scan"
)

// ExitCode mirrors spec.md §6's process interface.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitConfigFatal    ExitCode = 1
	ExitTransportFatal ExitCode = 2
	ExitMQTTFatal      ExitCode = 3
)

// transportUnit is one resolved (transport, unit, hardware definition)
// triple with its built registry.
type transportUnit struct {
	transportID string
	unit        config.UnitConfig
	def         *config.HardwareDefinition
	registry    *registry.Registry
}

// Daemon owns every long-lived component for one run of the process.
type Daemon struct {
	rc     runtimectx.Context
	cfg    *config.Config
	plane  *mqttplane.Plane
	router *mqttplane.Router

	transports map[string]*modbus.Transport
	queues     map[string]*modbus.Queue
	caches     map[string]*modbus.Cache

	registries []*transportUnit
	covers     []*cover.Controller
	coverCfg   []config.CoverConfig

	loops []*scan.Loop
}

// New constructs every component from configuration but does not start
// any background task.
func New(rc runtimectx.Context) (*Daemon, error) {
	d := &Daemon{
		rc:         rc,
		cfg:        rc.Config,
		transports: make(map[string]*modbus.Transport),
		queues:     make(map[string]*modbus.Queue),
		caches:     make(map[string]*modbus.Cache),
	}

	onStateChange := func(id string, state modbus.State) {
		d.plane.PublishAvailability(state == modbus.StateHealthy)
	}

	for _, t := range d.cfg.Modbus.TCP {
		tr, err := modbus.NewTCP(rc.Log, t, onStateChange)
		if err != nil {
			return nil, fmt.Errorf("daemon: %w", err)
		}
		d.transports[t.ID] = tr
		d.queues[t.ID] = newCommandQueue()
		d.caches[t.ID] = modbus.NewCache()

		if err := d.loadUnits(t.ID, t.Units); err != nil {
			return nil, err
		}
	}

	for _, s := range d.cfg.Modbus.Serial {
		tr, err := modbus.NewSerial(rc.Log, s, onStateChange)
		if err != nil {
			return nil, fmt.Errorf("daemon: %w", err)
		}
		d.transports[s.ID] = tr
		d.queues[s.ID] = newCommandQueue()
		d.caches[s.ID] = modbus.NewCache()

		if err := d.loadUnits(s.ID, s.Units); err != nil {
			return nil, err
		}
	}

	d.router = mqttplane.NewRouter()
	d.plane = mqttplane.New(rc.Log, d.cfg.MQTT, d.cfg.DeviceInfo.Name, d.router)

	if err := d.buildCovers(); err != nil {
		return nil, err
	}

	d.buildScanLoops()
	d.wireFeatureRoutes()
	d.wireCoverRoutes()
	d.plane.OnConnect(d.republishAll)

	return d, nil
}

// newCommandQueue builds a per-transport Command Queue with its timeout
// set to 3x the scan interval (spec.md §7 CommandTimeout).
func newCommandQueue() *modbus.Queue {
	q := modbus.NewQueue()
	q.SetCommandTimeout(3 * scan.DefaultInterval)
	return q
}

func (d *Daemon) loadUnits(transportID string, units []config.UnitConfig) error {
	for _, u := range units {
		def, err := config.LoadHardwareDefinition(u.Definition)
		if err != nil {
			return fmt.Errorf("daemon: unit %d on %q: %w", u.UnitID, transportID, err)
		}

		reg, err := registry.Build(transportID, u.UnitID, def, d.cfg.Features)
		if err != nil {
			return fmt.Errorf("daemon: unit %d on %q: %w", u.UnitID, transportID, err)
		}

		d.registries = append(d.registries, &transportUnit{
			transportID: transportID,
			unit:        u,
			def:         def,
			registry:    reg,
		})
	}
	return nil
}

func (d *Daemon) buildScanLoops() {
	for _, tu := range d.registries {
		queue := d.queues[tu.transportID]
		cache := d.caches[tu.transportID]
		transport := d.transports[tu.transportID]

		var blocks []scan.Block
		for _, rb := range tu.def.RegisterBlocks {
			blocks = append(blocks, scan.Block{
				Unit:  tu.unit.UnitID,
				Kind:  modbus.KindHolding,
				Start: rb.Start,
				Count: rb.Count,
			})
		}

		events := make(chan scan.FeatureChanged, 256)
		loop := scan.NewLoop(d.rc.Log, scan.FromModbusTransport(transport), cache, queue, blocks, tu.registry.IterReadable(), events)
		d.loops = append(d.loops, loop)

		go d.consumeFeatureEvents(tu.registry, events)
	}
}

func (d *Daemon) consumeFeatureEvents(reg *registry.Registry, events <-chan scan.FeatureChanged) {
	for ev := range events {
		f, ok := reg.Get(ev.FeatureID)
		if !ok {
			continue
		}
		d.publishFeature(f, ev.New)
	}
}

func (d *Daemon) publishFeature(f *registry.Feature, v registry.FeatureValue) {
	switch f.Kind {
	case config.KindMeterField:
		d.plane.PublishMeter(f.Circuit, f.UnitOfMeasurement, v.Float)
	default:
		d.plane.PublishFeature(mqttKindFor(f.Kind), f.ObjectID, v)
	}
}

func mqttKindFor(k config.FeatureKind) string {
	switch k {
	case config.KindRelayOutput, config.KindDigitalOutput:
		return "relay"
	case config.KindDigitalInput:
		return "input"
	default:
		return "analog"
	}
}

func (d *Daemon) buildCovers() error {
	for _, cc := range d.cfg.Covers {
		upFeature, upReg, err := d.resolveOutputFeature(cc.CoverUp)
		if err != nil {
			return err
		}
		downFeature, _, err := d.resolveOutputFeature(cc.CoverDown)
		if err != nil {
			return err
		}

		transportID := upReg.transportID
		up := cover.NewFeatureRelay(upFeature, d.caches[transportID], d.queues[transportID])
		down := cover.NewFeatureRelay(downFeature, d.caches[transportID], d.queues[transportID])

		ctrl, err := cover.New(d.rc.Log, cover.Config{
			ID:               cc.ID,
			DeviceClass:      cc.DeviceClass,
			CoverRunTime:     cc.CoverRunTime,
			TiltChangeTime:   cc.TiltChangeTime,
			TmpDir:           d.cfg.UnipiTmpDir(),
			PersistentTmpDir: d.cfg.Advanced.PersistentTmpDir,
		}, up, down)
		if err != nil {
			return fmt.Errorf("daemon: cover %q: %w", cc.ID, err)
		}

		d.covers = append(d.covers, ctrl)
		d.coverCfg = append(d.coverCfg, cc)
	}
	return nil
}

func (d *Daemon) resolveOutputFeature(featureID string) (*registry.Feature, *transportUnit, error) {
	for _, tu := range d.registries {
		if f, ok := tu.registry.Get(featureID); ok && f.Writable() {
			return f, tu, nil
		}
	}
	return nil, nil, fmt.Errorf("daemon: no writable feature %q", featureID)
}

func (d *Daemon) wireFeatureRoutes() {
	for _, tu := range d.registries {
		queue := d.queues[tu.transportID]
		for _, f := range tu.registry.IterWritable() {
			topic := mqttplane.FeatureSetTopic(d.cfg.DeviceInfo.Name, mqttKindFor(f.Kind), f.ObjectID)
			id := f.ID
			reg := tu.registry
			q := queue
			d.router.Handle(topic, func(payload []byte) {
				mqttplane.SubmitFeatureWrite(reg, q, id, payload)
			})
		}
	}
}

func (d *Daemon) wireCoverRoutes() {
	for i, cc := range d.coverCfg {
		ctrl := d.covers[i]
		topics := mqttplane.BuildCoverTopics(d.cfg.DeviceInfo.Name, cc)

		d.router.Handle(topics.Set, func(payload []byte) {
			switch string(payload) {
			case "OPEN":
				_ = ctrl.Handle(cover.CommandOpen)
			case "CLOSE":
				_ = ctrl.Handle(cover.CommandClose)
			case "STOP":
				_ = ctrl.Handle(cover.CommandStop)
			}
		})

		d.router.Handle(topics.PositionSet, func(payload []byte) {
			if v, err := strconv.Atoi(string(payload)); err == nil {
				_ = ctrl.SetPosition(v)
			}
		})

		d.router.Handle(topics.TiltSet, func(payload []byte) {
			if v, err := strconv.Atoi(string(payload)); err == nil {
				_ = ctrl.SetTilt(v)
			}
		})
	}
}

// republishAll is the OnConnect hook: republish discovery documents and
// the last-known retained state for every feature and cover, per
// spec.md §4.G/§4.H "on each successful MQTT connect".
func (d *Daemon) republishAll() {
	for _, tu := range d.registries {
		for _, f := range tu.registry.IterReadable() {
			d.plane.EmitFeatureDiscovery(d.cfg.HomeAssistant, f)
			if v, ok := registry.Decode(f, d.caches[tu.transportID]); ok {
				d.publishFeature(f, v)
			}
		}
	}

	for i, cc := range d.coverCfg {
		d.plane.EmitCoverDiscovery(d.cfg.HomeAssistant, cc)
		d.publishCoverState(cc, d.covers[i])
	}
}

func (d *Daemon) publishCoverState(cc config.CoverConfig, ctrl *cover.Controller) {
	topics := mqttplane.BuildCoverTopics(d.cfg.DeviceInfo.Name, cc)
	props := cover.PropertiesFor(cc.DeviceClass)

	d.plane.PublishCoverState(
		topics,
		ctrl.State().String(),
		strconv.Itoa(ctrl.Position()),
		strconv.Itoa(ctrl.Tilt()),
		props.SetTilt,
	)
}

// Run starts every background task and blocks until ctx is cancelled or a
// fatal error occurs, then performs graceful shutdown (spec.md §5).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.plane.Connect(); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, loop := range d.loops {
		loop := loop
		g.Go(func() error {
			err := loop.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return d.runCoverTicker(gctx)
	})

	g.Go(func() error {
		select {
		case err := <-d.plane.Errors():
			return fmt.Errorf("daemon: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()

	d.shutdown()

	return err
}

// runCoverTicker feeds the 1 Hz tick every Cover Controller needs for
// position/tilt integration (spec.md §5).
func (d *Daemon) runCoverTicker(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for i, ctrl := range d.covers {
				ctrl.Tick(now)
				d.publishCoverState(d.coverCfg[i], ctrl)
			}
		}
	}
}

// shutdown quiesces every cover, persists state, publishes offline
// availability, and closes every transport (spec.md §5 Cancellation).
func (d *Daemon) shutdown() {
	for i, ctrl := range d.covers {
		_ = ctrl.Handle(cover.CommandStop)
		d.publishCoverState(d.coverCfg[i], ctrl)
	}

	d.plane.Disconnect()

	for _, t := range d.transports {
		_ = t.Close()
	}
}
