package registry

import (
	"fmt"
	"math"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/modbus"
)

// Registry holds every Feature discovered on one unit of one transport
// (Build is called once per unit), indexed for the lookups the Cover
// Controller and MQTT Plane need (spec.md §4.C).
type Registry struct {
	byID      map[string]*Feature
	byCircuit map[string]*Feature
	ordered   []*Feature
}

// Build merges a unit's hardware definition with user-supplied per-feature
// config overrides into a flat Registry. Called once at startup; the
// result is immutable thereafter (spec.md §3 Lifecycle).
func Build(transportID string, unitID uint8, def *config.HardwareDefinition, overrides map[string]config.FeatureConfig) (*Registry, error) {
	r := &Registry{
		byID:      make(map[string]*Feature),
		byCircuit: make(map[string]*Feature),
	}

	for _, fd := range def.Features {
		id := featureID(fd.Kind, fd.Circuit)
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("registry: duplicate feature id %q", id)
		}

		words := fd.Words
		if words == 0 {
			words = 1
		}

		f := &Feature{
			ID:          id,
			Circuit:     fd.Circuit,
			Kind:        fd.Kind,
			TransportID: transportID,
			UnitID:      unitID,
			Register:    fd.Register,
			Coil:        fd.Coil,
			BitIndex:    fd.BitIndex,
			Words:       words,
			ByteOrder:   fd.ByteOrder,

			UnitOfMeasurement: fd.UnitOfMeasurement,
			ObjectID:          id,
		}

		if o, ok := overrides[id]; ok {
			applyOverride(f, o)
		}

		r.byID[id] = f
		r.byCircuit[fd.Circuit] = f
		r.ordered = append(r.ordered, f)
	}

	return r, nil
}

func applyOverride(f *Feature, o config.FeatureConfig) {
	if o.FriendlyName != "" {
		f.FriendlyName = o.FriendlyName
	}
	if o.DeviceClass != "" {
		f.DeviceClass = o.DeviceClass
	}
	if o.StateClass != "" {
		f.StateClass = o.StateClass
	}
	if o.UnitOfMeasure != "" {
		f.UnitOfMeasurement = o.UnitOfMeasure
	}
	if o.SuggestedArea != "" {
		f.SuggestedArea = o.SuggestedArea
	}
	if o.Icon != "" {
		f.Icon = o.Icon
	}
	if o.ObjectID != "" {
		f.ObjectID = o.ObjectID
	}
	f.InvertState = o.InvertState
}

// Get looks a feature up by its stable id.
func (r *Registry) Get(id string) (*Feature, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// ByOutputCircuit resolves a hardware-definition circuit (e.g. "3_01") to
// its writable Feature. Cover relays are resolved by feature id through Get,
// not through this lookup.
func (r *Registry) ByOutputCircuit(circuit string) (*Feature, bool) {
	f, ok := r.byCircuit[circuit]
	if !ok || !f.Writable() {
		return nil, false
	}
	return f, true
}

// IterWritable returns every writable feature, in registration order.
func (r *Registry) IterWritable() []*Feature {
	var out []*Feature
	for _, f := range r.ordered {
		if f.Writable() {
			out = append(out, f)
		}
	}
	return out
}

// IterReadable returns every feature whose value can be decoded from the
// cache, in registration order.
func (r *Registry) IterReadable() []*Feature {
	out := make([]*Feature, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Decode reads a Feature's current value out of the cache, applying bit
// extraction for digital points or IEEE-754 assembly for analog/meter
// points with the configured byte order (spec.md §4.C). ok is false if
// the backing block has never been scanned.
func Decode(f *Feature, cache *modbus.Cache) (FeatureValue, bool) {
	switch f.Kind {
	case config.KindDigitalInput, config.KindDigitalOutput, config.KindRelayOutput:
		return decodeDigital(f, cache)
	case config.KindAnalogInput, config.KindAnalogOutput, config.KindMeterField:
		return decodeAnalog(f, cache)
	default:
		return FeatureValue{}, false
	}
}

func decodeDigital(f *Feature, cache *modbus.Cache) (FeatureValue, bool) {
	var raw bool
	var ok bool

	if f.Coil != nil {
		kind := blockKindFor(f)
		raw, ok = cache.Bit(f.UnitID, kind, *f.Coil)
	} else {
		kind := blockKindFor(f)
		if f.Kind == config.KindDigitalInput {
			raw, ok = cache.Bit(f.UnitID, kind, f.Register)
		} else {
			reg, rok := cache.Register(f.UnitID, kind, f.Register)
			ok = rok
			raw = reg&(1<<uint(f.BitIndex)) != 0
		}
	}

	if !ok {
		return FeatureValue{}, false
	}

	if f.InvertState {
		raw = !raw
	}

	return FeatureValue{Kind: ValueBool, Bool: raw}, true
}

func decodeAnalog(f *Feature, cache *modbus.Cache) (FeatureValue, bool) {
	kind := blockKindFor(f)

	if f.Words <= 1 {
		reg, ok := cache.Register(f.UnitID, kind, f.Register)
		if !ok {
			return FeatureValue{}, false
		}
		return FeatureValue{Kind: ValueFloat, Float: float32(reg)}, true
	}

	regs := make([]uint16, f.Words)
	for i := 0; i < f.Words; i++ {
		v, ok := cache.Register(f.UnitID, kind, f.Register+uint16(i))
		if !ok {
			return FeatureValue{}, false
		}
		regs[i] = v
	}

	return FeatureValue{Kind: ValueFloat, Float: assembleFloat32(regs, f.ByteOrder)}, true
}

// assembleFloat32 builds an IEEE-754 float32 from two 16-bit registers,
// honoring the hardware definition's declared byte order: word-swapped
// when declared so, otherwise big-endian with the high word first.
func assembleFloat32(regs []uint16, order config.ByteOrder) float32 {
	var hi, lo uint16
	switch order {
	case config.ByteOrderBigEndianWordSwap:
		hi, lo = regs[1], regs[0]
	default:
		hi, lo = regs[0], regs[1]
	}

	bits := uint32(hi)<<16 | uint32(lo)
	return math.Float32frombits(bits)
}

// EncodeWrite turns a desired FeatureValue into the modbus.Command that
// applies it, honoring the coil-vs-packed-register policy from the
// hardware definition (spec.md §4.C: no invented read-modify-write path).
func EncodeWrite(f *Feature, value FeatureValue) (modbus.Command, error) {
	if !f.Writable() {
		return modbus.Command{}, fmt.Errorf("registry: feature %q is not writable", f.ID)
	}

	if f.Kind == config.KindAnalogOutput {
		// Analog outputs are a plain u16 register write (function code 6),
		// never a coil and never bit-packed — BitIndex/Coil are meaningless
		// for this kind (spec.md §3/§4.C).
		return modbus.Command{
			Unit:     f.UnitID,
			Address:  f.Register,
			Kind:     modbus.CommandWriteRegister,
			RegValue: uint16(math.Round(float64(value.Float))),
		}, nil
	}

	want := value.Bool
	if f.InvertState {
		want = !want
	}

	if f.Coil != nil {
		return modbus.Command{
			Unit:     f.UnitID,
			Address:  *f.Coil,
			Kind:     modbus.CommandWriteCoil,
			BitValue: want,
		}, nil
	}

	// Packed-register write: the hardware definition pre-packs the whole
	// register value; BitIndex only tells us which bit this feature owns
	// within it, so a single-bit feature must be the only bit in that
	// register (enforced by the hardware definition, not here).
	var regValue uint16
	if want {
		regValue = 1 << uint(f.BitIndex)
	}

	return modbus.Command{
		Unit:     f.UnitID,
		Address:  f.Register,
		Kind:     modbus.CommandWriteRegister,
		RegValue: regValue,
	}, nil
}
