// Package registry builds the Feature Registry (spec.md §4.C): the set of
// typed I/O points discovered from a unit's hardware definition, merged
// with user-supplied metadata, and the codecs that turn raw cache values
// into FeatureValue and vice versa.
package registry

import (
	"fmt"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/modbus"
)

// Kind is an alias of config.FeatureKind; its values are the config.Kind*
// constants.
type Kind = config.FeatureKind

// ValueKind discriminates what a FeatureValue actually holds.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueBool
	ValueFloat
)

// FeatureValue is the decoded payload of a Feature: Bool for digital
// points (emitted as ON/OFF), Float for analog/meter points, or None
// before the first successful read (spec.md §3).
type FeatureValue struct {
	Kind  ValueKind
	Bool  bool
	Float float32
}

func (v FeatureValue) Equal(o FeatureValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueBool:
		return v.Bool == o.Bool
	case ValueFloat:
		return v.Float == o.Float
	default:
		return true
	}
}

// Feature is a typed view over one or more consecutive registers on one
// Modbus unit (spec.md §3). Kind discriminates the variant; only the
// fields relevant to that variant are meaningful.
type Feature struct {
	ID      string
	Circuit string
	Kind    Kind

	TransportID string
	UnitID      uint8

	// Register/Coil/BitIndex/Words/ByteOrder describe the backing
	// address(es), copied from the hardware definition.
	Register  uint16
	Coil      *uint16
	BitIndex  int
	Words     int
	ByteOrder config.ByteOrder

	FriendlyName      string
	DeviceClass       string
	StateClass        string
	UnitOfMeasurement string
	SuggestedArea     string
	Icon              string
	InvertState       bool
	ObjectID          string
}

// Writable reports whether the feature accepts writes (DigitalOutput,
// RelayOutput, AnalogOutput).
func (f *Feature) Writable() bool {
	switch f.Kind {
	case config.KindDigitalOutput, config.KindRelayOutput, config.KindAnalogOutput:
		return true
	default:
		return false
	}
}

// shortName returns the MQTT/feature-id type prefix for a kind, e.g.
// "di" for DigitalInput (spec.md §6 topic grammar, §3 id format).
func shortName(k Kind) string {
	switch k {
	case config.KindDigitalInput:
		return "di"
	case config.KindDigitalOutput:
		return "do"
	case config.KindRelayOutput:
		return "ro"
	case config.KindAnalogInput:
		return "ai"
	case config.KindAnalogOutput:
		return "ao"
	case config.KindMeterField:
		return "meter"
	default:
		return "unknown"
	}
}

// featureID builds the stable, process-wide-unique feature id from kind
// and circuit, e.g. "di_3_02" (spec.md §3).
func featureID(k Kind, circuit string) string {
	return fmt.Sprintf("%s_%s", shortName(k), circuit)
}

// blockKindFor maps a feature's register access pattern to the cache
// block kind it is read from.
func blockKindFor(f *Feature) modbus.BlockKind {
	switch f.Kind {
	case config.KindDigitalInput:
		return modbus.KindDiscrete
	case config.KindRelayOutput, config.KindDigitalOutput:
		if f.Coil != nil {
			return modbus.KindCoil
		}
		return modbus.KindHolding
	default:
		return modbus.KindHolding
	}
}
