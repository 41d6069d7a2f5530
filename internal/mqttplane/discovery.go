package mqttplane

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/registry"
)

// device is the shared "device" block Home Assistant groups every entity
// under (spec.md §4.H).
type device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

// featureDiscovery is the discovery payload shape for switch/binary_sensor/
// sensor components.
type featureDiscovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ObjectID          string `json:"object_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	Icon              string `json:"icon,omitempty"`
	SuggestedArea     string `json:"suggested_area,omitempty"`
	Device            device `json:"device"`
}

// coverDiscovery is the discovery payload shape for the cover component.
type coverDiscovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ObjectID          string `json:"object_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic"`
	PositionTopic     string `json:"position_topic,omitempty"`
	SetPositionTopic  string `json:"set_position_topic,omitempty"`
	TiltStatusTopic   string `json:"tilt_status_topic,omitempty"`
	TiltCommandTopic  string `json:"tilt_command_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	DeviceClass       string `json:"device_class,omitempty"`
	SuggestedArea     string `json:"suggested_area,omitempty"`
	Device            device `json:"device"`
}

// componentFor resolves the Home Assistant component for a feature kind.
func componentFor(f *registry.Feature) string {
	switch f.Kind {
	case config.KindDigitalOutput, config.KindRelayOutput, config.KindAnalogOutput:
		return "switch"
	case config.KindDigitalInput:
		return "binary_sensor"
	default:
		return "sensor"
	}
}

// EmitFeatureDiscovery builds and publishes one feature's discovery
// document (spec.md §4.H).
func (p *Plane) EmitFeatureDiscovery(ha config.HomeAssistantConfig, f *registry.Feature) {
	if !ha.Enabled {
		return
	}

	component := componentFor(f)
	kindTopic := mqttKindFor(f.Kind)

	// Reference the same topics the state is published on and the /set
	// handler is subscribed to: meter fields use their unit-scoped topic,
	// everything else is keyed by ObjectID.
	stateTopic := FeatureGetTopic(p.device, kindTopic, f.ObjectID)
	if f.Kind == config.KindMeterField {
		stateTopic = MeterTopic(p.device, f.Circuit, f.UnitOfMeasurement)
	}

	doc := featureDiscovery{
		Name:              friendlyName(f.FriendlyName, f.ID),
		UniqueID:          fmt.Sprintf("%s_%s", p.device, f.ID),
		ObjectID:          f.ObjectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: AvailabilityTopic(p.device),
		DeviceClass:       f.DeviceClass,
		StateClass:        f.StateClass,
		UnitOfMeasurement: f.UnitOfMeasurement,
		Icon:              f.Icon,
		SuggestedArea:     f.SuggestedArea,
		Device:            device{Identifiers: []string{p.device}, Name: p.device},
	}
	if f.Writable() {
		doc.CommandTopic = FeatureSetTopic(p.device, kindTopic, f.ObjectID)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		p.log.Warn("failed to marshal discovery document", zap.String("feature_id", f.ID))
		return
	}

	p.PublishDiscovery(DiscoveryTopic(ha.DiscoveryPrefix, component, p.device, f.ObjectID), raw)
}

// EmitCoverDiscovery builds and publishes one cover's discovery document.
func (p *Plane) EmitCoverDiscovery(ha config.HomeAssistantConfig, cover config.CoverConfig) {
	if !ha.Enabled {
		return
	}

	topics := BuildCoverTopics(p.device, cover)
	props := coverPropertiesFor(cover.DeviceClass)

	doc := coverDiscovery{
		Name:              friendlyName(cover.FriendlyName, cover.ObjectID),
		UniqueID:          fmt.Sprintf("%s_%s", p.device, cover.ID),
		ObjectID:          cover.ObjectID,
		StateTopic:        topics.State,
		CommandTopic:      topics.Set,
		AvailabilityTopic: AvailabilityTopic(p.device),
		DeviceClass:       cover.DeviceClass,
		SuggestedArea:     cover.SuggestedArea,
		Device:            device{Identifiers: []string{p.device}, Name: p.device},
	}

	if props.setPosition {
		doc.PositionTopic = topics.Position
		doc.SetPositionTopic = topics.PositionSet
	}
	if props.setTilt {
		doc.TiltStatusTopic = topics.Tilt
		doc.TiltCommandTopic = topics.TiltSet
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		p.log.Warn("failed to marshal cover discovery document", zap.String("cover_id", cover.ID))
		return
	}

	p.PublishDiscovery(DiscoveryTopic(ha.DiscoveryPrefix, "cover", p.device, cover.ObjectID), raw)
}

type coverProps struct{ setPosition, setTilt bool }

// coverPropertiesFor mirrors cover.PropertiesFor without importing the
// cover package; mqttplane only needs the capability booleans.
func coverPropertiesFor(deviceClass string) coverProps {
	switch deviceClass {
	case "blind":
		return coverProps{setPosition: true, setTilt: true}
	case "garage_door":
		return coverProps{setPosition: true, setTilt: false}
	default:
		return coverProps{}
	}
}

func mqttKindFor(k config.FeatureKind) string {
	switch k {
	case config.KindRelayOutput:
		return "relay"
	case config.KindDigitalOutput:
		return "relay"
	case config.KindDigitalInput:
		return "input"
	case config.KindMeterField:
		return "meter"
	default:
		return "analog"
	}
}

func friendlyName(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
