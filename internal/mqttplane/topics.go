// Package mqttplane is the MQTT Plane (spec.md §4.G): a single broker
// connection with last-will availability, a pre-built topic router for
// inbound /set commands, and a retained-state publisher for feature and
// cover changes. It also hosts the Discovery Emitter (spec.md §4.H).
package mqttplane

import (
	"fmt"

	"github.com/unipi-control/unipi-controld/internal/config"
)

// AvailabilityTopic is the last-will / online-announce topic.
func AvailabilityTopic(deviceName string) string {
	return fmt.Sprintf("%s/availability", deviceName)
}

// FeatureGetTopic is the retained state topic for a relay/input/analog
// feature (spec.md §6). kind is one of "relay", "input", "analog"; meter
// fields use MeterTopic instead.
func FeatureGetTopic(deviceName, kind, featureSuffix string) string {
	return fmt.Sprintf("%s/%s/%s/get", deviceName, kind, featureSuffix)
}

// FeatureSetTopic is the companion /set topic for a writable feature.
func FeatureSetTopic(deviceName, kind, featureSuffix string) string {
	return fmt.Sprintf("%s/%s/%s/set", deviceName, kind, featureSuffix)
}

// MeterTopic is the retained state topic for a meter field, which embeds
// its unit of measurement in the topic per spec.md §6.
func MeterTopic(deviceName, field, unit string) string {
	return fmt.Sprintf("%s/meter/%s_%s/get", deviceName, field, unit)
}

// CoverTopics is the full set of topics for one configured cover
// (spec.md §6).
type CoverTopics struct {
	State       string
	Set         string
	Position    string
	PositionSet string
	Tilt        string
	TiltSet     string
}

// BuildCoverTopics returns every topic for one cover.
func BuildCoverTopics(deviceName string, cover config.CoverConfig) CoverTopics {
	base := fmt.Sprintf("%s/%s/cover/%s", deviceName, cover.ObjectID, cover.DeviceClass)
	return CoverTopics{
		State:       base + "/state",
		Set:         base + "/set",
		Position:    base + "/position",
		PositionSet: base + "/position/set",
		Tilt:        base + "/tilt",
		TiltSet:     base + "/tilt/set",
	}
}

// DiscoveryTopic is the retained config document topic for one component
// (spec.md §4.H).
func DiscoveryTopic(discoveryPrefix, component, deviceName, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, deviceName, objectID)
}
