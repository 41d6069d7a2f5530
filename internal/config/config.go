// internal/config/config.go
package config

import "time"

// Config is the root of the daemon's YAML configuration file.
type Config struct {
	DeviceInfo    DeviceInfo               `yaml:"device_info"`
	Modbus        ModbusConfig             `yaml:"modbus"`
	Features      map[string]FeatureConfig `yaml:"features"`
	Covers        []CoverConfig            `yaml:"covers"`
	MQTT          MQTTConfig               `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig      `yaml:"homeassistant"`
	Advanced      AdvancedConfig           `yaml:"advanced"`
	Logging       LoggingConfig            `yaml:"logging"`
}

// DeviceInfo names the physical controller; it is the root of every MQTT
// topic and Home Assistant device entry.
type DeviceInfo struct {
	Name string `yaml:"name"`
}

// ModbusConfig lists every transport this daemon owns and the units
// reachable through each.
type ModbusConfig struct {
	TCP    []TCPTransportConfig    `yaml:"tcp"`
	Serial []SerialTransportConfig `yaml:"serial"`
}

// TCPTransportConfig describes one TCP Modbus endpoint, typically the
// on-board Neuron/Patron coprocessor.
type TCPTransportConfig struct {
	ID      string        `yaml:"id"`
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Units   []UnitConfig  `yaml:"units"`
}

// SerialTransportConfig describes one RS-485 RTU bus, typically attached
// energy meters.
type SerialTransportConfig struct {
	ID       string        `yaml:"id"`
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	Parity   string        `yaml:"parity"`
	StopBits int           `yaml:"stop_bits"`
	Timeout  time.Duration `yaml:"timeout"`
	Units    []UnitConfig  `yaml:"units"`
}

// UnitConfig is one Modbus unit (slave) on a transport, resolved against a
// hardware definition file that supplies its register blocks and feature
// layout.
type UnitConfig struct {
	UnitID     uint8  `yaml:"unit_id"`
	Definition string `yaml:"definition"` // path to the hardware definition YAML
}

// FeatureConfig is user-supplied metadata merged onto a feature discovered
// from the hardware definition. The zero value means "no override".
type FeatureConfig struct {
	FriendlyName  string `yaml:"friendly_name"`
	DeviceClass   string `yaml:"device_class"`
	StateClass    string `yaml:"state_class"`
	UnitOfMeasure string `yaml:"unit_of_measurement"`
	SuggestedArea string `yaml:"suggested_area"`
	Icon          string `yaml:"icon"`
	InvertState   bool   `yaml:"invert_state"`
	ObjectID      string `yaml:"object_id"`
}

// CoverConfig describes one configured cover.
type CoverConfig struct {
	ID             string  `yaml:"id"`
	ObjectID       string  `yaml:"object_id"`
	FriendlyName   string  `yaml:"friendly_name"`
	SuggestedArea  string  `yaml:"suggested_area"`
	DeviceClass    string  `yaml:"device_class"` // blind | roller_shutter | garage_door
	CoverRunTime   float64 `yaml:"cover_run_time"`
	TiltChangeTime float64 `yaml:"tilt_change_time"`
	CoverUp        string  `yaml:"cover_up"`   // feature id
	CoverDown      string  `yaml:"cover_down"` // feature id
}

// MQTTConfig configures the single broker connection.
type MQTTConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	RetryLimit        int           `yaml:"retry_limit"`
}

// HomeAssistantConfig controls discovery document emission.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// AdvancedConfig holds the few low-level switches the spec calls out.
type AdvancedConfig struct {
	PersistentTmpDir bool `yaml:"persistent_tmp_dir"`
}

// LoggingConfig gates per-subsystem log verbosity, supplementing the
// distilled spec with the original daemon's per-category log levels.
type LoggingConfig struct {
	Level string      `yaml:"level"`
	MQTT  MQTTLogging `yaml:"mqtt"`
}

// MQTTLogging holds per-category publish log levels. They are parsed and
// defaulted by Normalize; the MQTT plane does not consult them and does not
// log routine publishes.
type MQTTLogging struct {
	FeaturesLevel string `yaml:"features_level"`
	MetersLevel   string `yaml:"meters_level"`
}

// UnipiTmpDir returns the <tmp> root covers persist their position files
// under (in its unipi/ subdirectory, as cover_<id>.json).
// Per spec.md §6: default /tmp/unipi, or /var/tmp/unipi when
// advanced.persistent_tmp_dir is set (which also disables calibration mode).
func (c *Config) UnipiTmpDir() string {
	if c.Advanced.PersistentTmpDir {
		return "/var/tmp/unipi"
	}
	return "/tmp/unipi"
}
