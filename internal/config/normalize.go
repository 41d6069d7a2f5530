// internal/config/normalize.go
package config

import (
	"os"
	"time"
)

const (
	defaultTransportTimeout   = time.Second
	defaultReconnectInterval  = 5 * time.Second
	defaultMQTTPort           = 1883
	defaultDiscoveryPrefix    = "homeassistant"
)

// Normalize applies post-validation normalization and fills in documented
// defaults. It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.DeviceInfo.Name == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceInfo.Name = host
		}
	}

	for i := range cfg.Modbus.TCP {
		t := &cfg.Modbus.TCP[i]
		if t.Timeout <= 0 {
			t.Timeout = defaultTransportTimeout
		}
		if t.Port == 0 {
			t.Port = 502
		}
	}

	for i := range cfg.Modbus.Serial {
		t := &cfg.Modbus.Serial[i]
		if t.Timeout <= 0 {
			t.Timeout = 2 * defaultTransportTimeout
		}
		if t.BaudRate == 0 {
			t.BaudRate = 9600
		}
		if t.DataBits == 0 {
			t.DataBits = 8
		}
		if t.Parity == "" {
			t.Parity = "N"
		}
		if t.StopBits == 0 {
			t.StopBits = 1
		}
	}

	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = defaultMQTTPort
	}
	if cfg.MQTT.ReconnectInterval <= 0 {
		cfg.MQTT.ReconnectInterval = defaultReconnectInterval
	}

	if cfg.HomeAssistant.Enabled && cfg.HomeAssistant.DiscoveryPrefix == "" {
		cfg.HomeAssistant.DiscoveryPrefix = defaultDiscoveryPrefix
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MQTT.FeaturesLevel == "" {
		cfg.Logging.MQTT.FeaturesLevel = "info"
	}
	if cfg.Logging.MQTT.MetersLevel == "" {
		cfg.Logging.MQTT.MetersLevel = "info"
	}
}
