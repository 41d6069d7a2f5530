// internal/config/validate_test.go
package config

import "testing"

func baseConfig() *Config {
	return &Config{
		DeviceInfo: DeviceInfo{Name: "unipi1"},
		MQTT:       MQTTConfig{Host: "localhost"},
	}
}

func TestValidate_RequiresDeviceName(t *testing.T) {
	cfg := baseConfig()
	cfg.DeviceInfo.Name = ""

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing device_info.name")
	}
}

func TestValidate_RequiresMQTTHost(t *testing.T) {
	cfg := baseConfig()
	cfg.MQTT.Host = ""

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing mqtt.host")
	}
}

func TestValidate_DuplicateTransportID(t *testing.T) {
	cfg := baseConfig()
	cfg.Modbus.TCP = []TCPTransportConfig{{ID: "neuron"}}
	cfg.Modbus.Serial = []SerialTransportConfig{{ID: "neuron"}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate transport id")
	}
}

func TestValidate_DuplicateUnitIDOnTransport(t *testing.T) {
	cfg := baseConfig()
	cfg.Modbus.TCP = []TCPTransportConfig{{
		ID: "neuron",
		Units: []UnitConfig{
			{UnitID: 0, Definition: "neuron.yaml"},
			{UnitID: 0, Definition: "neuron.yaml"},
		},
	}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate unit id")
	}
}

func TestValidate_CoverUpDownMustDiffer(t *testing.T) {
	cfg := baseConfig()
	cfg.Covers = []CoverConfig{{
		ID: "c1", DeviceClass: "blind", CoverRunTime: 30,
		CoverUp: "ro_3_01", CoverDown: "ro_3_01",
	}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for cover_up == cover_down")
	}
}

func TestValidate_CoverRunTimeMustBePositive(t *testing.T) {
	cfg := baseConfig()
	cfg.Covers = []CoverConfig{{
		ID: "c1", DeviceClass: "blind", CoverRunTime: 0,
		CoverUp: "ro_3_01", CoverDown: "ro_3_02",
	}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for non-positive cover_run_time")
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	cfg := baseConfig()
	cfg.Modbus.TCP = []TCPTransportConfig{{
		ID:   "neuron",
		Host: "127.0.0.1",
		Units: []UnitConfig{
			{UnitID: 0, Definition: "neuron_s103.yaml"},
		},
	}}
	cfg.Covers = []CoverConfig{{
		ID: "living_room_blind", DeviceClass: "blind", CoverRunTime: 30,
		CoverUp: "ro_3_01", CoverDown: "ro_3_02",
	}}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateHardwareDefinition_OverlapDetected(t *testing.T) {
	def := &HardwareDefinition{
		RegisterBlocks: []RegisterBlock{
			{Start: 0, Count: 10, Access: AccessRead},
			{Start: 5, Count: 10, Access: AccessRead},
		},
	}

	if err := validateHardwareDefinition(def); err == nil {
		t.Fatalf("expected overlap error")
	}
}

func TestValidateHardwareDefinition_TouchingRangesAllowed(t *testing.T) {
	def := &HardwareDefinition{
		RegisterBlocks: []RegisterBlock{
			{Start: 0, Count: 10, Access: AccessRead},
			{Start: 10, Count: 10, Access: AccessRead},
		},
	}

	if err := validateHardwareDefinition(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateHardwareDefinition_DifferentAccessModesMayOverlap(t *testing.T) {
	def := &HardwareDefinition{
		RegisterBlocks: []RegisterBlock{
			{Start: 0, Count: 10, Access: AccessRead},
			{Start: 0, Count: 10, Access: AccessReadWrite},
		},
	}

	if err := validateHardwareDefinition(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
