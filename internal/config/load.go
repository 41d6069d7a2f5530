package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, validates and normalizes the daemon's YAML
// configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, &ConfigInvalidError{Err: err}
	}

	Normalize(&cfg)

	return &cfg, nil
}

// LoadHardwareDefinition reads one per-model hardware definition file
// (register blocks + feature layout).
func LoadHardwareDefinition(path string) (*HardwareDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hardware definition: read %s: %w", path, err)
	}

	var def HardwareDefinition

	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("hardware definition: parse %s: %w", path, err)
	}

	if err := validateHardwareDefinition(&def); err != nil {
		return nil, &ConfigInvalidError{Err: fmt.Errorf("hardware definition %s: %w", path, err)}
	}

	return &def, nil
}
