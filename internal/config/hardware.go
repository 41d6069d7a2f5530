package config

// Access is the read/write mode of a register block (spec.md §3
// RegisterBlock invariant: blocks on the same unit do not overlap for the
// same access mode).
type Access string

const (
	AccessRead      Access = "read"
	AccessReadWrite Access = "read_write"
)

// RegisterBlock is a contiguous range of Modbus registers scanned in one
// transaction.
type RegisterBlock struct {
	Start  uint16 `yaml:"start"`
	Count  uint16 `yaml:"count"`
	Access Access `yaml:"access"`
}

// FeatureKind discriminates the typed I/O point kinds from spec.md §3.
type FeatureKind string

const (
	KindDigitalInput  FeatureKind = "digital_input"
	KindDigitalOutput FeatureKind = "digital_output"
	KindRelayOutput   FeatureKind = "relay_output"
	KindAnalogInput   FeatureKind = "analog_input"
	KindAnalogOutput  FeatureKind = "analog_output"
	KindMeterField    FeatureKind = "meter_field"
)

// ByteOrder controls how multi-register analog/meter values are assembled.
// Resolves the Open Question in spec.md §9: byte order is declared
// per-field in the hardware definition, not inferred.
type ByteOrder string

const (
	ByteOrderBigEndian         ByteOrder = "big_endian"
	ByteOrderBigEndianWordSwap ByteOrder = "big_endian_word_swap"
)

// FeatureDef is one feature entry in a hardware definition file: a typed
// view over one or more consecutive registers, per spec.md §3.
type FeatureDef struct {
	Kind FeatureKind `yaml:"kind"`

	// Circuit identifies the slot/channel, e.g. "3_02". Combined with Kind's
	// short name this produces the stable feature id (e.g. "di_3_02").
	Circuit string `yaml:"circuit"`

	// Register is the base holding/input register address backing this
	// feature's value.
	Register uint16 `yaml:"register"`

	// Coil is the coil address used for function-code-5 writes. Nil means
	// this bit is only reachable via a packed holding-register write
	// (function code 6); the registry must not invent a read-modify-write
	// path for it (spec.md §4.C).
	Coil *uint16 `yaml:"coil"`

	// BitIndex is the bit position within Register for digital features
	// that alias into a multi-bit holding register.
	BitIndex int `yaml:"bit_index"`

	// Words is 1 for a plain u16 analog value, 2 for an IEEE-754 float32.
	Words int `yaml:"words"`

	ByteOrder ByteOrder `yaml:"byte_order"`

	// UnitOfMeasurement is the hardware-definition default; a per-feature
	// FeatureConfig override takes precedence.
	UnitOfMeasurement string `yaml:"unit_of_measurement"`
}

// HardwareDefinition is the per-model register/feature layout referenced by
// config.UnitConfig.Definition.
type HardwareDefinition struct {
	Model          string          `yaml:"model"`
	RegisterBlocks []RegisterBlock `yaml:"register_blocks"`
	Features       []FeatureDef    `yaml:"features"`
}
