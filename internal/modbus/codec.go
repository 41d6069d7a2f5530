package modbus

// decodeRegisters unpacks the big-endian, 2-bytes-per-register wire format
// goburrow/modbus hands back from ReadHoldingRegisters/ReadInputRegisters.
func decodeRegisters(raw []byte) []uint16 {
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return out
}

// decodeBits unpacks the packed-bit wire format (LSB of byte 0 is the
// first coil/discrete input) goburrow/modbus hands back from
// ReadCoils/ReadDiscreteInputs, truncated to count entries.
func decodeBits(raw []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		b := raw[i/8]
		out[i] = b&(1<<uint(i%8)) != 0
	}
	return out
}

// encodeRegister packs one 16-bit holding register value for a write.
func encodeRegister(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
