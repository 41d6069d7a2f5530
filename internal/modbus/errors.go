package modbus

import "fmt"

// TransportIoError is a socket/serial read or write failure (spec.md §7):
// the link itself is unreliable. Distinct from ModbusExceptionError, whose
// link is fine and whose peer simply rejected the frame.
type TransportIoError struct {
	TransportID string
	Op          string
	Err         error
}

func (e *TransportIoError) Error() string {
	return fmt.Sprintf("modbus: transport=%s op=%s io error: %v", e.TransportID, e.Op, e.Err)
}

func (e *TransportIoError) Unwrap() error { return e.Err }

// ModbusExceptionError is a Modbus exception frame: the peer understood
// the request and rejected it (illegal address/function/value). The link
// is fine, the register is not (spec.md §7); it never counts toward a
// transport's degraded state or triggers a reconnect.
type ModbusExceptionError struct {
	TransportID string
	Op          string
	Err         error
}

func (e *ModbusExceptionError) Error() string {
	return fmt.Sprintf("modbus: transport=%s op=%s exception: %v", e.TransportID, e.Op, e.Err)
}

func (e *ModbusExceptionError) Unwrap() error { return e.Err }

// FramingError is a CRC or MBAP length mismatch surfaced by goburrow/modbus
// as a plain error rather than a typed one. Handled identically to
// TransportIoError (spec.md §7: "treated as TransportIo") but kept as its
// own type so a caller that cares can still tell the two apart with
// errors.As.
type FramingError struct {
	TransportID string
	Op          string
	Err         error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("modbus: transport=%s op=%s framing error: %v", e.TransportID, e.Op, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// CommandTimeoutError means a queued command sat past its deadline (3x the
// scan interval) without being dispatched; the queue drops it and the
// submitter's Handle.Wait returns this error (spec.md §7).
type CommandTimeoutError struct {
	Unit    uint8
	Address uint16
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("modbus: command unit=%d address=%d timed out waiting for dispatch", e.Unit, e.Address)
}
