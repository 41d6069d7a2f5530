// Package modbus owns the physical Modbus links (§4.A), the in-memory
// register cache fed by the scan loop (§4.B), and the per-transport write
// queue (§4.E). It is the only package that imports goburrow/modbus.
package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/config"
)

// State is the health state of a transport (spec.md §4.A: three
// consecutive timeouts mark a transport degraded).
type State int

const (
	StateHealthy State = iota
	StateDegraded
)

func (s State) String() string {
	if s == StateDegraded {
		return "degraded"
	}
	return "healthy"
}

const (
	consecutiveTimeoutsForDegraded = 3
	initialBackoff                 = 500 * time.Millisecond
	maxBackoff                     = 30 * time.Second
)

// OnStateChange is invoked whenever a transport flips between healthy and
// degraded. Called outside the transport's internal lock.
type OnStateChange func(id string, state State)

// dialer opens one physical connection and returns the goburrow client
// plus a setSlave closure, since TCPClientHandler and RTUClientHandler are
// distinct concrete types that each expose their own SlaveId field.
type dialer func() (handler io.Closer, client gomodbus.Client, setSlave func(uint8), err error)

// Transport owns one physical Modbus link (a TCP socket to a Neuron
// coprocessor, or a serial RTU bus) and serializes every request/response
// on it: at most one outstanding frame at a time, enforced by mu.
type Transport struct {
	mu sync.Mutex

	id  string
	log *zap.Logger

	dial dialer

	handler  io.Closer
	client   gomodbus.Client
	setSlave func(uint8)

	consecutiveTimeouts int
	state               State
	backoff             time.Duration

	onStateChange OnStateChange
}

// NewTCP builds a Transport bound to a TCP Modbus endpoint (MBAP framing).
func NewTCP(log *zap.Logger, cfg config.TCPTransportConfig, onStateChange OnStateChange) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	t := &Transport{
		id:            cfg.ID,
		log:           log.With(zap.String("transport", cfg.ID), zap.String("kind", "tcp")),
		backoff:       initialBackoff,
		onStateChange: onStateChange,
	}

	t.dial = func() (io.Closer, gomodbus.Client, func(uint8), error) {
		handler := gomodbus.NewTCPClientHandler(addr)
		handler.Timeout = cfg.Timeout
		if err := handler.Connect(); err != nil {
			return nil, nil, nil, err
		}
		return handler, gomodbus.NewClient(handler), func(unit uint8) { handler.SlaveId = unit }, nil
	}

	if err := t.connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect tcp transport %q: %w", cfg.ID, err)
	}

	return t, nil
}

// NewSerial builds a Transport bound to an RS-485 RTU bus (CRC-16 framing).
func NewSerial(log *zap.Logger, cfg config.SerialTransportConfig, onStateChange OnStateChange) (*Transport, error) {
	t := &Transport{
		id:            cfg.ID,
		log:           log.With(zap.String("transport", cfg.ID), zap.String("kind", "serial")),
		backoff:       initialBackoff,
		onStateChange: onStateChange,
	}

	t.dial = func() (io.Closer, gomodbus.Client, func(uint8), error) {
		handler := gomodbus.NewRTUClientHandler(cfg.Device)
		handler.BaudRate = cfg.BaudRate
		handler.DataBits = cfg.DataBits
		handler.Parity = cfg.Parity
		handler.StopBits = cfg.StopBits
		handler.Timeout = cfg.Timeout
		if err := handler.Connect(); err != nil {
			return nil, nil, nil, err
		}
		return handler, gomodbus.NewClient(handler), func(unit uint8) { handler.SlaveId = unit }, nil
	}

	if err := t.connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect serial transport %q: %w", cfg.ID, err)
	}

	return t, nil
}

// ID returns the transport identifier from configuration.
func (t *Transport) ID() string { return t.id }

// State returns the transport's current health state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close releases the underlying connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return nil
	}
	return t.handler.Close()
}

func (t *Transport) connect() error {
	handler, client, setSlave, err := t.dial()
	if err != nil {
		return err
	}
	t.handler = handler
	t.client = client
	t.setSlave = setSlave
	return nil
}

// reconnect closes the stale handle (if any) and redials with exponential
// backoff capped at 30s. Must be called with t.mu held.
func (t *Transport) reconnect() {
	if t.handler != nil {
		_ = t.handler.Close()
		t.handler = nil
	}

	handler, client, setSlave, err := t.dial()
	if err != nil {
		t.log.Warn("modbus reconnect failed, backing off", zap.Error(err), zap.Duration("backoff", t.backoff))
		time.Sleep(t.backoff)
		t.backoff *= 2
		if t.backoff > maxBackoff {
			t.backoff = maxBackoff
		}
		return
	}

	t.handler = handler
	t.client = client
	t.setSlave = setSlave
	t.backoff = initialBackoff
	t.log.Info("modbus transport reconnected")
}

// recordResult updates timeout/degraded bookkeeping after an I/O attempt.
// Must be called with t.mu held; fires onStateChange outside the lock.
func (t *Transport) recordResult(err error) {
	wasDegraded := t.state == StateDegraded

	if err == nil {
		t.consecutiveTimeouts = 0
		t.state = StateHealthy
	} else if isTransientIOError(err) {
		t.consecutiveTimeouts++
		if t.consecutiveTimeouts >= consecutiveTimeoutsForDegraded {
			t.state = StateDegraded
		}
		t.reconnect()
	}
	// A Modbus exception response (peer rejected the frame) does not count
	// toward degraded: the link is fine, the register is not (spec.md §7).

	nowDegraded := t.state == StateDegraded

	if wasDegraded != nowDegraded {
		state := t.state
		id := t.id
		if nowDegraded {
			t.log.Warn("transport marked degraded", zap.Int("consecutive_timeouts", t.consecutiveTimeouts))
		} else {
			t.log.Info("transport recovered")
		}
		if t.onStateChange != nil {
			go t.onStateChange(id, state)
		}
	}
}

func isTransientIOError(err error) bool {
	if err == nil {
		return false
	}

	// A Modbus exception response (the peer understood the frame and
	// rejected it, e.g. illegal address/function/value) is not a transport
	// problem: the link is fine, the register is not (spec.md §7). It must
	// never count toward consecutiveTimeouts or trigger a reconnect.
	var modbusErr *gomodbus.ModbusError
	if errors.As(err, &modbusErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// goburrow/modbus surfaces closed-connection and CRC mismatches as
	// plain errors.New; both are treated as transport-level per spec.md §7
	// FramingError, which the spec says to handle like TransportIo.
	return true
}

// ---- reads ----

func (t *Transport) ReadHolding(unit uint8, start, count uint16) ([]uint16, error) {
	return t.readRegisters(unit, start, count, "read_holding", func() ([]byte, error) {
		return t.client.ReadHoldingRegisters(start, count)
	})
}

func (t *Transport) ReadInput(unit uint8, start, count uint16) ([]uint16, error) {
	return t.readRegisters(unit, start, count, "read_input", func() ([]byte, error) {
		return t.client.ReadInputRegisters(start, count)
	})
}

func (t *Transport) readRegisters(unit uint8, start, count uint16, op string, call func() ([]byte, error)) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, fmt.Errorf("modbus: transport %q not connected", t.id)
	}

	t.setSlave(unit)
	raw, err := call()
	t.recordResult(err)
	if err != nil {
		return nil, wrapErr(t.id, op, err)
	}
	return decodeRegisters(raw), nil
}

func (t *Transport) ReadCoils(unit uint8, start, count uint16) ([]bool, error) {
	return t.readBits(unit, count, "read_coils", func() ([]byte, error) {
		return t.client.ReadCoils(start, count)
	})
}

func (t *Transport) ReadDiscreteInputs(unit uint8, start, count uint16) ([]bool, error) {
	return t.readBits(unit, count, "read_discrete", func() ([]byte, error) {
		return t.client.ReadDiscreteInputs(start, count)
	})
}

func (t *Transport) readBits(unit uint8, count uint16, op string, call func() ([]byte, error)) ([]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, fmt.Errorf("modbus: transport %q not connected", t.id)
	}

	t.setSlave(unit)
	raw, err := call()
	t.recordResult(err)
	if err != nil {
		return nil, wrapErr(t.id, op, err)
	}
	return decodeBits(raw, int(count)), nil
}

// ---- writes ----

// WriteSingleCoil writes function code 5. Used when the hardware
// definition flags the bit as a coil (spec.md §4.C encoding policy).
func (t *Transport) WriteSingleCoil(unit uint8, addr uint16, value bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return fmt.Errorf("modbus: transport %q not connected", t.id)
	}

	var v uint16
	if value {
		v = 0xFF00
	}

	t.setSlave(unit)
	_, err := t.client.WriteSingleCoil(addr, v)
	t.recordResult(err)
	if err != nil {
		return wrapErr(t.id, "write_single_coil", err)
	}
	return nil
}

// WriteSingleRegister writes function code 6. Used when the bit is packed
// into a holding register value pre-packed by the hardware definition; the
// registry must supply the whole register value, never a read-modify-write
// (spec.md §4.C).
func (t *Transport) WriteSingleRegister(unit uint8, addr uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return fmt.Errorf("modbus: transport %q not connected", t.id)
	}

	t.setSlave(unit)
	_, err := t.client.WriteSingleRegister(addr, value)
	t.recordResult(err)
	if err != nil {
		return wrapErr(t.id, "write_single_register", err)
	}
	return nil
}

// wrapErr classifies a raw goburrow/modbus error into one of the typed
// error kinds spec.md §7 names, so callers downstream can tell them apart
// with errors.As instead of parsing strings.
func wrapErr(transportID, op string, err error) error {
	if err == nil {
		return nil
	}

	var modbusErr *gomodbus.ModbusError
	if errors.As(err, &modbusErr) {
		return &ModbusExceptionError{TransportID: transportID, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportIoError{TransportID: transportID, Op: op, Err: err}
	}

	// goburrow/modbus surfaces CRC/MBAP length mismatches and a closed
	// handler as plain errors.New, with no further type to switch on.
	return &FramingError{TransportID: transportID, Op: op, Err: err}
}
