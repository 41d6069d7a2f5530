package mqttplane

import "fmt"

// MqttDisconnectError reports a broker connection that could not be
// (re)established within retry_limit attempts (spec.md §7 MqttDisconnect:
// "transient, reconnect per policy; fatal after retry_limit"). It is
// delivered on Plane.Errors() for a mid-run disconnect, or returned
// directly from Connect for the initial dial.
type MqttDisconnectError struct {
	Attempts int
	Err      error
}

func (e *MqttDisconnectError) Error() string {
	return fmt.Sprintf("mqtt: exhausted %d connect attempts: %v", e.Attempts, e.Err)
}

func (e *MqttDisconnectError) Unwrap() error { return e.Err }
