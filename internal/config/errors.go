package config

import "fmt"

// ConfigInvalidError marks an error as fatal-at-startup configuration
// rejection (spec.md §7 ConfigInvalid): the process must not proceed past
// it, but it is never encountered mid-run. Load and LoadHardwareDefinition
// wrap every validation failure in one of these so callers can recognize
// the kind with errors.As instead of matching on Validate's wording.
type ConfigInvalidError struct {
	Err error
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("config: invalid: %v", e.Err)
}

func (e *ConfigInvalidError) Unwrap() error { return e.Err }
