package adapter

import "fmt"

// LengthMismatchError reports a shift request whose TMS and TDI vectors have
// different lengths. It is raised before any hardware interaction.
type LengthMismatchError struct {
	TMSLen int
	TDILen int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("adapter: tms length %d does not match tdi length %d", e.TMSLen, e.TDILen)
}

// TransportError reports a failed hardware command. The in-flight SendData
// call is aborted when one occurs and TAP state is indeterminate afterward;
// recovery is the caller's responsibility.
type TransportError struct {
	Op  string // "tdi-run" or "tms-run"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("adapter: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid or unachievable clock configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adapter: %s: %v", e.Reason, e.Err)
	}
	return "adapter: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
