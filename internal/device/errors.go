package device

import "fmt"

// ErrKind is a stable, closed error identifier for the adapter boundary.
// It is a string newtype, comparable, allocation-free, and implements
// error, so call sites wrap it with fmt.Errorf("...: %w", kind) and
// callers match it with errors.Is. No vendor-specific error type ever
// crosses the device boundary.
type ErrKind string

func (k ErrKind) Error() string { return string(k) }

const (
	// ErrValidation: malformed input (bad trigger line/edge, nil
	// output pointer, unknown pixel type).
	ErrValidation ErrKind = "validation"

	// ErrHardwareQuery: the device reports a capability in a form the
	// adapter cannot interpret (e.g. wrong exposure time unit).
	ErrHardwareQuery ErrKind = "hardware_query"

	// ErrHardwareCommand: the underlying SDK command or query failed.
	ErrHardwareCommand ErrKind = "hardware_command"

	// ErrCapacity: caller-supplied frame buffer smaller than the
	// delivered frame.
	ErrCapacity ErrKind = "capacity"
)

// Errorf wraps kind with a formatted message so that
// errors.Is(err, kind) holds on the result.
func Errorf(kind ErrKind, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}
