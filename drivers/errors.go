package drivers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by an optional operation the driver's
	// capabilities do not advertise. It is never fatal; callers fall
	// back or skip the operation.
	ErrNotSupported = errors.New("operation not supported by driver")

	// ErrOutOfBounds is returned by draw operations addressing pixels
	// outside the display.
	ErrOutOfBounds = errors.New("coordinates out of display bounds")

	// ErrNotInitialized is returned by I/O operations before a
	// successful Initialize.
	ErrNotInitialized = errors.New("driver not initialized")
)

// NotSupportedf wraps ErrNotSupported with the offending operation name.
func NotSupportedf(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNotSupported)
}

// IsNotSupported reports whether err is a capability gating error.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
