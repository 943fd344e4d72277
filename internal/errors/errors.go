package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway
var (
	// Request errors
	ErrMissingField = errors.New("missing required field")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("session not connected")

	// Driver errors
	ErrDriverInit = errors.New("driver initialization failed")
	ErrDriverSend = errors.New("message send failed")
	ErrTeardown   = errors.New("driver teardown failed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
