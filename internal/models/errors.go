package models

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the domain taxonomy. The HTTP layer maps
// ErrNotFound to 404, ErrValidation to 400 and everything else to 500;
// ErrCancelled never surfaces over HTTP, it selects the CANCELED terminal
// state at the worker boundary.
var (
	// ErrNotFound indicates a missing task, stream, output, or a failed
	// HLS resolution.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation indicates malformed or missing submission parameters.
	ErrValidation = errors.New("validation error")

	// ErrExternal indicates a failure in an external collaborator
	// (directory API, subprocess, codec).
	ErrExternal = errors.New("external failure")

	// ErrCancelled is the cooperative-cancellation sentinel observed by
	// drivers at suspension points.
	ErrCancelled = errors.New("task cancelled")

	// ErrTerminalState indicates an attempted transition out of a
	// terminal task state.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrDuplicateID indicates an identity collision on add.
	ErrDuplicateID = errors.New("duplicate id")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Externalf wraps ErrExternal with a formatted message.
func Externalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExternal, fmt.Sprintf(format, args...))
}
