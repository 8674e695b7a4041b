package mapper

import (
	"errors"
	"fmt"
)

// Package-level errors.
var (
	// ErrConfig is returned for invalid configuration and invalid arguments.
	// The more specific configuration errors below wrap it.
	ErrConfig = errors.New("mapper: invalid configuration")

	// ErrInvalidDeviceName is returned when a device base name is empty or
	// contains a slash or whitespace.
	ErrInvalidDeviceName = fmt.Errorf("%w: invalid device name", ErrConfig)

	// ErrInvalidPort is returned when a port is outside 0-65535.
	ErrInvalidPort = fmt.Errorf("%w: invalid port", ErrConfig)

	// ErrInvalidSignalName is returned when a signal path does not start with
	// a slash or contains whitespace.
	ErrInvalidSignalName = fmt.Errorf("%w: invalid signal name", ErrConfig)

	// ErrInvalidSignalType is returned for signal types other than int32,
	// float32 and float64.
	ErrInvalidSignalType = fmt.Errorf("%w: invalid signal type", ErrConfig)

	// ErrInvalidLength is returned when a signal length is less than 1.
	ErrInvalidLength = fmt.Errorf("%w: signal length must be at least 1", ErrConfig)

	// ErrDuplicateSignal is returned when a device already has a signal with
	// the same name.
	ErrDuplicateSignal = fmt.Errorf("%w: duplicate signal", ErrConfig)

	// ErrMissingNames is returned when a mapping request lacks a source or
	// destination name.
	ErrMissingNames = fmt.Errorf("%w: source and destination names are required", ErrConfig)

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("mapper: closed")

	// ErrValueLength is returned when an update has the wrong number of
	// elements for the signal.
	ErrValueLength = errors.New("mapper: wrong number of values")

	// ErrSignalNotFound is returned when removing a signal the device does
	// not own.
	ErrSignalNotFound = errors.New("mapper: signal not found")

	// ErrNotOutput is returned when an output-only operation is used on an
	// input.
	ErrNotOutput = errors.New("mapper: not an output")

	// ErrNotReady is returned when an operation needs a registered name.
	ErrNotReady = errors.New("mapper: device not ready")
)
