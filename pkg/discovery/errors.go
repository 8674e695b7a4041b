package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when a device is already being advertised.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when stopping an advertisement that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidDeviceName is returned when the device name is empty or not
	// of the form "/<base>.<ordinal>".
	ErrInvalidDeviceName = errors.New("discovery: invalid device name")

	// ErrInvalidPort is returned when the port number is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")

	// ErrServiceNotFound is returned when a requested device is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")
)
