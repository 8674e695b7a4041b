package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when an invalid peer address is provided.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrMessageTooLarge is returned when a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrAddressInUse is returned when a requested port is already bound.
	ErrAddressInUse = errors.New("transport: address in use")

	// ErrNoInterface is returned when no usable IPv4 interface is found.
	ErrNoInterface = errors.New("transport: no usable network interface")
)
