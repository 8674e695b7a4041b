package mqtt

import "errors"

var (
	// ErrInvalidConfig is returned for a bridge configuration without a
	// broker or with an out-of-range QoS.
	ErrInvalidConfig = errors.New("mqtt: invalid configuration")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when publishing while the client is offline.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrAlreadyAttached is returned when attaching a bridge twice.
	ErrAlreadyAttached = errors.New("mqtt: bridge already attached to a database")
)
