package value

import "errors"

// Value errors.
var (
	// ErrTypeMismatch is returned when a value cannot be represented in the requested type.
	ErrTypeMismatch = errors.New("value: type mismatch")

	// ErrUnsupportedType is returned when a Go value has no Value representation.
	ErrUnsupportedType = errors.New("value: unsupported type")

	// ErrOutOfRange is returned when a numeric conversion would overflow the target type.
	ErrOutOfRange = errors.New("value: out of range")
)
