package protocol

import "errors"

// Protocol errors.
var (
	// ErrMalformed is returned when a bus message does not have the expected shape.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrInvalidOptions is returned when mapping options contain unknown keys or bad values.
	ErrInvalidOptions = errors.New("protocol: invalid mapping options")
)
