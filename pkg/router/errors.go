package router

import "errors"

// Router errors.
var (
	// ErrLengthMismatch is returned when source and destination vector lengths differ.
	ErrLengthMismatch = errors.New("router: source and destination lengths differ")

	// ErrNotNumeric is returned when a mapping endpoint has a non-numeric type.
	ErrNotNumeric = errors.New("router: signal type is not numeric")

	// ErrMappingExists is returned when adding a mapping that is already routed.
	ErrMappingExists = errors.New("router: mapping already exists")
)
