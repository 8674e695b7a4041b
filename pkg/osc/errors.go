package osc

import "errors"

var (
	// ErrInvalidAddress is returned when an address pattern does not start with '/'.
	ErrInvalidAddress = errors.New("osc: invalid address")

	// ErrUnexpectedEOF is returned when a packet ends in the middle of an element.
	ErrUnexpectedEOF = errors.New("osc: unexpected end of packet")

	// ErrInvalidTypeTag is returned when the type tag string is missing or malformed.
	ErrInvalidTypeTag = errors.New("osc: invalid type tag string")

	// ErrUnsupportedTag is returned for type tags this codec does not handle.
	ErrUnsupportedTag = errors.New("osc: unsupported type tag")

	// ErrUnterminatedString is returned when a string has no NUL terminator.
	ErrUnterminatedString = errors.New("osc: unterminated string")

	// ErrBundle is returned when a bundle is received; only messages are supported.
	ErrBundle = errors.New("osc: bundles not supported")
)
