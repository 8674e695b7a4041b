// Package protocol defines the admin-bus vocabulary shared by devices and
// monitors.
//
// Every bus message is an OSC message. Positional arguments (names, nonces)
// come first and are followed by a property tail of "@key value..." pairs:
//
//	/signal "/test.1/freq" @direction "input" @type "i" @length 1 @unit "Hz"
//
// A key owns every following argument up to the next "@"-prefixed string, so
// multi-valued properties such as @range carry their four values inline, with
// OSC nil standing in for an unspecified end.
//
// The package converts between these messages and the records in package db.
// It performs no I/O.
package protocol
