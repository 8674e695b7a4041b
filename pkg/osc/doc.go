// Package osc encodes and decodes Open Sound Control 1.0 messages.
//
// Only plain messages are handled (no bundles, no time tags). Arguments are
// carried as value.Value:
//
//	'i' int32     value.TypeInt32
//	'h' int64     value.TypeInt64
//	'f' float32   value.TypeFloat32
//	'd' float64   value.TypeFloat64
//	's' string    value.TypeString
//	'T' / 'F'     value.TypeBool
//	'N' nil       unset value
//
// All numeric fields are big-endian and every element is padded to a
// multiple of four bytes.
package osc
