// Package value provides the typed scalar used for signal values, signal
// bounds and free-form record properties.
//
// A Value is a small tagged union. The zero Value is "unset": it is what a
// cleared minimum or maximum reads back as, and assigning it to a property
// removes the key.
package value

import "fmt"

// Type identifies the representation of a Value. The byte values double as
// OSC type tags for the numeric and string kinds.
type Type byte

const (
	// TypeUnset is the type of the zero Value.
	TypeUnset Type = 0
	// TypeInt32 is a 32-bit signed integer.
	TypeInt32 Type = 'i'
	// TypeInt64 is a 64-bit signed integer.
	TypeInt64 Type = 'h'
	// TypeFloat32 is a 32-bit float.
	TypeFloat32 Type = 'f'
	// TypeFloat64 is a 64-bit float.
	TypeFloat64 Type = 'd'
	// TypeString is a UTF-8 string.
	TypeString Type = 's'
	// TypeBool is a boolean.
	TypeBool Type = 'b'
)

// String returns the single-character tag of the type, or "unset".
func (t Type) String() string {
	switch t {
	case TypeInt32, TypeInt64, TypeFloat32, TypeFloat64, TypeString, TypeBool:
		return string(rune(t))
	case TypeUnset:
		return "unset"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// IsValid returns true if t is a known type other than TypeUnset.
func (t Type) IsValid() bool {
	switch t {
	case TypeInt32, TypeInt64, TypeFloat32, TypeFloat64, TypeString, TypeBool:
		return true
	}
	return false
}

// IsNumeric returns true for the integer and float types.
func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsInteger returns true for TypeInt32 and TypeInt64.
func (t Type) IsInteger() bool {
	return t == TypeInt32 || t == TypeInt64
}

// IsFloat returns true for TypeFloat32 and TypeFloat64.
func (t Type) IsFloat() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// IsSignalType returns true if t may be used as the type of a signal.
func (t Type) IsSignalType() bool {
	return t == TypeInt32 || t == TypeFloat32 || t == TypeFloat64
}

// ParseType parses a type tag ("i", "f", "d", ...) or a long name
// ("int32", "float", "double", ...).
func ParseType(s string) (Type, error) {
	switch s {
	case "i", "int", "int32":
		return TypeInt32, nil
	case "h", "int64":
		return TypeInt64, nil
	case "f", "float", "float32":
		return TypeFloat32, nil
	case "d", "double", "float64":
		return TypeFloat64, nil
	case "s", "string":
		return TypeString, nil
	case "b", "bool":
		return TypeBool, nil
	}
	return TypeUnset, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}
