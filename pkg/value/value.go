package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is an immutable typed scalar. The zero Value is unset.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   bool
}

// Unset returns the unset Value.
func Unset() Value { return Value{} }

// Int32 returns an int32 Value.
func Int32(v int32) Value { return Value{typ: TypeInt32, i: int64(v)} }

// Int64 returns an int64 Value.
func Int64(v int64) Value { return Value{typ: TypeInt64, i: v} }

// Float32 returns a float32 Value.
func Float32(v float32) Value { return Value{typ: TypeFloat32, f: float64(v)} }

// Float64 returns a float64 Value.
func Float64(v float64) Value { return Value{typ: TypeFloat64, f: v} }

// String returns a string Value.
func String(v string) Value { return Value{typ: TypeString, s: v} }

// Bool returns a bool Value.
func Bool(v bool) Value { return Value{typ: TypeBool, b: v} }

// FromAny converts a Go value into a Value. nil maps to the unset Value.
// Plain Go ints become int32 when they fit and int64 otherwise; float64
// stays float64.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Value{}, nil
		}
		return *x, nil
	case int:
		return fromInt64(int64(x)), nil
	case int8:
		return Int32(int32(x)), nil
	case int16:
		return Int32(int32(x)), nil
	case int32:
		return Int32(x), nil
	case int64:
		return Int64(x), nil
	case uint8:
		return Int32(int32(x)), nil
	case uint16:
		return Int32(int32(x)), nil
	case uint32:
		return fromInt64(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, ErrOutOfRange
		}
		return fromInt64(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, ErrOutOfRange
		}
		return fromInt64(int64(x)), nil
	case float32:
		return Float32(x), nil
	case float64:
		return Float64(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func fromInt64(v int64) Value {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return Int32(int32(v))
	}
	return Int64(v)
}

// Type returns the type of v.
func (v Value) Type() Type { return v.typ }

// IsSet returns false for the unset Value.
func (v Value) IsSet() bool { return v.typ != TypeUnset }

// IsNumeric returns true if v holds an integer or float.
func (v Value) IsNumeric() bool { return v.typ.IsNumeric() }

// Int64 returns v as an int64. Floats are truncated toward zero.
func (v Value) Int64() (int64, bool) {
	switch {
	case v.typ.IsInteger():
		return v.i, true
	case v.typ.IsFloat():
		return int64(v.f), true
	}
	return 0, false
}

// Float64 returns v as a float64.
func (v Value) Float64() (float64, bool) {
	switch {
	case v.typ.IsInteger():
		return float64(v.i), true
	case v.typ.IsFloat():
		return v.f, true
	}
	return 0, false
}

// Text returns the string held by a string Value.
func (v Value) Text() (string, bool) {
	if v.typ != TypeString {
		return "", false
	}
	return v.s, true
}

// Truth returns the bool held by a bool Value.
func (v Value) Truth() (bool, bool) {
	if v.typ != TypeBool {
		return false, false
	}
	return v.b, true
}

// Any returns v as the closest native Go value, or nil if unset.
func (v Value) Any() any {
	switch v.typ {
	case TypeInt32:
		return int32(v.i)
	case TypeInt64:
		return v.i
	case TypeFloat32:
		return float32(v.f)
	case TypeFloat64:
		return v.f
	case TypeString:
		return v.s
	case TypeBool:
		return v.b
	}
	return nil
}

// Coerce converts v to type t. Numeric types convert between each other
// (floats truncate toward zero when narrowed to integers); any other
// conversion fails with ErrTypeMismatch. Unset converts to unset.
func (v Value) Coerce(t Type) (Value, error) {
	if v.typ == t || !v.IsSet() {
		return v, nil
	}
	if !v.typ.IsNumeric() || !t.IsNumeric() {
		return v, fmt.Errorf("%w: %s to %s", ErrTypeMismatch, v.typ, t)
	}

	f, _ := v.Float64()
	switch t {
	case TypeInt32:
		if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return v, ErrOutOfRange
		}
		if v.typ.IsInteger() {
			return Int32(int32(v.i)), nil
		}
		return Int32(int32(f)), nil
	case TypeInt64:
		if v.typ.IsInteger() {
			return Int64(v.i), nil
		}
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return v, ErrOutOfRange
		}
		return Int64(int64(f)), nil
	case TypeFloat32:
		return Float32(float32(f)), nil
	default:
		return Float64(f), nil
	}
}

// Equal reports whether v and o have the same type and contents. Floats
// compare by bit pattern, so a NaN equals itself.
func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && v.i == o.i && v.s == o.s && v.b == o.b &&
		math.Float64bits(v.f) == math.Float64bits(o.f)
}

// String formats v for logs and CLI output.
func (v Value) String() string {
	switch v.typ {
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeBool:
		return strconv.FormatBool(v.b)
	}
	return "unset"
}

// Vector converts a list of Go values into Values of type t.
func Vector(t Type, vals ...any) ([]Value, error) {
	out := make([]Value, len(vals))
	for i, x := range vals {
		v, err := FromAny(x)
		if err != nil {
			return nil, err
		}
		if !v.IsSet() {
			return nil, fmt.Errorf("%w: element %d is unset", ErrTypeMismatch, i)
		}
		if out[i], err = v.Coerce(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}
