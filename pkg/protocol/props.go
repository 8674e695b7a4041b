package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/value"
)

// Props is a decoded "@key value..." property tail. Keys are stored without
// the leading "@".
type Props map[string][]value.Value

// DecodeProps parses a property tail. A string starting with "@" opens a new
// key unless it is the first value of the current key. Every key needs at
// least one value, and a value before the first key is an error.
func DecodeProps(args []value.Value) (Props, error) {
	p := make(Props)
	key := ""
	for i, a := range args {
		if s, ok := a.Text(); ok && strings.HasPrefix(s, "@") && (key == "" || len(p[key]) > 0) {
			key = s[1:]
			if key == "" {
				return nil, fmt.Errorf("%w: empty property key at argument %d", ErrMalformed, i)
			}
			p[key] = nil
			continue
		}
		if key == "" {
			return nil, fmt.Errorf("%w: value %s before first property key", ErrMalformed, a)
		}
		p[key] = append(p[key], a)
	}
	if key != "" && len(p[key]) == 0 {
		return nil, fmt.Errorf("%w: property @%s has no value", ErrMalformed, key)
	}
	return p, nil
}

// Set replaces the values of key.
func (p Props) Set(key string, vals ...value.Value) {
	p[key] = vals
}

// Value returns the first value of key.
func (p Props) Value(key string) (value.Value, bool) {
	vals, ok := p[key]
	if !ok || len(vals) == 0 {
		return value.Value{}, false
	}
	return vals[0], true
}

// String returns key as a string. ok is false if the key is absent; err is
// set if it is present with another type.
func (p Props) String(key string) (s string, ok bool, err error) {
	v, ok := p.Value(key)
	if !ok {
		return "", false, nil
	}
	s, isString := v.Text()
	if !isString {
		return "", true, fmt.Errorf("%w: @%s is %s, want string", ErrMalformed, key, v.Type())
	}
	return s, true, nil
}

// Int returns key as an int. Floats are truncated.
func (p Props) Int(key string) (n int, ok bool, err error) {
	v, ok := p.Value(key)
	if !ok {
		return 0, false, nil
	}
	i, isNum := v.Int64()
	if !isNum {
		return 0, true, fmt.Errorf("%w: @%s is %s, want number", ErrMalformed, key, v.Type())
	}
	return int(i), true, nil
}

// Bool returns key as a bool. Numbers are true when non-zero.
func (p Props) Bool(key string) (b bool, ok bool, err error) {
	v, ok := p.Value(key)
	if !ok {
		return false, false, nil
	}
	if b, isBool := v.Truth(); isBool {
		return b, true, nil
	}
	if i, isNum := v.Int64(); isNum {
		return i != 0, true, nil
	}
	return false, true, fmt.Errorf("%w: @%s is %s, want bool", ErrMalformed, key, v.Type())
}

// Keys returns the keys in sorted order.
func (p Props) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendTo appends the properties to msg in sorted key order.
func (p Props) AppendTo(msg *osc.Message) *osc.Message {
	for _, k := range p.Keys() {
		msg.AppendValue(value.String("@" + k))
		msg.AppendValue(p[k]...)
	}
	return msg
}

// mergeCustom copies the non-reserved entries of p into props. Custom
// properties are single valued; extra values are ignored.
func (p Props) mergeCustom(props *value.Properties, reserved map[string]bool) {
	for _, k := range p.Keys() {
		if reserved[k] {
			continue
		}
		if v, ok := p.Value(k); ok {
			props.SetValue(k, v)
		}
	}
}

// addCustom copies the entries of props that do not collide with reserved
// keys.
func (p Props) addCustom(props *value.Properties, reserved map[string]bool) {
	if props == nil {
		return
	}
	for k, v := range props.All() {
		if reserved[k] || k == "" {
			continue
		}
		p.Set(k, v)
	}
}

// propReader reads typed properties and keeps the first error.
type propReader struct {
	p   Props
	err error
}

func (r *propReader) str(key string) string {
	s, _, err := r.p.String(key)
	r.keep(err)
	return s
}

func (r *propReader) int(key string) (int, bool) {
	n, ok, err := r.p.Int(key)
	r.keep(err)
	return n, ok
}

func (r *propReader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}
