package value

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

// Properties is a free-form key/value map attached to devices and signals.
// Assigning nil or an unset Value to a key removes it.
//
// Properties is not safe for concurrent use.
type Properties struct {
	m       map[string]Value
	version uint64
}

// NewProperties creates an empty property map.
func NewProperties() *Properties {
	return &Properties{m: make(map[string]Value)}
}

// Set assigns key. A nil or unset value removes the key.
func (p *Properties) Set(key string, v any) error {
	val, err := FromAny(v)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	p.SetValue(key, val)
	return nil
}

// SetValue assigns key. An unset value removes the key.
func (p *Properties) SetValue(key string, v Value) {
	if !v.IsSet() {
		p.Remove(key)
		return
	}
	if old, ok := p.m[key]; ok && old.Equal(v) {
		return
	}
	p.m[key] = v
	p.version++
}

// Merge applies every entry of kv as Set would. Entries that cannot be
// converted are skipped and reported together in the returned error.
func (p *Properties) Merge(kv map[string]any) error {
	var errs []error
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		if err := p.Set(k, kv[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (Value, bool) {
	v, ok := p.m[key]
	return v, ok
}

// Remove deletes key and reports whether it was present. Removing an
// absent key is a no-op.
func (p *Properties) Remove(key string) bool {
	if _, ok := p.m[key]; !ok {
		return false
	}
	delete(p.m, key)
	p.version++
	return true
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.m)
}

// Keys returns the keys in sorted order.
func (p *Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p.m))
}

// All iterates over the entries in key order.
func (p *Properties) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range p.Keys() {
			if !yield(k, p.m[k]) {
				return
			}
		}
	}
}

// Version increases on every mutation. Owners compare versions to decide
// whether a property change needs to be re-announced.
func (p *Properties) Version() uint64 { return p.version }

// Clone returns an independent copy.
func (p *Properties) Clone() *Properties {
	return &Properties{m: maps.Clone(p.m), version: p.version}
}

// Equal reports whether p and o hold the same entries.
func (p *Properties) Equal(o *Properties) bool {
	if p == nil || o == nil {
		return p.Len() == o.Len()
	}
	return maps.EqualFunc(p.m, o.m, Value.Equal)
}

// Map returns the entries as native Go values.
func (p *Properties) Map() map[string]any {
	out := make(map[string]any, len(p.m))
	for k, v := range p.m {
		out[k] = v.Any()
	}
	return out
}

// String formats the map as {k: v, ...} in key order.
func (p *Properties) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range p.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(p.m[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
