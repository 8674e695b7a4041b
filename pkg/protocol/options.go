package protocol

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/value"
)

// MappingOptions is a partial set of mapping properties, as carried by
// /connect and /connection/modify. Nil fields are left unchanged.
type MappingOptions struct {
	SrcName  string
	DestName string

	Mode       *db.Mode
	Expression *string
	ClipMin    *db.ClipType
	ClipMax    *db.ClipType
	// Range holds [src_min, src_max, dest_min, dest_max]. Unset entries
	// leave the corresponding end unchanged.
	Range *[4]value.Value
	Muted *bool
}

// WithMode returns a copy of o with Mode set.
func (o MappingOptions) WithMode(m db.Mode) MappingOptions { o.Mode = &m; return o }

// WithExpression returns a copy of o with Expression set.
func (o MappingOptions) WithExpression(e string) MappingOptions { o.Expression = &e; return o }

// WithClip returns a copy of o with both clip types set.
func (o MappingOptions) WithClip(lo, hi db.ClipType) MappingOptions {
	o.ClipMin, o.ClipMax = &lo, &hi
	return o
}

// WithRange returns a copy of o with Range set. nil entries are unspecified.
//
// WithRange panics if an entry is neither nil nor a number. Use
// WithRangeValues for ranges that are not known to be numeric.
func (o MappingOptions) WithRange(srcMin, srcMax, destMin, destMax any) MappingOptions {
	var r [4]value.Value
	for i, x := range []any{srcMin, srcMax, destMin, destMax} {
		v, err := value.FromAny(x)
		if err != nil || (v.IsSet() && !v.IsNumeric()) {
			panic(fmt.Sprintf("protocol: range entry %d: %v is not a number", i, x))
		}
		r[i] = v
	}
	o.Range = &r
	return o
}

// WithRangeValues returns a copy of o with Range set to r. Unset values are
// unspecified. Non-numeric entries are reported by Validate.
func (o MappingOptions) WithRangeValues(r [4]value.Value) MappingOptions {
	o.Range = &r
	return o
}

// Validate reports options that no device would accept.
func (o MappingOptions) Validate() error {
	if o.Range == nil {
		return nil
	}
	for i, v := range o.Range {
		if v.IsSet() && !v.IsNumeric() {
			return fmt.Errorf("%w: range entry %d is %s", ErrInvalidOptions, i, v.Type())
		}
	}
	return nil
}

// WithMuted returns a copy of o with Muted set.
func (o MappingOptions) WithMuted(m bool) MappingOptions { o.Muted = &m; return o }

// IsEmpty reports whether no property is set.
func (o MappingOptions) IsEmpty() bool {
	return o.Mode == nil && o.Expression == nil && o.ClipMin == nil &&
		o.ClipMax == nil && o.Range == nil && o.Muted == nil
}

// Option keys accepted by ParseMappingOptions.
const (
	OptMode       = "mode"
	OptExpression = "expression"
	OptClipMin    = "clip_min"
	OptClipMax    = "clip_max"
	OptRange      = "range"
	OptMuted      = "muted"
	OptSrcName    = "src_name"
	OptDestName   = "dest_name"
)

// ParseMappingOptions builds options from a loosely typed map, as supplied by
// scripts and configuration files. Unknown keys and values of the wrong type
// are rejected with ErrInvalidOptions.
func ParseMappingOptions(m map[string]any) (MappingOptions, error) {
	var o MappingOptions
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		x := m[k]
		var err error
		switch k {
		case OptSrcName:
			o.SrcName, err = optString(k, x)
		case OptDestName:
			o.DestName, err = optString(k, x)
		case OptExpression:
			var s string
			if s, err = optString(k, x); err == nil {
				o.Expression = &s
			}
		case OptMode:
			var mode db.Mode
			if mode, err = optMode(x); err == nil {
				o.Mode = &mode
			}
		case OptClipMin, OptClipMax:
			var c db.ClipType
			if c, err = optClip(x); err == nil {
				if k == OptClipMin {
					o.ClipMin = &c
				} else {
					o.ClipMax = &c
				}
			}
		case OptRange:
			var r [4]value.Value
			if r, err = optRange(x); err == nil {
				o.Range = &r
			}
		case OptMuted:
			b, ok := x.(bool)
			if !ok {
				err = fmt.Errorf("%w: %s must be a bool, got %T", ErrInvalidOptions, k, x)
			}
			o.Muted = &b
		default:
			err = fmt.Errorf("%w: unknown key %q", ErrInvalidOptions, k)
		}
		if err != nil {
			return MappingOptions{}, err
		}
	}
	return o, nil
}

func optString(key string, x any) (string, error) {
	s, ok := x.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOptions, key, x)
	}
	return s, nil
}

func optMode(x any) (db.Mode, error) {
	switch v := x.(type) {
	case db.Mode:
		if v.IsValid() {
			return v, nil
		}
	case string:
		m, err := db.ParseMode(v)
		if err == nil {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: bad mode %v", ErrInvalidOptions, x)
}

func optClip(x any) (db.ClipType, error) {
	switch v := x.(type) {
	case db.ClipType:
		if v.IsValid() {
			return v, nil
		}
	case string:
		c, err := db.ParseClipType(v)
		if err == nil {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: bad clip type %v", ErrInvalidOptions, x)
}

// optRange accepts any slice or array of four numbers or nils.
func optRange(x any) ([4]value.Value, error) {
	var r [4]value.Value
	rv := reflect.ValueOf(x)
	if x == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() != 4 {
		return r, fmt.Errorf("%w: range must have 4 entries, got %v", ErrInvalidOptions, x)
	}
	for i := range r {
		v, err := value.FromAny(rv.Index(i).Interface())
		if err != nil || (v.IsSet() && !v.IsNumeric()) {
			return r, fmt.Errorf("%w: range entry %d must be a number or nil", ErrInvalidOptions, i)
		}
		r[i] = v
	}
	return r, nil
}

// Props returns the wire form of the set fields.
func (o MappingOptions) Props() Props {
	p := make(Props)
	if o.Mode != nil {
		p.Set(KeyMode, value.String(o.Mode.String()))
	}
	if o.Expression != nil {
		p.Set(KeyExpression, value.String(*o.Expression))
	}
	if o.ClipMin != nil {
		p.Set(KeyClipMin, value.String(o.ClipMin.String()))
	}
	if o.ClipMax != nil {
		p.Set(KeyClipMax, value.String(o.ClipMax.String()))
	}
	if o.Range != nil {
		p.Set(KeyRange, o.Range[:]...)
	}
	if o.Muted != nil {
		p.Set(KeyMuted, value.Bool(*o.Muted))
	}
	return p
}

// OptionsFromProps decodes the mapping properties in p. Keys that are not
// mapping properties are ignored.
func OptionsFromProps(p Props) (MappingOptions, error) {
	var o MappingOptions
	r := &propReader{p: p}
	if _, ok := p[KeyMode]; ok {
		if m, err := db.ParseMode(r.str(KeyMode)); err == nil {
			o.Mode = &m
		} else {
			r.keep(fmt.Errorf("%w: %v", ErrMalformed, err))
		}
	}
	if _, ok := p[KeyExpression]; ok {
		e := r.str(KeyExpression)
		o.Expression = &e
	}
	for _, f := range []struct {
		key string
		dst **db.ClipType
	}{{KeyClipMin, &o.ClipMin}, {KeyClipMax, &o.ClipMax}} {
		if _, ok := p[f.key]; !ok {
			continue
		}
		c, err := db.ParseClipType(r.str(f.key))
		if err != nil {
			r.keep(fmt.Errorf("%w: %v", ErrMalformed, err))
			continue
		}
		*f.dst = &c
	}
	if vals, ok := p[KeyRange]; ok {
		if len(vals) != 4 {
			r.keep(fmt.Errorf("%w: @range has %d values, want 4", ErrMalformed, len(vals)))
		} else {
			var rng [4]value.Value
			for i, v := range vals {
				if v.IsSet() && !v.IsNumeric() {
					r.keep(fmt.Errorf("%w: @range value %d is %s", ErrMalformed, i, v.Type()))
				}
				rng[i] = v
			}
			o.Range = &rng
		}
	}
	if b, ok, err := p.Bool(KeyMuted); err != nil {
		r.keep(err)
	} else if ok {
		o.Muted = &b
	}
	if r.err != nil {
		return MappingOptions{}, r.err
	}
	return o, nil
}

// Apply copies the set fields into rec and reports whether anything changed.
func (o MappingOptions) Apply(rec *db.MappingRecord) bool {
	changed := false
	if o.Mode != nil && rec.Mode != *o.Mode {
		rec.Mode, changed = *o.Mode, true
	}
	if o.Expression != nil && rec.Expression != *o.Expression {
		rec.Expression, changed = *o.Expression, true
	}
	if o.ClipMin != nil && rec.ClipMin != *o.ClipMin {
		rec.ClipMin, changed = *o.ClipMin, true
	}
	if o.ClipMax != nil && rec.ClipMax != *o.ClipMax {
		rec.ClipMax, changed = *o.ClipMax, true
	}
	if o.Range != nil {
		for i, v := range o.Range {
			if v.IsSet() && !rec.Range[i].Equal(v) {
				rec.Range[i], changed = v, true
			}
		}
	}
	if o.Muted != nil && rec.Muted != *o.Muted {
		rec.Muted, changed = *o.Muted, true
	}
	return changed
}

// RequestMessage builds a /connect or /connection/modify request for the
// mapping src -> dest carrying the set fields of o.
func RequestMessage(path, src, dest string, o MappingOptions) *osc.Message {
	return o.Props().AppendTo(osc.NewMessage(path, src, dest))
}
