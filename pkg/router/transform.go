package router

import (
	"math"
	"strings"
	"unicode"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/value"
)

// SignalInfo describes one end of a mapping.
type SignalInfo struct {
	Type    value.Type
	Length  int
	Minimum value.Value
	Maximum value.Value
}

// IsIdentityExpression reports whether expr is "y=x", ignoring whitespace.
func IsIdentityExpression(expr string) bool {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, expr) == "y=x"
}

// bound returns the range entry at i, falling back to the signal bound.
func bound(rng [4]value.Value, i int, fallback value.Value) (float64, bool) {
	if f, ok := rng[i].Float64(); ok {
		return f, true
	}
	return fallback.Float64()
}

// scale maps x from [sMin, sMax] onto [dMin, dMax]. A degenerate source
// range yields dMin.
func scale(x, sMin, sMax, dMin, dMax float64) float64 {
	if sMax == sMin {
		return dMin
	}
	return (x-sMin)*(dMax-dMin)/(sMax-sMin) + dMin
}

// clip applies the clip types of rec to y against [lo, hi]. ok is false when
// the sample must be dropped.
func clip(y float64, clipMin, clipMax db.ClipType, lo, hi float64, haveLo, haveHi bool) (float64, bool) {
	if haveLo && haveHi && lo > hi {
		lo, hi = hi, lo
	}
	if haveLo && y < lo {
		switch clipMin {
		case db.ClipMute:
			return 0, false
		case db.ClipClamp:
			return lo, true
		case db.ClipWrap:
			if haveHi {
				return wrap(y, lo, hi), true
			}
		}
	}
	if haveHi && y > hi {
		switch clipMax {
		case db.ClipMute:
			return 0, false
		case db.ClipClamp:
			return hi, true
		case db.ClipWrap:
			if haveLo {
				return wrap(y, lo, hi), true
			}
		}
	}
	return y, true
}

// wrap folds y into [lo, hi).
func wrap(y, lo, hi float64) float64 {
	w := hi - lo
	if w == 0 {
		return lo
	}
	m := math.Mod(y-lo, w)
	if m < 0 {
		m += w
	}
	return lo + m
}
