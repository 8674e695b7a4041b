package db

import "fmt"

// Action describes why a callback fired. The numeric values are part of
// the external interface and must not be reordered.
type Action int

const (
	// ActionModify indicates an existing record changed.
	ActionModify Action = 0
	// ActionNew indicates a record was seen for the first time.
	ActionNew Action = 1
	// ActionRemove indicates a record was removed.
	ActionRemove Action = 2
)

// String returns the upper-case action name.
func (a Action) String() string {
	switch a {
	case ActionModify:
		return "MODIFY"
	case ActionNew:
		return "NEW"
	case ActionRemove:
		return "REMOVE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Direction is the direction of a signal relative to its device.
type Direction int

const (
	// DirectionInput marks a signal that receives values.
	DirectionInput Direction = iota
	// DirectionOutput marks a signal that produces values.
	DirectionOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// ParseDirection parses "input" or "output".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "input":
		return DirectionInput, nil
	case "output":
		return DirectionOutput, nil
	}
	return DirectionInput, fmt.Errorf("unknown direction %q", s)
}

// Mode selects how a mapping transforms source values.
type Mode int

const (
	// ModeUndefined is the mode of a freshly created mapping.
	ModeUndefined Mode = iota
	// ModeRaw passes values through unchanged.
	ModeRaw
	// ModeLinear scales the source range onto the destination range.
	ModeLinear
	// ModeExpression evaluates the mapping expression.
	ModeExpression
	// ModeCalibrate learns the source range from observed values.
	ModeCalibrate
)

var modeNames = map[Mode]string{
	ModeUndefined:  "undefined",
	ModeRaw:        "raw",
	ModeLinear:     "linear",
	ModeExpression: "expression",
	ModeCalibrate:  "calibrate",
}

// String returns the wire name of the mode.
func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// IsValid returns true if m is a known mode.
func (m Mode) IsValid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode parses a wire mode name.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeUndefined, fmt.Errorf("unknown mode %q", s)
}

// ClipType selects what happens to values outside the destination range.
type ClipType int

const (
	// ClipNone lets out-of-range values through.
	ClipNone ClipType = iota
	// ClipMute drops out-of-range values.
	ClipMute
	// ClipClamp limits values to the range boundary.
	ClipClamp
	// ClipWrap wraps values around to the opposite boundary.
	ClipWrap
)

var clipNames = map[ClipType]string{
	ClipNone:  "none",
	ClipMute:  "mute",
	ClipClamp: "clamp",
	ClipWrap:  "wrap",
}

// String returns the wire name of the clip type.
func (c ClipType) String() string {
	if s, ok := clipNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ClipType(%d)", int(c))
}

// IsValid returns true if c is a known clip type.
func (c ClipType) IsValid() bool {
	_, ok := clipNames[c]
	return ok
}

// ParseClipType parses a wire clip type name.
func ParseClipType(s string) (ClipType, error) {
	for c, name := range clipNames {
		if name == s {
			return c, nil
		}
	}
	return ClipNone, fmt.Errorf("unknown clip type %q", s)
}
