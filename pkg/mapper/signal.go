package mapper

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/router"
	"github.com/backkem/mapper/pkg/value"
)

// InputHandler is called during Device.Poll when a value arrives for an
// input signal. vals has the signal's length and type.
type InputHandler func(sig *Signal, vals []value.Value)

// Signal is a typed, named value stream owned by a Device.
type Signal struct {
	dev       *Device
	name      string
	direction db.Direction
	typ       value.Type
	length    int
	unit      string
	minimum   value.Value
	maximum   value.Value
	props     *value.Properties
	handler   InputHandler

	// queryHandler receives replies to Query on an output.
	queryHandler InputHandler

	// value is the last value received or set.
	value []value.Value
}

func newSignal(dev *Device, dir db.Direction, name string, typ value.Type, length int, unit string, handler InputHandler) (*Signal, error) {
	if !strings.HasPrefix(name, "/") || len(name) < 2 || strings.ContainsFunc(name, unicode.IsSpace) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignalName, name)
	}
	if !typ.IsSignalType() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignalType, typ)
	}
	if length < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	return &Signal{
		dev:       dev,
		name:      name,
		direction: dir,
		typ:       typ,
		length:    length,
		unit:      unit,
		props:     value.NewProperties(),
		handler:   handler,
	}, nil
}

// Name returns the signal's path within its device, e.g. "/freq".
func (s *Signal) Name() string { return s.name }

// FullName returns "<device name><signal name>", e.g. "/test.1/freq".
// It is empty until the device is ready.
func (s *Signal) FullName() string {
	dev := s.dev.Name()
	if dev == "" {
		return ""
	}
	return dev + s.name
}

// Device returns the owning device.
func (s *Signal) Device() *Device { return s.dev }

// IsOutput reports whether the signal is an output.
func (s *Signal) IsOutput() bool { return s.direction == db.DirectionOutput }

// Direction returns the signal direction.
func (s *Signal) Direction() db.Direction { return s.direction }

// Type returns the element type.
func (s *Signal) Type() value.Type { return s.typ }

// Length returns the number of elements per sample.
func (s *Signal) Length() int { return s.length }

// Unit returns the unit string.
func (s *Signal) Unit() string { return s.unit }

// SetUnit changes the unit string.
func (s *Signal) SetUnit(unit string) { s.unit = unit }

// Minimum returns the lower bound, or an unset Value if there is none.
func (s *Signal) Minimum() value.Value { return s.minimum }

// Maximum returns the upper bound, or an unset Value if there is none.
func (s *Signal) Maximum() value.Value { return s.maximum }

// SetMinimum sets the lower bound. nil clears it. Numeric values are
// coerced to the signal type, so 34.0 on an int32 signal becomes 34.
// Non-numeric values leave the bound unchanged and return
// value.ErrTypeMismatch.
func (s *Signal) SetMinimum(v any) error {
	b, err := s.bound(v)
	if err != nil {
		return fmt.Errorf("minimum of %s: %w", s.name, err)
	}
	s.minimum = b
	s.boundsChanged()
	return nil
}

// SetMaximum sets the upper bound. See SetMinimum.
func (s *Signal) SetMaximum(v any) error {
	b, err := s.bound(v)
	if err != nil {
		return fmt.Errorf("maximum of %s: %w", s.name, err)
	}
	s.maximum = b
	s.boundsChanged()
	return nil
}

func (s *Signal) bound(v any) (value.Value, error) {
	b, err := value.FromAny(v)
	if err != nil {
		return value.Value{}, err
	}
	if !b.IsSet() {
		return b, nil
	}
	if !b.IsNumeric() {
		return value.Value{}, fmt.Errorf("%w: %s bound on %s signal", value.ErrTypeMismatch, b.Type(), s.typ)
	}
	return b.Coerce(s.typ)
}

func (s *Signal) boundsChanged() {
	if s.IsOutput() && s.dev.state.IsReady() {
		s.dev.router.SetSourceBounds(s.FullName(), s.minimum, s.maximum)
	}
}

// Properties returns the signal's live property map. Setting a key to nil
// removes it. Changes are announced on the next poll.
func (s *Signal) Properties() *value.Properties { return s.props }

// Value returns a copy of the last value, or nil if there is none.
func (s *Signal) Value() []value.Value { return slices.Clone(s.value) }

// Update sets the signal's value. vals are coerced to the signal type and
// must match its length. Updating a ready output routes the value through
// every mapping that starts at it.
func (s *Signal) Update(vals ...any) error {
	vec, err := value.Vector(s.typ, vals...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", s.name, err)
	}
	if len(vec) != s.length {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrValueLength, s.name, s.length, len(vec))
	}
	s.value = vec
	if s.IsOutput() {
		s.dev.route(s)
	}
	return nil
}

// SetQueryHandler sets the handler that receives the replies to Query.
func (s *Signal) SetQueryHandler(h InputHandler) { s.queryHandler = h }

// Query asks the destination of every mapping from this output for its
// current value. Replies arrive during Device.Poll through the query
// handler; a destination without a value replies with an empty vector.
// It returns the number of queries sent.
func (s *Signal) Query() (int, error) {
	if !s.IsOutput() {
		return 0, fmt.Errorf("%w: %s is an input", ErrNotOutput, s.name)
	}
	d := s.dev
	if !d.Ready() {
		return 0, ErrNotReady
	}
	n := d.router.Query(s.FullName(), s.name+protocol.SuffixGot, d.sendData)
	d.metrics.MessagesSent(d.component(), n)
	return n, nil
}

// queried runs the query handler for one reply.
func (s *Signal) queried(args []value.Value) {
	if s.queryHandler == nil {
		return
	}
	vals := make([]value.Value, 0, len(args))
	for _, a := range args {
		if v, err := a.Coerce(s.typ); err == nil {
			vals = append(vals, v)
		}
	}
	s.runHandler(s.queryHandler, vals)
}

// record returns the announcement form of the signal.
func (s *Signal) record() *db.SignalRecord {
	return &db.SignalRecord{
		DeviceName: s.dev.Name(),
		Name:       s.name,
		Direction:  s.direction,
		Type:       s.typ,
		Length:     s.length,
		Unit:       s.unit,
		Minimum:    s.minimum,
		Maximum:    s.maximum,
		Properties: s.props.Clone(),
	}
}

// info returns the routing description of the signal.
func (s *Signal) info() router.SignalInfo {
	return router.SignalInfo{Type: s.typ, Length: s.length, Minimum: s.minimum, Maximum: s.maximum}
}

// deliver stores an incoming sample and runs the handler.
func (s *Signal) deliver(vals []value.Value) {
	s.value = vals
	if s.handler != nil {
		s.runHandler(s.handler, slices.Clone(vals))
	}
}

// runHandler calls h, recovering a panic.
func (s *Signal) runHandler(h InputHandler, vals []value.Value) {
	defer func() {
		if r := recover(); r != nil {
			d := s.dev
			if d.log != nil {
				d.log.Errorf("Handler for %s panicked: %v", s.name, r)
			}
			d.metrics.HandlerPanic("signal")
		}
	}()
	h(s, vals)
}
