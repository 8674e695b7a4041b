package db

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/backkem/mapper/pkg/value"
	"golang.org/x/crypto/blake2b"
)

// DeviceRecord mirrors a device announced on the bus.
type DeviceRecord struct {
	Name       string // e.g. "/test.1"
	Ordinal    int
	Host       string
	Port       int
	Interface  string
	NumInputs  int
	NumOutputs int
	Properties *value.Properties
}

// Clone returns a deep copy.
func (d *DeviceRecord) Clone() *DeviceRecord {
	c := *d
	if d.Properties != nil {
		c.Properties = d.Properties.Clone()
	}
	return &c
}

// Equal reports whether d and o describe the same device state.
func (d *DeviceRecord) Equal(o *DeviceRecord) bool {
	if d == nil || o == nil {
		return d == o
	}
	a, b := *d, *o
	a.Properties, b.Properties = nil, nil
	return a == b && d.Properties.Equal(o.Properties)
}

// String formats the record for logs and CLI output.
func (d *DeviceRecord) String() string {
	return fmt.Sprintf("<device %s host=%s port=%d ordinal=%d inputs=%d outputs=%d %s>",
		d.Name, d.Host, d.Port, d.Ordinal, d.NumInputs, d.NumOutputs, d.Properties)
}

// SignalRecord mirrors a signal announced by a device.
type SignalRecord struct {
	DeviceName string
	Name       string // e.g. "/freq"
	Direction  Direction
	Type       value.Type
	Length     int
	Unit       string
	Minimum    value.Value
	Maximum    value.Value
	Properties *value.Properties
}

// FullName returns the device name joined with the signal name.
func (s *SignalRecord) FullName() string {
	return s.DeviceName + s.Name
}

// IsOutput reports whether the signal is an output.
func (s *SignalRecord) IsOutput() bool {
	return s.Direction == DirectionOutput
}

// Clone returns a deep copy.
func (s *SignalRecord) Clone() *SignalRecord {
	c := *s
	if s.Properties != nil {
		c.Properties = s.Properties.Clone()
	}
	return &c
}

// Equal reports whether s and o describe the same signal state.
func (s *SignalRecord) Equal(o *SignalRecord) bool {
	if s == nil || o == nil {
		return s == o
	}
	a, b := *s, *o
	a.Properties, b.Properties = nil, nil
	a.Minimum, b.Minimum = value.Value{}, value.Value{}
	a.Maximum, b.Maximum = value.Value{}, value.Value{}
	return a == b && s.Minimum.Equal(o.Minimum) && s.Maximum.Equal(o.Maximum) &&
		s.Properties.Equal(o.Properties)
}

// String formats the record for logs and CLI output.
func (s *SignalRecord) String() string {
	return fmt.Sprintf("<signal %s %s type=%s length=%d unit=%q min=%s max=%s %s>",
		s.FullName(), s.Direction, s.Type, s.Length, s.Unit, s.Minimum, s.Maximum, s.Properties)
}

// LinkRecord is the device-to-device relationship implied by mappings.
type LinkRecord struct {
	SrcName  string
	DestName string
	ID       uint64
}

// NewLinkRecord creates a link record with its ID filled in.
func NewLinkRecord(src, dest string) *LinkRecord {
	return &LinkRecord{SrcName: src, DestName: dest, ID: PairID(src, dest)}
}

// Clone returns a copy.
func (l *LinkRecord) Clone() *LinkRecord {
	c := *l
	return &c
}

// String formats the record for logs and CLI output.
func (l *LinkRecord) String() string {
	return fmt.Sprintf("<link %s -> %s id=%016x>", l.SrcName, l.DestName, l.ID)
}

// MappingRecord is a directed connection between two signals.
type MappingRecord struct {
	SrcName    string // full source signal name
	DestName   string // full destination signal name
	SrcType    value.Type
	DestType   value.Type
	SrcLength  int
	DestLength int
	Mode       Mode
	Expression string
	// Range is [src_min, src_max, dest_min, dest_max]; unset entries mean
	// "not specified".
	Range   [4]value.Value
	ClipMin ClipType
	ClipMax ClipType
	Muted   bool
	ID      uint64
}

// DefaultExpression is the expression of a freshly created mapping.
const DefaultExpression = "y=x"

// NewMappingRecord creates a mapping record with default properties.
func NewMappingRecord(src, dest string) *MappingRecord {
	return &MappingRecord{
		SrcName:    src,
		DestName:   dest,
		Mode:       ModeUndefined,
		Expression: DefaultExpression,
		ClipMin:    ClipNone,
		ClipMax:    ClipNone,
		ID:         PairID(src, dest),
	}
}

// SrcDevice returns the device part of the source name.
func (m *MappingRecord) SrcDevice() string { return DeviceOf(m.SrcName) }

// DestDevice returns the device part of the destination name.
func (m *MappingRecord) DestDevice() string { return DeviceOf(m.DestName) }

// Clone returns a copy.
func (m *MappingRecord) Clone() *MappingRecord {
	c := *m
	return &c
}

// Equal reports whether m and o describe the same mapping state.
func (m *MappingRecord) Equal(o *MappingRecord) bool {
	if m == nil || o == nil {
		return m == o
	}
	a, b := *m, *o
	a.Range, b.Range = [4]value.Value{}, [4]value.Value{}
	if a != b {
		return false
	}
	for i := range m.Range {
		if !m.Range[i].Equal(o.Range[i]) {
			return false
		}
	}
	return true
}

// String formats the record for logs and CLI output.
func (m *MappingRecord) String() string {
	return fmt.Sprintf("<mapping %s -> %s mode=%s expr=%q range=[%s %s %s %s] clip=%s/%s muted=%t>",
		m.SrcName, m.DestName, m.Mode, m.Expression,
		m.Range[0], m.Range[1], m.Range[2], m.Range[3], m.ClipMin, m.ClipMax, m.Muted)
}

// PairID derives a stable 64-bit identifier for an ordered pair of names
// from the first eight bytes of their BLAKE2b-256 digest.
func PairID(src, dest string) uint64 {
	sum := blake2b.Sum256([]byte(src + " -> " + dest))
	return binary.BigEndian.Uint64(sum[:8])
}

// DeviceOf returns the device part of a full signal name:
// "/test.1/freq" -> "/test.1". Names without a second slash are returned
// unchanged.
func DeviceOf(fullName string) string {
	if len(fullName) < 2 {
		return fullName
	}
	if i := strings.IndexByte(fullName[1:], '/'); i >= 0 {
		return fullName[:i+1]
	}
	return fullName
}

// SignalOf returns the signal part of a full signal name:
// "/test.1/freq" -> "/freq". It returns "" when there is no signal part.
func SignalOf(fullName string) string {
	if len(fullName) < 2 {
		return ""
	}
	if i := strings.IndexByte(fullName[1:], '/'); i >= 0 {
		return fullName[i+1:]
	}
	return ""
}
