package protocol

import (
	"fmt"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/value"
)

// Property keys used on the bus.
const (
	KeyIP         = "IP"
	KeyPort       = "port"
	KeyInterface  = "interface"
	KeyOrdinal    = "ordinal"
	KeyNumInputs  = "numInputs"
	KeyNumOutputs = "numOutputs"

	KeyDirection = "direction"
	KeyType      = "type"
	KeyLength    = "length"
	KeyUnit      = "unit"
	KeyMin       = "min"
	KeyMax       = "max"

	KeyMode       = "mode"
	KeyExpression = "expression"
	KeyClipMin    = "clipMin"
	KeyClipMax    = "clipMax"
	KeyRange      = "range"
	KeyMuted      = "muted"
	KeySrcType    = "srcType"
	KeyDestType   = "destType"
	KeySrcLength  = "srcLength"
	KeyDestLength = "destLength"
)

var deviceKeys = map[string]bool{
	KeyIP: true, KeyPort: true, KeyInterface: true, KeyOrdinal: true,
	KeyNumInputs: true, KeyNumOutputs: true,
}

var signalKeys = map[string]bool{
	KeyDirection: true, KeyType: true, KeyLength: true, KeyUnit: true,
	KeyMin: true, KeyMax: true,
}

// DeviceMessage builds the /device announcement for rec.
func DeviceMessage(rec *db.DeviceRecord) *osc.Message {
	p := make(Props)
	p.addCustom(rec.Properties, deviceKeys)
	p.Set(KeyIP, value.String(rec.Host))
	p.Set(KeyPort, value.Int32(int32(rec.Port)))
	if rec.Interface != "" {
		p.Set(KeyInterface, value.String(rec.Interface))
	}
	p.Set(KeyOrdinal, value.Int32(int32(rec.Ordinal)))
	p.Set(KeyNumInputs, value.Int32(int32(rec.NumInputs)))
	p.Set(KeyNumOutputs, value.Int32(int32(rec.NumOutputs)))
	return p.AppendTo(osc.NewMessage(PathDevice, rec.Name))
}

// ParseDevice decodes a /device announcement.
func ParseDevice(msg *osc.Message) (*db.DeviceRecord, error) {
	args, err := StringArgs(msg, 1)
	if err != nil {
		return nil, err
	}
	p, err := DecodeProps(msg.Args[1:])
	if err != nil {
		return nil, err
	}

	r := &propReader{p: p}
	rec := &db.DeviceRecord{
		Name:       args[0],
		Host:       r.str(KeyIP),
		Interface:  r.str(KeyInterface),
		Properties: value.NewProperties(),
	}
	rec.Port, _ = r.int(KeyPort)
	rec.Ordinal, _ = r.int(KeyOrdinal)
	rec.NumInputs, _ = r.int(KeyNumInputs)
	rec.NumOutputs, _ = r.int(KeyNumOutputs)
	if r.err != nil {
		return nil, r.err
	}
	p.mergeCustom(rec.Properties, deviceKeys)
	return rec, nil
}

// SignalMessage builds the /signal announcement for rec.
func SignalMessage(rec *db.SignalRecord) *osc.Message {
	p := make(Props)
	p.addCustom(rec.Properties, signalKeys)
	p.Set(KeyDirection, value.String(rec.Direction.String()))
	p.Set(KeyType, value.String(rec.Type.String()))
	p.Set(KeyLength, value.Int32(int32(rec.Length)))
	if rec.Unit != "" {
		p.Set(KeyUnit, value.String(rec.Unit))
	}
	if rec.Minimum.IsSet() {
		p.Set(KeyMin, rec.Minimum)
	}
	if rec.Maximum.IsSet() {
		p.Set(KeyMax, rec.Maximum)
	}
	return p.AppendTo(osc.NewMessage(PathSignal, rec.FullName()))
}

// SignalRemovedMessage builds the notice sent when a device drops a signal.
func SignalRemovedMessage(fullName string) *osc.Message {
	return osc.NewMessage(PathSignalRemoved, fullName)
}

// ParseSignal decodes a /signal announcement.
func ParseSignal(msg *osc.Message) (*db.SignalRecord, error) {
	args, err := StringArgs(msg, 1)
	if err != nil {
		return nil, err
	}
	full := args[0]
	rec := &db.SignalRecord{
		DeviceName: db.DeviceOf(full),
		Name:       db.SignalOf(full),
		Length:     1,
		Properties: value.NewProperties(),
	}
	if rec.Name == "" {
		return nil, fmt.Errorf("%w: signal name %q has no device part", ErrMalformed, full)
	}

	p, err := DecodeProps(msg.Args[1:])
	if err != nil {
		return nil, err
	}
	r := &propReader{p: p}
	if s := r.str(KeyDirection); s != "" {
		if rec.Direction, err = db.ParseDirection(s); err != nil {
			r.keep(fmt.Errorf("%w: %v", ErrMalformed, err))
		}
	}
	if s := r.str(KeyType); s != "" {
		if rec.Type, err = value.ParseType(s); err != nil {
			r.keep(fmt.Errorf("%w: %v", ErrMalformed, err))
		}
	}
	if n, ok := r.int(KeyLength); ok {
		rec.Length = n
	}
	rec.Unit = r.str(KeyUnit)
	if r.err != nil {
		return nil, r.err
	}
	rec.Minimum, _ = p.Value(KeyMin)
	rec.Maximum, _ = p.Value(KeyMax)
	p.mergeCustom(rec.Properties, signalKeys)
	return rec, nil
}

// MappingProps returns the full property set of rec.
func MappingProps(rec *db.MappingRecord) Props {
	p := make(Props)
	p.Set(KeyMode, value.String(rec.Mode.String()))
	p.Set(KeyExpression, value.String(rec.Expression))
	p.Set(KeyClipMin, value.String(rec.ClipMin.String()))
	p.Set(KeyClipMax, value.String(rec.ClipMax.String()))
	p.Set(KeyRange, rec.Range[:]...)
	p.Set(KeyMuted, value.Bool(rec.Muted))
	if rec.SrcType.IsValid() {
		p.Set(KeySrcType, value.String(rec.SrcType.String()))
	}
	if rec.DestType.IsValid() {
		p.Set(KeyDestType, value.String(rec.DestType.String()))
	}
	if rec.SrcLength > 0 {
		p.Set(KeySrcLength, value.Int32(int32(rec.SrcLength)))
	}
	if rec.DestLength > 0 {
		p.Set(KeyDestLength, value.Int32(int32(rec.DestLength)))
	}
	return p
}

// MappingMessage builds a mapping notification (e.g. /connected) carrying
// every property of rec.
func MappingMessage(path string, rec *db.MappingRecord) *osc.Message {
	return MappingProps(rec).AppendTo(osc.NewMessage(path, rec.SrcName, rec.DestName))
}

// ParseMapping decodes a full mapping notification into a new record.
func ParseMapping(msg *osc.Message) (*db.MappingRecord, error) {
	src, dest, p, err := SplitPair(msg)
	if err != nil {
		return nil, err
	}
	rec := db.NewMappingRecord(src, dest)
	opts, err := OptionsFromProps(p)
	if err != nil {
		return nil, err
	}
	opts.Apply(rec)
	if err := ApplySignalInfo(rec, p); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplySignalInfo copies the source and destination type and length
// properties from p into rec.
func ApplySignalInfo(rec *db.MappingRecord, p Props) error {
	for _, f := range []struct {
		key string
		typ *value.Type
	}{{KeySrcType, &rec.SrcType}, {KeyDestType, &rec.DestType}} {
		s, ok, err := p.String(f.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if *f.typ, err = value.ParseType(s); err != nil {
			return fmt.Errorf("%w: @%s: %v", ErrMalformed, f.key, err)
		}
	}
	for _, f := range []struct {
		key string
		n   *int
	}{{KeySrcLength, &rec.SrcLength}, {KeyDestLength, &rec.DestLength}} {
		n, ok, err := p.Int(f.key)
		if err != nil {
			return err
		}
		if ok {
			*f.n = n
		}
	}
	return nil
}

// SplitPair decodes the "<src> <dest> @props..." shape shared by the mapping
// and link messages.
func SplitPair(msg *osc.Message) (src, dest string, p Props, err error) {
	args, err := StringArgs(msg, 2)
	if err != nil {
		return "", "", nil, err
	}
	p, err = DecodeProps(msg.Args[2:])
	if err != nil {
		return "", "", nil, err
	}
	return args[0], args[1], p, nil
}

// LinkMessage builds a /linked or /unlinked notification.
func LinkMessage(path string, rec *db.LinkRecord) *osc.Message {
	return osc.NewMessage(path, rec.SrcName, rec.DestName)
}

// ParseLink decodes a /linked or /unlinked notification.
func ParseLink(msg *osc.Message) (*db.LinkRecord, error) {
	args, err := StringArgs(msg, 2)
	if err != nil {
		return nil, err
	}
	return db.NewLinkRecord(args[0], args[1]), nil
}
