package protocol

import (
	"errors"
	"testing"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/value"
	"github.com/google/go-cmp/cmp"
)

// roundTrip encodes and decodes msg so tests cover the wire form too.
func roundTrip(t *testing.T, msg *osc.Message) *osc.Message {
	t.Helper()
	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	out, err := osc.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

func TestDecodeProps(t *testing.T) {
	tests := []struct {
		name    string
		args    []value.Value
		want    Props
		wantErr bool
	}{
		{
			name: "empty",
			args: nil,
			want: Props{},
		},
		{
			name: "single values",
			args: []value.Value{value.String("@port"), value.Int32(9000), value.String("@unit"), value.String("Hz")},
			want: Props{"port": {value.Int32(9000)}, "unit": {value.String("Hz")}},
		},
		{
			name: "range with nils",
			args: []value.Value{value.String("@range"), value.Float64(0), value.Unset(), value.Int32(1), value.Unset()},
			want: Props{"range": {value.Float64(0), value.Unset(), value.Int32(1), value.Unset()}},
		},
		{
			name: "at-string as first value",
			args: []value.Value{value.String("@tag"), value.String("@home")},
			want: Props{"tag": {value.String("@home")}},
		},
		{
			name:    "value before key",
			args:    []value.Value{value.Int32(1)},
			wantErr: true,
		},
		{
			name:    "dangling key",
			args:    []value.Value{value.String("@port")},
			wantErr: true,
		},
		{
			name:    "empty key",
			args:    []value.Value{value.String("@"), value.Int32(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeProps(tt.args)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("DecodeProps() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeProps() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(value.Value.Equal)); diff != "" {
				t.Errorf("DecodeProps() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitRequest(t *testing.T) {
	tests := []struct {
		addr       string
		wantDevice string
		wantSuffix string
		wantOK     bool
	}{
		{"/test.1/signals/get", "/test.1", SuffixSignalsGet, true},
		{"/test.1/links/get", "/test.1", SuffixLinksGet, true},
		{"/synth.2/connections/get", "/synth.2", SuffixConnectionsGet, true},
		{"/signals/get", "", "", false},
		{"/test.1/freq", "", "", false},
	}
	for _, tt := range tests {
		dev, suffix, ok := SplitRequest(tt.addr)
		if dev != tt.wantDevice || suffix != tt.wantSuffix || ok != tt.wantOK {
			t.Errorf("SplitRequest(%q) = %q, %q, %t", tt.addr, dev, suffix, ok)
		}
	}
	if got := RequestPath("/test.1", SuffixLinksGet); got != "/test.1/links/get" {
		t.Errorf("RequestPath() = %q", got)
	}
}

func TestDeviceMessage(t *testing.T) {
	props := value.NewProperties()
	props.Set("description", "synth")
	props.Set("port", "shadowed")

	rec := &db.DeviceRecord{
		Name:       "/test.1",
		Ordinal:    1,
		Host:       "10.0.0.1",
		Port:       9000,
		Interface:  "eth0",
		NumInputs:  1,
		NumOutputs: 2,
		Properties: props,
	}

	msg := roundTrip(t, DeviceMessage(rec))
	if msg.Address != PathDevice {
		t.Fatalf("Address = %q", msg.Address)
	}
	got, err := ParseDevice(msg)
	if err != nil {
		t.Fatalf("ParseDevice() error = %v", err)
	}

	want := rec.Clone()
	want.Properties.Remove("port")
	if diff := cmp.Diff(want, got, cmp.Comparer((*value.Properties).Equal)); diff != "" {
		t.Errorf("ParseDevice() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  *osc.Message
	}{
		{"no name", osc.NewMessage(PathDevice)},
		{"name not string", osc.NewMessage(PathDevice, 3)},
		{"port not number", osc.NewMessage(PathDevice, "/a.1", "@port", "x")},
		{"dangling key", osc.NewMessage(PathDevice, "/a.1", "@port")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDevice(tt.msg); !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseDevice() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestSignalMessage(t *testing.T) {
	props := value.NewProperties()
	props.Set("width", 256)

	rec := &db.SignalRecord{
		DeviceName: "/test.1",
		Name:       "/freq",
		Direction:  db.DirectionInput,
		Type:       value.TypeInt32,
		Length:     1,
		Unit:       "Hz",
		Minimum:    value.Int32(34),
		Properties: props,
	}

	msg := roundTrip(t, SignalMessage(rec))
	if msg.Args[0] != value.String("/test.1/freq") {
		t.Fatalf("first argument = %v", msg.Args[0])
	}
	got, err := ParseSignal(msg)
	if err != nil {
		t.Fatalf("ParseSignal() error = %v", err)
	}
	if diff := cmp.Diff(rec, got, cmp.Comparer((*value.Properties).Equal), cmp.Comparer(value.Value.Equal)); diff != "" {
		t.Errorf("ParseSignal() mismatch (-want +got):\n%s", diff)
	}
	if got.Maximum.IsSet() {
		t.Errorf("Maximum = %v, want unset", got.Maximum)
	}
}

func TestParseSignalErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  *osc.Message
	}{
		{"no device part", osc.NewMessage(PathSignal, "/freq")},
		{"bad direction", osc.NewMessage(PathSignal, "/a.1/x", "@direction", "sideways")},
		{"bad type", osc.NewMessage(PathSignal, "/a.1/x", "@type", "q")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSignal(tt.msg); !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseSignal() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestMappingMessage(t *testing.T) {
	rec := db.NewMappingRecord("/a.1/out", "/b.1/in")
	rec.Mode = db.ModeLinear
	rec.ClipMin = db.ClipMute
	rec.ClipMax = db.ClipWrap
	rec.Range = [4]value.Value{value.Float64(0), value.Float64(1), value.Unset(), value.Int32(100)}
	rec.Muted = true
	rec.SrcType, rec.DestType = value.TypeFloat32, value.TypeInt32
	rec.SrcLength, rec.DestLength = 2, 2

	got, err := ParseMapping(roundTrip(t, MappingMessage(PathConnected, rec)))
	if err != nil {
		t.Fatalf("ParseMapping() error = %v", err)
	}
	if diff := cmp.Diff(rec, got, cmp.Comparer(value.Value.Equal)); diff != "" {
		t.Errorf("ParseMapping() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMappingDefaults(t *testing.T) {
	got, err := ParseMapping(osc.NewMessage(PathConnected, "/a.1/out", "/b.1/in"))
	if err != nil {
		t.Fatalf("ParseMapping() error = %v", err)
	}
	want := db.NewMappingRecord("/a.1/out", "/b.1/in")
	if diff := cmp.Diff(want, got, cmp.Comparer(value.Value.Equal)); diff != "" {
		t.Errorf("ParseMapping() mismatch (-want +got):\n%s", diff)
	}
}

func TestLinkMessage(t *testing.T) {
	rec := db.NewLinkRecord("/a.1", "/b.1")
	got, err := ParseLink(roundTrip(t, LinkMessage(PathLinked, rec)))
	if err != nil {
		t.Fatalf("ParseLink() error = %v", err)
	}
	if *got != *rec {
		t.Errorf("ParseLink() = %v, want %v", got, rec)
	}
}

func TestParseMappingOptions(t *testing.T) {
	t.Run("all keys", func(t *testing.T) {
		o, err := ParseMappingOptions(map[string]any{
			"mode":       "expression",
			"expression": "y=x",
			"clip_min":   "wrap",
			"clip_max":   "clamp",
			"range":      []any{0, 1, nil, 10.5},
			"muted":      false,
			"src_name":   "/a.1/out",
			"dest_name":  "/b.1/in",
		})
		if err != nil {
			t.Fatalf("ParseMappingOptions() error = %v", err)
		}
		if o.SrcName != "/a.1/out" || o.DestName != "/b.1/in" {
			t.Errorf("names = %q, %q", o.SrcName, o.DestName)
		}
		if *o.Mode != db.ModeExpression || *o.Expression != "y=x" {
			t.Errorf("mode/expression = %v, %q", *o.Mode, *o.Expression)
		}
		if *o.ClipMin != db.ClipWrap || *o.ClipMax != db.ClipClamp {
			t.Errorf("clip = %v/%v", *o.ClipMin, *o.ClipMax)
		}
		want := [4]value.Value{value.Int32(0), value.Int32(1), value.Unset(), value.Float64(10.5)}
		if *o.Range != want {
			t.Errorf("range = %v, want %v", *o.Range, want)
		}
		if o.Muted == nil || *o.Muted {
			t.Errorf("muted = %v", o.Muted)
		}
	})

	t.Run("typed range", func(t *testing.T) {
		o, err := ParseMappingOptions(map[string]any{"range": []float64{0, 1, 2, 3}})
		if err != nil {
			t.Fatalf("ParseMappingOptions() error = %v", err)
		}
		if o.Range[3] != value.Float64(3) {
			t.Errorf("range[3] = %v", o.Range[3])
		}
	})

	t.Run("empty", func(t *testing.T) {
		o, err := ParseMappingOptions(nil)
		if err != nil || !o.IsEmpty() {
			t.Errorf("ParseMappingOptions(nil) = %+v, %v", o, err)
		}
	})

	bad := []map[string]any{
		{"bogus": 1},
		{"mode": "sideways"},
		{"mode": 3},
		{"clip_min": "bounce"},
		{"range": []any{0, 1, 2}},
		{"range": []any{0, 1, 2, "x"}},
		{"range": 5},
		{"muted": "yes"},
		{"src_name": 1},
	}
	for _, m := range bad {
		if _, err := ParseMappingOptions(m); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("ParseMappingOptions(%v) error = %v, want ErrInvalidOptions", m, err)
		}
	}
}

func TestMappingOptionsWireAndApply(t *testing.T) {
	o := MappingOptions{}.
		WithMode(db.ModeLinear).
		WithRange(nil, nil, 0, 100).
		WithMuted(true)

	msg := roundTrip(t, RequestMessage(PathModify, "/a.1/out", "/b.1/in", o))
	src, dest, p, err := SplitPair(msg)
	if err != nil {
		t.Fatalf("SplitPair() error = %v", err)
	}
	if src != "/a.1/out" || dest != "/b.1/in" {
		t.Errorf("SplitPair() = %q, %q", src, dest)
	}
	if _, ok := p[KeyExpression]; ok {
		t.Error("unset expression was encoded")
	}

	decoded, err := OptionsFromProps(p)
	if err != nil {
		t.Fatalf("OptionsFromProps() error = %v", err)
	}

	rec := db.NewMappingRecord(src, dest)
	rec.Range[0] = value.Float64(-1)
	if !decoded.Apply(rec) {
		t.Fatal("Apply() = false, want true")
	}
	if rec.Mode != db.ModeLinear || !rec.Muted || rec.Expression != db.DefaultExpression {
		t.Errorf("Apply() result = %v", rec)
	}
	if rec.Range[0] != value.Float64(-1) {
		t.Errorf("unset range entry overwrote existing end: %v", rec.Range[0])
	}
	if rec.Range[3] != value.Int32(100) {
		t.Errorf("range[3] = %v", rec.Range[3])
	}
	if decoded.Apply(rec) {
		t.Error("second Apply() reported a change")
	}
}

func TestOptionsFromPropsErrors(t *testing.T) {
	tests := []Props{
		{KeyMode: {value.String("sideways")}},
		{KeyClipMax: {value.String("bounce")}},
		{KeyRange: {value.Int32(1)}},
		{KeyRange: {value.Int32(1), value.Int32(1), value.Int32(1), value.String("x")}},
		{KeyMuted: {value.String("yes")}},
		{KeyExpression: {value.Int32(1)}},
	}
	for _, p := range tests {
		if _, err := OptionsFromProps(p); !errors.Is(err, ErrMalformed) {
			t.Errorf("OptionsFromProps(%v) error = %v, want ErrMalformed", p, err)
		}
	}
}

func TestMappingOptionsRangeValues(t *testing.T) {
	good := MappingOptions{}.WithRangeValues([4]value.Value{{}, {}, value.Int32(0), value.Float64(1)})
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := good.Range[3]; !got.Equal(value.Float64(1)) {
		t.Errorf("Range[3] = %v, want 1", got)
	}

	bad := MappingOptions{}.WithRangeValues([4]value.Value{value.String("low"), {}, {}, {}})
	if err := bad.Validate(); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("WithRange with a string entry did not panic")
		}
	}()
	MappingOptions{}.WithRange("low", nil, nil, nil)
}
