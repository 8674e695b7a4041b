package mapper

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
	"github.com/google/go-cmp/cmp"
)

func newTestMonitor(t *testing.T, network *transport.MemoryNetwork) *Monitor {
	t.Helper()
	mon, err := NewMonitor(TestMonitorConfig(network))
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	t.Cleanup(func() { mon.Close() })
	return mon
}

// pair is a sending and a receiving device with one float signal each, as
// used by the mapping scenarios below.
type pair struct {
	send, recv *Device
	out, in    *Signal
	mon        *Monitor
	received   []value.Value
}

func newPair(t *testing.T) *pair {
	t.Helper()
	network := transport.NewMemoryNetwork()
	p := &pair{
		send: newTestDevice(t, network, "testsend"),
		recv: newTestDevice(t, network, "testrecv"),
		mon:  newTestMonitor(t, network),
	}
	var err error
	if p.out, err = p.send.AddOutput("/outsig_3", value.TypeFloat32, 1, ""); err != nil {
		t.Fatalf("AddOutput() error = %v", err)
	}
	p.in, err = p.recv.AddInput("/insig_3", value.TypeFloat32, 1, func(_ *Signal, v []value.Value) {
		p.received = append(p.received, v[0])
	}, "")
	if err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}
	if err := p.in.SetMinimum(0); err != nil {
		t.Fatal(err)
	}
	if err := p.in.SetMaximum(100); err != nil {
		t.Fatal(err)
	}

	waitReady(t, p.pollers(), p.send, p.recv)
	p.until(t, "signals known to the monitor", func() bool {
		return p.mon.DB().SignalByFullName(p.out.FullName()) != nil &&
			p.mon.DB().SignalByFullName(p.in.FullName()) != nil
	})
	return p
}

func (p *pair) pollers() []Poller { return []Poller{p.send, p.recv, p.mon} }

func (p *pair) until(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !PollUntil(testTimeout, cond, p.pollers()...) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func (p *pair) mapping() *db.MappingRecord {
	return p.mon.DB().MappingByNames(p.out.FullName(), p.in.FullName())
}

// update sends v and waits for it to arrive.
func (p *pair) update(t *testing.T, v float64) value.Value {
	t.Helper()
	p.received = nil
	if err := p.out.Update(v); err != nil {
		t.Fatalf("Update(%v) error = %v", v, err)
	}
	p.until(t, "value delivery", func() bool { return len(p.received) == 1 })
	return p.received[0]
}

func TestMonitorSeesDevicesAndSignals(t *testing.T) {
	p := newPair(t)
	mdb := p.mon.DB()

	dev := mdb.DeviceByName("/testsend.1")
	if dev == nil {
		t.Fatal("sender not in database")
	}
	if dev.NumOutputs != 1 || dev.NumInputs != 0 || dev.Port != p.send.Port() || dev.Host != p.send.IP4().String() {
		t.Errorf("device record = %v", dev)
	}

	got := mdb.SignalByFullName("/testrecv.1/insig_3")
	want := &db.SignalRecord{
		DeviceName: "/testrecv.1",
		Name:       "/insig_3",
		Direction:  db.DirectionInput,
		Type:       value.TypeFloat32,
		Length:     1,
		Minimum:    value.Float32(0),
		Maximum:    value.Float32(100),
		Properties: value.NewProperties(),
	}
	if !got.Equal(want) {
		t.Errorf("signal record = %v, want %v", got, want)
	}

	if c := mdb.Counts(); c.Devices != 2 || c.Inputs != 1 || c.Outputs != 1 {
		t.Errorf("Counts() = %+v", c)
	}
}

func TestMonitorSeesPropertyChanges(t *testing.T) {
	p := newPair(t)
	if err := p.recv.SetProperties(map[string]any{"width": 256}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "property announcement", func() bool {
		rec := p.mon.DB().DeviceByName(p.recv.Name())
		_, ok := rec.Properties.Get("width")
		return ok
	})

	p.recv.RemoveProperty("width")
	p.until(t, "property removal", func() bool {
		rec := p.mon.DB().DeviceByName(p.recv.Name())
		return rec.Properties.Len() == 0
	})
}

func TestNaNPropertyAnnouncedOnce(t *testing.T) {
	p := newPair(t)
	modified := 0
	p.mon.DB().AddDeviceCallback(func(rec *db.DeviceRecord, a db.Action) {
		if rec.Name == p.send.Name() && a == db.ActionModify {
			modified++
		}
	})
	if err := p.send.SetProperties(map[string]any{"x": math.NaN()}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "property announcement", func() bool { return modified > 0 })
	PollUntil(100*time.Millisecond, func() bool { return false }, p.pollers()...)
	if modified != 1 {
		t.Errorf("device MODIFY callbacks = %d, want 1", modified)
	}
}

func TestMonitorRequestDevices(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "late")
	waitReady(t, []Poller{dev}, dev)

	// The monitor joins after the device registered, so it has to ask.
	mon := newTestMonitor(t, network)
	if err := mon.RequestDevices(); err != nil {
		t.Fatalf("RequestDevices() error = %v", err)
	}
	if !PollUntil(testTimeout, func() bool { return mon.DB().DeviceByName("/late.1") != nil }, dev, mon) {
		t.Fatal("device not discovered")
	}
}

func TestMappingLifecycle(t *testing.T) {
	p := newPair(t)
	src, dest := p.out.FullName(), p.in.FullName()

	var actions []db.Action
	p.mon.DB().AddMappingCallback(func(_ *db.MappingRecord, a db.Action) {
		actions = append(actions, a)
	})

	opts := MappingOptions{}.
		WithMode(db.ModeExpression).
		WithExpression("y=x").
		WithClip(db.ClipWrap, db.ClipClamp)
	if err := p.mon.Connect(src, dest, opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	want := db.NewMappingRecord(src, dest)
	want.SrcType, want.DestType = value.TypeFloat32, value.TypeFloat32
	want.SrcLength, want.DestLength = 1, 1
	want.Mode = db.ModeExpression
	want.ClipMin, want.ClipMax = db.ClipWrap, db.ClipClamp
	if diff := cmp.Diff(want, p.mapping()); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
	if p.mon.DB().LinkBySrcDestNames("/testsend.1", "/testrecv.1") == nil {
		t.Error("link not announced")
	}
	if got := p.send.Mappings(); len(got) != 1 || got[0].DestName != dest {
		t.Errorf("Mappings() = %v", got)
	}

	tests := []struct {
		in   float64
		want value.Value
	}{
		{42, value.Float32(42)},
		{150, value.Float32(100)}, // clamped at the destination maximum
		{-10, value.Float32(90)},  // wrapped into [0, 100]
	}
	for _, tt := range tests {
		if got := p.update(t, tt.in); got != tt.want {
			t.Errorf("update(%v) delivered %v, want %v", tt.in, got, tt.want)
		}
	}

	modify := MappingOptions{SrcName: src, DestName: dest}.
		WithMode(db.ModeLinear).
		WithRange(0, 10, 0, 100).
		WithClip(db.ClipNone, db.ClipNone)
	if err := p.mon.Modify(modify); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	p.until(t, "modified mapping", func() bool { return p.mapping().Mode == db.ModeLinear })
	m := p.mapping()
	if m.ClipMin != db.ClipNone || m.ClipMax != db.ClipNone {
		t.Errorf("clip = %s/%s, want none/none", m.ClipMin, m.ClipMax)
	}
	if r, _ := m.Range[3].Float64(); r != 100 {
		t.Errorf("Range = %v", m.Range)
	}
	if got := p.update(t, 5); got != value.Float32(50) {
		t.Errorf("linear update(5) delivered %v, want 50", got)
	}

	if err := p.mon.Disconnect(src, dest); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	p.until(t, "disconnection", func() bool {
		return p.mapping() == nil && p.mon.DB().LinkBySrcDestNames("/testsend.1", "/testrecv.1") == nil
	})
	if len(p.send.Mappings()) != 0 {
		t.Errorf("router still holds %v", p.send.Mappings())
	}

	wantActions := []db.Action{db.ActionNew, db.ActionModify, db.ActionRemove}
	if diff := cmp.Diff(wantActions, actions); diff != "" {
		t.Errorf("mapping callbacks (-want +got):\n%s", diff)
	}
}

func TestMutedMappingSendsNothing(t *testing.T) {
	p := newPair(t)
	src, dest := p.out.FullName(), p.in.FullName()
	if err := p.mon.Connect(src, dest, MappingOptions{}.WithMuted(true)); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	p.out.Update(1)
	PollUntil(10*TestClaimWindow, func() bool { return false }, p.pollers()...)
	if len(p.received) != 0 {
		t.Errorf("muted mapping delivered %v", p.received)
	}
}

func TestLengthMismatchIsRejected(t *testing.T) {
	p := newPair(t)
	wide, err := p.send.AddOutput("/wide", value.TypeFloat32, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	p.until(t, "new output", func() bool { return p.mon.DB().SignalByFullName(wide.FullName()) != nil })

	if err := p.mon.Connect(wide.FullName(), p.in.FullName(), MappingOptions{}); err != nil {
		t.Fatal(err)
	}
	PollUntil(10*TestClaimWindow, func() bool { return false }, p.pollers()...)
	if m := p.mon.DB().MappingByNames(wide.FullName(), p.in.FullName()); m != nil {
		t.Errorf("mapping between lengths 2 and 1 was created: %v", m)
	}
}

func TestRemoveSignalDropsMappings(t *testing.T) {
	p := newPair(t)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), MappingOptions{}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })
	full := p.out.FullName()

	if err := p.send.RemoveSignal(p.out); err != nil {
		t.Fatalf("RemoveSignal() error = %v", err)
	}
	p.until(t, "signal removal", func() bool {
		return p.mon.DB().SignalByFullName(full) == nil && p.mapping() == nil
	})
	if p.mon.DB().LinkBySrcDestNames("/testsend.1", "/testrecv.1") != nil {
		t.Error("link survived removal of its only mapping")
	}
	if err := p.send.RemoveSignal(p.out); !errors.Is(err, ErrSignalNotFound) {
		t.Errorf("second RemoveSignal() error = %v, want ErrSignalNotFound", err)
	}
}

func TestRemoveInputDropsSourceMappings(t *testing.T) {
	p := newPair(t)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), MappingOptions{}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	if err := p.recv.RemoveSignal(p.in); err != nil {
		t.Fatalf("RemoveSignal() error = %v", err)
	}
	p.until(t, "source forgets the mapping", func() bool {
		return len(p.send.Mappings()) == 0 && p.mapping() == nil &&
			p.mon.DB().LinkBySrcDestNames("/testsend.1", "/testrecv.1") == nil
	})

	if err := p.mon.RequestMappingsByDevice(p.send.Name()); err != nil {
		t.Fatal(err)
	}
	PollUntil(10*TestClaimWindow, func() bool { return false }, p.pollers()...)
	if m := p.mapping(); m != nil {
		t.Errorf("mapping to removed input reappeared: %v", m)
	}
}

func TestDestinationBoundsReachSource(t *testing.T) {
	p := newPair(t)
	opts := MappingOptions{}.WithClip(db.ClipClamp, db.ClipClamp)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), opts); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })
	if got := p.update(t, 80); got != value.Float32(80) {
		t.Fatalf("update(80) delivered %v, want 80", got)
	}

	if err := p.in.SetMaximum(50); err != nil {
		t.Fatal(err)
	}
	p.until(t, "new maximum announced", func() bool {
		rec := p.mon.DB().SignalByFullName(p.in.FullName())
		return rec != nil && rec.Maximum.Equal(value.Float32(50))
	})
	PollUntil(5*TestClaimWindow, func() bool { return false }, p.pollers()...)
	if got := p.update(t, 80); got != value.Float32(50) {
		t.Errorf("update(80) delivered %v, want 50 after narrowing the destination", got)
	}
}

func TestQueryDestinationValue(t *testing.T) {
	p := newPair(t)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), MappingOptions{}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	var replies [][]value.Value
	p.out.SetQueryHandler(func(sig *Signal, vals []value.Value) {
		if sig != p.out {
			t.Errorf("query handler got %s", sig.Name())
		}
		replies = append(replies, vals)
	})

	if n, err := p.out.Query(); n != 1 || err != nil {
		t.Fatalf("Query() = %d, %v; want 1, nil", n, err)
	}
	p.until(t, "empty reply", func() bool { return len(replies) == 1 })
	if len(replies[0]) != 0 {
		t.Errorf("reply before any value = %v, want empty", replies[0])
	}

	p.update(t, 42)
	if _, err := p.out.Query(); err != nil {
		t.Fatal(err)
	}
	p.until(t, "value reply", func() bool { return len(replies) == 2 })
	if diff := cmp.Diff([]value.Value{value.Float32(42)}, replies[1]); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}

	if _, err := p.in.Query(); !errors.Is(err, ErrNotOutput) {
		t.Errorf("Query() on an input error = %v, want ErrNotOutput", err)
	}
}

func TestCalibratedRangeIsAnnounced(t *testing.T) {
	p := newPair(t)
	opts := MappingOptions{}.WithMode(db.ModeCalibrate).WithRange(nil, nil, 0, 100)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), opts); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	p.update(t, 10)
	p.update(t, 20)
	p.until(t, "calibrated range", func() bool {
		m := p.mapping()
		lo, _ := m.Range[0].Float64()
		hi, _ := m.Range[1].Float64()
		return lo == 10 && hi == 20
	})
	want := p.send.Mappings()[0].Range
	if diff := cmp.Diff(want, p.mapping().Range); diff != "" {
		t.Errorf("monitor range differs from source (-source +monitor):\n%s", diff)
	}
}

func TestConnectRejectsNonNumericRange(t *testing.T) {
	p := newPair(t)
	opts := MappingOptions{}.WithRangeValues([4]value.Value{value.String("low"), {}, {}, {}})
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), opts); !errors.Is(err, protocol.ErrInvalidOptions) {
		t.Errorf("Connect() error = %v, want ErrInvalidOptions", err)
	}
}

func TestLogoutRemovesDevice(t *testing.T) {
	p := newPair(t)
	if err := p.mon.Connect(p.out.FullName(), p.in.FullName(), MappingOptions{}); err != nil {
		t.Fatal(err)
	}
	p.until(t, "mapping", func() bool { return p.mapping() != nil })

	var removed []string
	p.mon.DB().AddDeviceCallback(func(rec *db.DeviceRecord, a db.Action) {
		if a == db.ActionRemove {
			removed = append(removed, rec.Name)
		}
	})

	if err := p.recv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	p.until(t, "logout", func() bool { return p.mon.DB().DeviceByName("/testrecv.1") == nil })

	if diff := cmp.Diff([]string{"/testrecv.1"}, removed); diff != "" {
		t.Errorf("removed devices (-want +got):\n%s", diff)
	}
	if p.mapping() != nil || p.mon.DB().SignalByFullName("/testrecv.1/insig_3") != nil {
		t.Error("records of the departed device survived")
	}
	if len(p.send.Mappings()) != 0 {
		t.Errorf("sender still routes to the departed device: %v", p.send.Mappings())
	}
}

func TestMonitorRequestErrors(t *testing.T) {
	network := transport.NewMemoryNetwork()
	mon := newTestMonitor(t, network)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"modify without names", func() error { return mon.Modify(MappingOptions{}.WithMuted(true)) }, ErrMissingNames},
		{"connect bad options", func() error {
			return mon.ConnectMap("/a.1/x", "/b.1/y", map[string]any{"mode": "bogus"})
		}, ErrConfig},
		{"modify unknown key", func() error {
			return mon.ModifyMap(map[string]any{"src_name": "/a.1/x", "dest_name": "/b.1/y", "speed": 3})
		}, ErrConfig},
		{"connect device name", func() error { return mon.Connect("/a.1", "/b.1/y", MappingOptions{}) }, ErrInvalidSignalName},
		{"disconnect bare names", func() error { return mon.Disconnect("x", "y") }, ErrInvalidSignalName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrConfig) {
				t.Errorf("error = %v, want %v wrapping ErrConfig", err, tt.want)
			}
		})
	}

	if err := mon.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := mon.RequestDevices(); !errors.Is(err, ErrClosed) {
		t.Errorf("RequestDevices() after Close error = %v, want ErrClosed", err)
	}
}
