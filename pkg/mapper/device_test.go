package mapper

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/backkem/mapper/pkg/metrics"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
	"github.com/prometheus/client_golang/prometheus"
)

const testTimeout = 2 * time.Second

func newTestDevice(t *testing.T, network *transport.MemoryNetwork, name string) *Device {
	t.Helper()
	dev, err := NewDevice(TestDeviceConfig(network, name))
	if err != nil {
		t.Fatalf("NewDevice(%q) error = %v", name, err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func waitReady(t *testing.T, pollers []Poller, devs ...*Device) {
	t.Helper()
	ok := PollUntil(testTimeout, func() bool {
		for _, d := range devs {
			if !d.Ready() {
				return false
			}
		}
		return true
	}, pollers...)
	if !ok {
		t.Fatal("devices did not become ready")
	}
}

func TestDeviceConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config DeviceConfig
		want   error
	}{
		{"empty name", DeviceConfig{}, ErrInvalidDeviceName},
		{"slash inside", DeviceConfig{Name: "a/b"}, ErrInvalidDeviceName},
		{"space", DeviceConfig{Name: "a b"}, ErrInvalidDeviceName},
		{"bad port", DeviceConfig{Name: "test", Port: 70000}, ErrInvalidPort},
		{"bad bus", DeviceConfig{Name: "test", Bus: BusConfig{Group: "10.0.0.1"}}, ErrConfig},
		{"negative window", DeviceConfig{Name: "test", ClaimWindow: -time.Second}, ErrConfig},
		{"valid", DeviceConfig{Name: "/test"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
			if tt.want != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() error = %v does not wrap ErrConfig", err)
			}
		})
	}
}

func TestDeviceIdentity(t *testing.T) {
	network := transport.NewMemoryNetwork()
	var states []DeviceState
	config := TestDeviceConfig(network, "test")
	config.OnStateChanged = func(s DeviceState) { states = append(states, s) }
	dev, err := NewDevice(config)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}

	if _, err := dev.AddInput("/freq", value.TypeInt32, 1, nil, "Hz"); err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}
	if dev.NumInputs() != 1 {
		t.Errorf("NumInputs() = %d, want 1", dev.NumInputs())
	}

	// Identity is undefined until the name is allocated.
	if dev.Ready() || dev.Name() != "" || dev.Port() != 0 || dev.Ordinal() != 0 || dev.IP4() != nil || dev.Interface() != "" {
		t.Errorf("identity before ready: ready=%v name=%q port=%d ordinal=%d ip=%v iface=%q",
			dev.Ready(), dev.Name(), dev.Port(), dev.Ordinal(), dev.IP4(), dev.Interface())
	}
	if got := dev.Input("/freq").FullName(); got != "" {
		t.Errorf("FullName() before ready = %q, want empty", got)
	}

	waitReady(t, []Poller{dev}, dev)

	if dev.Name() != "/test.1" {
		t.Errorf("Name() = %q, want /test.1", dev.Name())
	}
	if dev.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", dev.Port(), DefaultPort)
	}
	if dev.Ordinal() != 1 {
		t.Errorf("Ordinal() = %d, want 1", dev.Ordinal())
	}
	if dev.IP4() == nil || dev.Interface() == "" {
		t.Errorf("IP4() = %v, Interface() = %q", dev.IP4(), dev.Interface())
	}
	if got := dev.Input("/freq").FullName(); got != "/test.1/freq" {
		t.Errorf("FullName() = %q, want /test.1/freq", got)
	}

	// Stable across further polls.
	for range 5 {
		dev.Poll(time.Millisecond)
	}
	if dev.Name() != "/test.1" || dev.Port() != DefaultPort {
		t.Errorf("identity changed: %s:%d", dev.Name(), dev.Port())
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := dev.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if dev.Poll(time.Millisecond) != 0 {
		t.Error("Poll() after Close should do nothing")
	}
	want := []DeviceState{DeviceStateReady, DeviceStateClosed}
	if len(states) != len(want) || states[0] != want[0] || states[1] != want[1] {
		t.Errorf("state changes = %v, want %v", states, want)
	}
}

func TestDeviceReadyNeedsClaimEcho(t *testing.T) {
	network := transport.NewMemoryNetwork()
	network.SetCondition(transport.NetworkCondition{DropRate: 1})
	dev := newTestDevice(t, network, "test")

	PollUntil(5*TestClaimWindow, func() bool { return false }, dev)
	if dev.Ready() {
		t.Fatal("device became ready without hearing its own claim")
	}

	network.SetCondition(transport.NetworkCondition{})
	waitReady(t, []Poller{dev}, dev)
	if dev.Name() != "/test.1" {
		t.Errorf("Name() = %q, want /test.1", dev.Name())
	}
}

func TestDeviceDataPortInUse(t *testing.T) {
	network := transport.NewMemoryNetwork()
	host := network.Host("shared")

	first, err := NewDevice(DeviceConfig{Name: "a", ClaimWindow: TestClaimWindow, TransportFactory: host})
	if err != nil {
		t.Fatalf("NewDevice(a) error = %v", err)
	}
	defer first.Close()
	second, err := NewDevice(DeviceConfig{Name: "b", ClaimWindow: TestClaimWindow, TransportFactory: host})
	if err != nil {
		t.Fatalf("NewDevice(b) error = %v", err)
	}
	defer second.Close()

	waitReady(t, []Poller{first, second}, first, second)
	if first.Port() != DefaultPort || second.Port() != DefaultPort+1 {
		t.Errorf("ports = %d, %d, want %d, %d", first.Port(), second.Port(), DefaultPort, DefaultPort+1)
	}
}

func TestDistinctOrdinals(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		network := transport.NewMemoryNetwork()
		a := newTestDevice(t, network, "test")
		waitReady(t, []Poller{a}, a)

		b := newTestDevice(t, network, "test")
		waitReady(t, []Poller{a, b}, b)

		if a.Name() != "/test.1" || b.Name() != "/test.2" {
			t.Errorf("names = %q, %q, want /test.1, /test.2", a.Name(), b.Name())
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		network := transport.NewMemoryNetwork()
		a := newTestDevice(t, network, "test")
		b := newTestDevice(t, network, "test")
		c := newTestDevice(t, network, "test")
		waitReady(t, []Poller{a, b, c}, a, b, c)

		seen := map[string]bool{a.Name(): true, b.Name(): true, c.Name(): true}
		if len(seen) != 3 {
			t.Errorf("names not distinct: %q, %q, %q", a.Name(), b.Name(), c.Name())
		}
	})
}

func TestAddSignalErrors(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "test")
	if _, err := dev.AddInput("/freq", value.TypeInt32, 1, nil, "Hz"); err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}

	tests := []struct {
		name   string
		add    func() error
		wantIs error
	}{
		{"duplicate input", func() error { _, err := dev.AddInput("/freq", value.TypeFloat32, 1, nil, ""); return err }, ErrDuplicateSignal},
		{"output shadows input", func() error { _, err := dev.AddOutput("/freq", value.TypeInt32, 1, ""); return err }, ErrDuplicateSignal},
		{"no slash", func() error { _, err := dev.AddInput("freq", value.TypeInt32, 1, nil, ""); return err }, ErrInvalidSignalName},
		{"string type", func() error { _, err := dev.AddOutput("/s", value.TypeString, 1, ""); return err }, ErrInvalidSignalType},
		{"zero length", func() error { _, err := dev.AddOutput("/v", value.TypeFloat32, 0, ""); return err }, ErrInvalidLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.add()
			if !errors.Is(err, tt.wantIs) || !errors.Is(err, ErrConfig) {
				t.Errorf("error = %v, want %v wrapping ErrConfig", err, tt.wantIs)
			}
		})
	}
	if dev.NumInputs() != 1 || dev.NumOutputs() != 0 {
		t.Errorf("counts = %d/%d after failed adds, want 1/0", dev.NumInputs(), dev.NumOutputs())
	}
}

func TestSignalBounds(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "test")
	sig, _ := dev.AddInput("/freq", value.TypeInt32, 1, nil, "Hz")

	if sig.Minimum().IsSet() || sig.Maximum().IsSet() {
		t.Fatal("new signal should have no bounds")
	}

	if err := sig.SetMinimum(34.0); err != nil {
		t.Fatalf("SetMinimum(34.0) error = %v", err)
	}
	if got := sig.Minimum(); got != value.Int32(34) {
		t.Errorf("Minimum() = %v (%s), want int32 34", got, got.Type())
	}

	if err := sig.SetMaximum("high"); !errors.Is(err, value.ErrTypeMismatch) {
		t.Errorf("SetMaximum(string) error = %v, want ErrTypeMismatch", err)
	}
	if sig.Maximum().IsSet() {
		t.Errorf("failed SetMaximum changed the bound to %v", sig.Maximum())
	}

	if err := sig.SetMaximum(1000); err != nil {
		t.Fatalf("SetMaximum(1000) error = %v", err)
	}
	if err := sig.SetMaximum(struct{}{}); err == nil {
		t.Error("SetMaximum(struct) should fail")
	}
	if got := sig.Maximum(); got != value.Int32(1000) {
		t.Errorf("Maximum() = %v after failed set, want 1000", got)
	}

	if err := sig.SetMinimum(nil); err != nil {
		t.Fatalf("SetMinimum(nil) error = %v", err)
	}
	if sig.Minimum().IsSet() {
		t.Errorf("Minimum() = %v after clearing, want unset", sig.Minimum())
	}

	sig.SetUnit("kHz")
	if sig.Unit() != "kHz" {
		t.Errorf("Unit() = %q, want kHz", sig.Unit())
	}
}

func TestSignalUpdate(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "test")
	out, _ := dev.AddOutput("/pos", value.TypeFloat32, 2, "m")

	if err := out.Update(1, 2.5); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want := []value.Value{value.Float32(1), value.Float32(2.5)}
	got := out.Value()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Value() = %v, want %v", got, want)
	}

	if err := out.Update(1); !errors.Is(err, ErrValueLength) {
		t.Errorf("Update(1 value) error = %v, want ErrValueLength", err)
	}
	if err := out.Update("a", "b"); !errors.Is(err, value.ErrTypeMismatch) {
		t.Errorf("Update(strings) error = %v, want ErrTypeMismatch", err)
	}
	if got := out.Value(); got[0] != want[0] {
		t.Errorf("failed Update changed the value to %v", got)
	}
}

func TestDeviceProperties(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "test")

	if err := dev.SetProperties(map[string]any{"width": 256, "height": 256, "depth": 24}); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}
	if err := dev.SetProperties(map[string]any{"depth": nil}); err != nil {
		t.Fatalf("SetProperties(nil) error = %v", err)
	}
	if _, ok := dev.Properties().Get("depth"); ok {
		t.Error("nil value did not remove the property")
	}
	dev.RemoveProperty("height")
	dev.RemoveProperty("missing")
	if keys := dev.Properties().Keys(); len(keys) != 1 || keys[0] != "width" {
		t.Errorf("Keys() = %v, want [width]", keys)
	}
	if err := dev.SetProperties(map[string]any{"bad": struct{}{}}); err == nil {
		t.Error("SetProperties() with an unsupported value should fail")
	}
}

func TestHandlerPanicDoesNotStopPolling(t *testing.T) {
	network := transport.NewMemoryNetwork()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}

	config := TestDeviceConfig(network, "test")
	config.Metrics = m
	dev, err := NewDevice(config)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	defer dev.Close()

	var got []int64
	dev.AddInput("/x", value.TypeInt32, 1, func(_ *Signal, v []value.Value) {
		n, _ := v[0].Int64()
		if n == 0 {
			panic("boom")
		}
		got = append(got, n)
	}, "")
	waitReady(t, []Poller{dev}, dev)

	sender, _ := transport.NewUDP(transport.UDPConfig{Conn: mustListen(t, network.Host("sender"))})
	defer sender.Close()
	for _, n := range []int32{0, 7} {
		sendValue(t, sender, dev, "/x", value.Int32(n))
	}

	if !PollUntil(testTimeout, func() bool { return len(got) == 1 }, dev) {
		t.Fatal("value after the panic was not delivered")
	}
	if got[0] != 7 {
		t.Errorf("got %v, want [7]", got)
	}
	if n := counterTotal(t, reg, "mapper_handler_panics_total"); n != 1 {
		t.Errorf("handler panics = %v, want 1", n)
	}
	if v := dev.Input("/x").Value(); len(v) != 1 || v[0] != value.Int32(7) {
		t.Errorf("Value() = %v, want [7]", v)
	}
}

func TestDataForUnknownSignalIsDropped(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := newTestDevice(t, network, "test")
	called := false
	dev.AddInput("/x", value.TypeInt32, 1, func(*Signal, []value.Value) { called = true }, "")
	waitReady(t, []Poller{dev}, dev)

	sender, _ := transport.NewUDP(transport.UDPConfig{Conn: mustListen(t, network.Host("sender"))})
	defer sender.Close()
	sendValue(t, sender, dev, "/nope", value.Int32(1))
	sendValue(t, sender, dev, "/x", value.String("text"))
	sendValue(t, sender, dev, "/x", value.Int32(1), value.Int32(2))

	PollUntil(10*time.Millisecond, func() bool { return false }, dev)
	if called {
		t.Error("handler called for an invalid update")
	}
}

func mustListen(t *testing.T, host transport.Factory) net.PacketConn {
	t.Helper()
	conn, err := host.ListenUDP(0)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	return conn
}

// sendValue sends a raw value update to one of dev's inputs.
func sendValue(t *testing.T, from *transport.UDP, dev *Device, sig string, vals ...value.Value) {
	t.Helper()
	msg := (&osc.Message{Address: sig}).AppendValue(vals...)
	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if err := from.Send(data, &net.UDPAddr{IP: dev.IP4(), Port: dev.Port()}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

// counterTotal sums every series of the counter called name.
func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
