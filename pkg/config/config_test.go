package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/mapper/pkg/mapper"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
	"github.com/google/go-cmp/cmp"
	"github.com/pion/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
bus:
  group: 224.0.1.4
  port: 7571
device:
  name: synth
  port: 9100
  claim_window: 250ms
  properties:
    width: 256
  inputs:
    - {name: /freq, type: i, unit: Hz, min: 20, max: 20000}
  outputs:
    - {name: /env, type: f, length: 2}
mqtt:
  broker: tcp://localhost:1883
  qos: 1
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	minFreq, maxFreq := 20.0, 20000.0
	want := DeviceConfig{
		Name:        "synth",
		Port:        9100,
		ClaimWindow: 250 * time.Millisecond,
		Properties:  map[string]any{"width": 256},
		Inputs:      []SignalConfig{{Name: "/freq", Type: "i", Unit: "Hz", Min: &minFreq, Max: &maxFreq}},
		Outputs:     []SignalConfig{{Name: "/env", Type: "f", Length: 2}},
	}
	if diff := cmp.Diff(want, cfg.Device); diff != "" {
		t.Errorf("Device mismatch (-want +got):\n%s", diff)
	}
	if cfg.Bus.Group != "224.0.1.4" || cfg.Bus.Port != 7571 {
		t.Errorf("Bus = %+v", cfg.Bus)
	}
	if !cfg.MQTTEnabled() || cfg.Bridge(nil).QoS != 1 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	dc := cfg.MapperDevice(nil)
	if dc.Name != "synth" || dc.Bus.Port != 7571 || dc.ClaimWindow != 250*time.Millisecond {
		t.Errorf("MapperDevice() = %+v", dc)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.MQTTEnabled() {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "bus: [1, 2"},
		{"bad port", "device: {port: 70000}"},
		{"bad signal type", "device: {inputs: [{name: /x, type: s}]}"},
		{"signal without slash", "device: {outputs: [{name: x}]}"},
		{"bad qos", "mqtt: {qos: 3}"},
		{"bad level", "logging: {level: loud}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() expected error")
			}
		})
	}

	if _, err := Load("/nonexistent/mapper.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Bus.Port = -1
	cfg.MQTT.QoS = 5
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() error = %v, want ErrInvalid", err)
	}
	for _, want := range []string{"bus.port", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "device: {name: file, port: 9000}\n")
	t.Setenv("MAPPER_DEVICE_NAME", "env")
	t.Setenv("MAPPER_BUS_PORT", "7600")
	t.Setenv("MAPPER_METRICS_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Name != "env" || cfg.Device.Port != 9000 || cfg.Bus.Port != 7600 || cfg.Metrics.Addr != ":9100" {
		t.Errorf("config = %+v", cfg)
	}

	t.Setenv("MAPPER_DEVICE_PORT", "nine")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() with bad MAPPER_DEVICE_PORT error = %v, want ErrInvalid", err)
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		spec    string
		want    SignalConfig
		wantErr bool
	}{
		{"/freq:i:Hz", SignalConfig{Name: "/freq", Type: "i", Unit: "Hz"}, false},
		{"gain:f", SignalConfig{Name: "/gain", Type: "f"}, false},
		{"freq", SignalConfig{}, true},
		{"freq:s", SignalConfig{}, true},
		{":f", SignalConfig{}, true},
		{"a:f:u:x", SignalConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseSignal(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSignal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSignal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for level, want := range map[string]logging.LogLevel{
		"":      logging.LogLevelInfo,
		"DEBUG": logging.LogLevelDebug,
		"off":   logging.LogLevelDisabled,
		"warn":  logging.LogLevelWarn,
	} {
		got, err := ParseLogLevel(level)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v, want %v", level, got, err, want)
		}
	}
}

func TestAddSignals(t *testing.T) {
	minFreq := 20.0
	cfg := Default()
	cfg.Device.Name = "synth"
	cfg.Device.Properties = map[string]any{"width": 256}
	cfg.Device.Inputs = []SignalConfig{{Name: "/freq", Type: "i", Unit: "Hz", Min: &minFreq}}
	cfg.Device.Outputs = []SignalConfig{{Name: "/env", Length: 2}}

	dc := cfg.MapperDevice(nil)
	dc.TransportFactory = transport.NewMemoryNetwork().Host("synth")
	dev, err := mapper.NewDevice(dc)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	defer dev.Close()

	if err := cfg.AddSignals(dev, nil); err != nil {
		t.Fatalf("AddSignals() error = %v", err)
	}
	in := dev.Input("/freq")
	if in == nil || in.Type() != value.TypeInt32 || in.Unit() != "Hz" || in.Minimum() != value.Int32(20) {
		t.Errorf("input = %+v", in)
	}
	out := dev.Output("/env")
	if out == nil || out.Type() != value.TypeFloat32 || out.Length() != 2 {
		t.Errorf("output = %+v", out)
	}
	if v, ok := dev.Properties().Get("width"); !ok || v != value.Int32(256) {
		t.Errorf("width = %v, %v", v, ok)
	}

	if err := cfg.AddSignals(dev, nil); !errors.Is(err, mapper.ErrDuplicateSignal) {
		t.Errorf("second AddSignals() error = %v, want ErrDuplicateSignal", err)
	}
}
