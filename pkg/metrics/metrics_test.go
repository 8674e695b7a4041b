package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRegistererDisablesMetrics(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	if m != nil {
		t.Fatal("New(nil) should return nil metrics")
	}
	// All methods are safe on a nil receiver.
	m.Poll("dev", 3)
	m.MessageDropped("dev", ReasonMalformed)
	m.MessagesSent("dev", 1)
	m.HandlerPanic("signal")
	m.SetRecords(KindDevices, 2)
}

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.Poll("/test.1", 2)
	m.Poll("/test.1", 0)
	m.MessageDropped("/test.1", ReasonUnknownSignal)
	m.MessageDropped("/test.1", ReasonUnknownSignal)
	m.MessagesSent("/test.1", 4)
	m.MessagesSent("/test.1", 0)
	m.HandlerPanic("callback")
	m.SetRecords(KindMappings, 5)
	m.SetRecords(KindMappings, 3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"polls", testutil.ToFloat64(m.polls.WithLabelValues("/test.1")), 2},
		{"processed", testutil.ToFloat64(m.processed.WithLabelValues("/test.1")), 2},
		{"dropped", testutil.ToFloat64(m.dropped.WithLabelValues("/test.1", ReasonUnknownSignal)), 2},
		{"sent", testutil.ToFloat64(m.sent.WithLabelValues("/test.1")), 4},
		{"panics", testutil.ToFloat64(m.panics.WithLabelValues("callback")), 1},
		{"records", testutil.ToFloat64(m.records.WithLabelValues(KindMappings)), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry should fail")
	}
}
