// Package metrics exposes Prometheus instruments for devices and monitors.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional Metrics without checking for it.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mapper"

// Drop reasons used with MessageDropped.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownSignal = "unknown_signal"
	ReasonBadValue      = "bad_value"
	ReasonSendFailed    = "send_failed"
	ReasonRejected      = "rejected"
)

// Record kinds used with SetRecords.
const (
	KindDevices  = "devices"
	KindInputs   = "inputs"
	KindOutputs  = "outputs"
	KindLinks    = "links"
	KindMappings = "mappings"
)

// Metrics holds the counters shared by devices and monitors. The component
// label is the device name or "monitor".
type Metrics struct {
	polls     *prometheus.CounterVec // By component
	processed *prometheus.CounterVec // By component
	dropped   *prometheus.CounterVec // By component and reason
	sent      *prometheus.CounterVec // By component
	panics    *prometheus.CounterVec // By kind (signal handler, callback)
	records   *prometheus.GaugeVec   // By kind
}

// New creates the instruments and registers them with reg. If reg is nil,
// New returns nil and metrics are disabled.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of poll passes",
		}, []string{"component"}),

		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Total number of messages handled during polls",
		}, []string{"component"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped",
		}, []string{"component", "reason"}),

		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent",
		}, []string{"component"}),

		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics",
		}, []string{"kind"}),

		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "records",
			Help:      "Number of records held by the monitor database",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.polls, m.processed, m.dropped, m.sent, m.panics, m.records} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

// Poll records one poll pass of component that handled n messages.
func (m *Metrics) Poll(component string, n int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(component).Inc()
	if n > 0 {
		m.processed.WithLabelValues(component).Add(float64(n))
	}
}

// MessageDropped counts a message component could not use.
func (m *Metrics) MessageDropped(component, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(component, reason).Inc()
}

// MessagesSent counts n outgoing messages.
func (m *Metrics) MessagesSent(component string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sent.WithLabelValues(component).Add(float64(n))
}

// HandlerPanic counts a recovered panic.
func (m *Metrics) HandlerPanic(kind string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(kind).Inc()
}

// SetRecords sets the database size gauge for kind.
func (m *Metrics) SetRecords(kind string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(kind).Set(float64(n))
}
