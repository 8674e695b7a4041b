// Package integration provides test infrastructure for end-to-end tests of
// devices and monitors sharing one network.
package integration

import (
	"testing"
	"time"

	"github.com/backkem/mapper/pkg/mapper"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/pion/logging"
)

// DefaultTimeout bounds every wait in the integration tests.
const DefaultTimeout = 5 * time.Second

// Network holds the devices and monitors of one test scenario. All of them
// are polled together by Until and Eventually.
//
// Example usage:
//
//	n := NewNetwork(t, NetworkConfig{})
//	send := n.AddDevice("testsend")
//	mon := n.AddMonitor()
//	n.Until("ready", send.Ready)
type Network struct {
	// Memory is the simulated network, nil when running on real sockets.
	Memory *transport.MemoryNetwork

	t             *testing.T
	loggerFactory logging.LoggerFactory
	timeout       time.Duration
	pollers       []mapper.Poller
}

// NetworkConfig configures a test network.
type NetworkConfig struct {
	// Condition simulates packet loss and duplication on the memory
	// network.
	Condition transport.NetworkCondition

	// RealSockets runs devices and monitors on the host's UDP stack
	// instead of a memory network.
	RealSockets bool

	// Timeout overrides DefaultTimeout.
	Timeout time.Duration

	// LoggerFactory for all participants. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewNetwork creates an empty test network. Participants are closed when
// the test ends.
func NewNetwork(t *testing.T, config NetworkConfig) *Network {
	t.Helper()
	n := &Network{
		t:             t,
		loggerFactory: config.LoggerFactory,
		timeout:       config.Timeout,
	}
	if n.timeout == 0 {
		n.timeout = DefaultTimeout
	}
	if !config.RealSockets {
		n.Memory = transport.NewMemoryNetwork()
		n.Memory.SetCondition(config.Condition)
	}
	return n
}

// AddDevice creates a device with base name name on its own host.
func (n *Network) AddDevice(name string) *mapper.Device {
	n.t.Helper()
	var config mapper.DeviceConfig
	if n.Memory != nil {
		config = mapper.TestDeviceConfig(n.Memory, name)
	} else {
		config = mapper.DeviceConfig{Name: name, ClaimWindow: mapper.TestClaimWindow}
	}
	config.LoggerFactory = n.loggerFactory

	dev, err := mapper.NewDevice(config)
	if err != nil {
		n.t.Fatalf("NewDevice(%q) error = %v", name, err)
	}
	n.t.Cleanup(func() { dev.Close() })
	n.pollers = append(n.pollers, dev)
	return dev
}

// AddMonitor creates a monitor on its own host.
func (n *Network) AddMonitor() *mapper.Monitor {
	n.t.Helper()
	var config mapper.MonitorConfig
	if n.Memory != nil {
		config = mapper.TestMonitorConfig(n.Memory)
	}
	config.LoggerFactory = n.loggerFactory

	mon, err := mapper.NewMonitor(config)
	if err != nil {
		n.t.Fatalf("NewMonitor() error = %v", err)
	}
	n.t.Cleanup(func() { mon.Close() })
	n.pollers = append(n.pollers, mon)
	return mon
}

// Until polls every participant until cond holds, failing the test on
// timeout.
func (n *Network) Until(what string, cond func() bool) {
	n.t.Helper()
	if !mapper.PollUntil(n.timeout, cond, n.pollers...) {
		n.t.Fatalf("timed out waiting for %s", what)
	}
}

// Eventually calls action, then polls for up to every, until cond holds.
// It suits lossy networks, where a single request may be lost.
func (n *Network) Eventually(what string, every time.Duration, action func() error, cond func() bool) {
	n.t.Helper()
	deadline := time.Now().Add(n.timeout)
	for time.Now().Before(deadline) {
		if err := action(); err != nil {
			n.t.Fatalf("%s: %v", what, err)
		}
		if mapper.PollUntil(every, cond, n.pollers...) {
			return
		}
	}
	n.t.Fatalf("timed out waiting for %s", what)
}

// Settle polls every participant for d.
func (n *Network) Settle(d time.Duration) {
	mapper.PollUntil(d, func() bool { return false }, n.pollers...)
}
