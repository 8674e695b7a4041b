package mapper

import (
	"time"

	"github.com/backkem/mapper/pkg/transport"
)

// TestClaimWindow is the claim window used by TestDeviceConfig.
const TestClaimWindow = 20 * time.Millisecond

// TestDeviceConfig returns a DeviceConfig for a device on its own host of
// network, with a short claim window.
//
// Example:
//
//	network := transport.NewMemoryNetwork()
//	dev, _ := mapper.NewDevice(mapper.TestDeviceConfig(network, "test"))
//	mon, _ := mapper.NewMonitor(mapper.TestMonitorConfig(network))
//	mapper.PollUntil(time.Second, dev.Ready, dev, mon)
func TestDeviceConfig(network *transport.MemoryNetwork, name string) DeviceConfig {
	return DeviceConfig{
		Name:             name,
		ClaimWindow:      TestClaimWindow,
		TransportFactory: network.Host(name),
	}
}

// TestMonitorConfig returns a MonitorConfig for a monitor on its own host
// of network.
func TestMonitorConfig(network *transport.MemoryNetwork) MonitorConfig {
	return MonitorConfig{
		TransportFactory: network.Host("monitor"),
	}
}
