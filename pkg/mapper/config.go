package mapper

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/backkem/mapper/pkg/discovery"
	"github.com/backkem/mapper/pkg/metrics"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/pion/logging"
)

// Defaults.
const (
	// DefaultPort is the first data port a device tries.
	DefaultPort = 9000

	// DefaultClaimWindow is how long a name claim must go unchallenged.
	DefaultClaimWindow = 500 * time.Millisecond

	// DefaultMaxMessagesPerPoll bounds the work done by one Poll call.
	DefaultMaxMessagesPerPoll = 64

	// portSearchRange is how many ports above the base port a device tries
	// before giving up.
	portSearchRange = 100
)

// Advertiser publishes ready devices for DNS-SD discovery.
// *discovery.Advertiser implements it.
type Advertiser interface {
	StartDevice(txt discovery.DeviceTXT) error
	StopDevice(name string) error
}

var _ Advertiser = (*discovery.Advertiser)(nil)

// BusConfig locates the admin bus. Zero values select the defaults
// (224.0.1.3:7570).
type BusConfig struct {
	Group string
	Port  int
}

// DeviceConfig holds all configuration for a Device.
type DeviceConfig struct {
	// Name is the base name, e.g. "test". A leading slash is dropped. The
	// allocated name is "/<Name>.<ordinal>".
	Name string

	// Port is the first data port to try (default: 9000). If taken, the
	// following ports are tried.
	Port int

	// Bus locates the admin bus.
	Bus BusConfig

	// Interface names the network interface for the default transport.
	// Ignored when TransportFactory is set.
	Interface string

	// ClaimWindow is how long a name claim must go unchallenged before the
	// device is ready (default: 500ms).
	ClaimWindow time.Duration

	// MaxMessagesPerPoll bounds the messages handled by one Poll
	// (default: 64).
	MaxMessagesPerPoll int

	// Callbacks - Optional
	OnStateChanged func(state DeviceState)

	// Advertiser, if set, advertises the device once it is ready.
	Advertiser Advertiser

	// Metrics, if set, records poll and message counters.
	Metrics *metrics.Metrics

	// LoggerFactory for device logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// TransportFactory opens the device's sockets. If nil, real UDP
	// sockets are used.
	TransportFactory transport.Factory
}

// Validate checks the configuration for errors.
func (c *DeviceConfig) Validate() error {
	name := strings.TrimPrefix(c.Name, "/")
	if name == "" || strings.ContainsFunc(name, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	}) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceName, c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if err := c.Bus.validate(); err != nil {
		return err
	}
	if c.ClaimWindow < 0 {
		return fmt.Errorf("%w: negative claim window", ErrConfig)
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *DeviceConfig) applyDefaults() {
	c.Name = strings.TrimPrefix(c.Name, "/")

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.ClaimWindow == 0 {
		c.ClaimWindow = DefaultClaimWindow
	}

	if c.MaxMessagesPerPoll <= 0 {
		c.MaxMessagesPerPoll = DefaultMaxMessagesPerPoll
	}
}

// MonitorConfig holds all configuration for a Monitor.
type MonitorConfig struct {
	// Bus locates the admin bus.
	Bus BusConfig

	// Interface names the network interface for the default transport.
	// Ignored when TransportFactory is set.
	Interface string

	// DisableAutoRequest stops the monitor from requesting the signals,
	// links and connections of every newly seen device.
	DisableAutoRequest bool

	// MaxMessagesPerPoll bounds the messages handled by one Poll
	// (default: 64).
	MaxMessagesPerPoll int

	// Metrics, if set, records poll counters and database sizes.
	Metrics *metrics.Metrics

	// LoggerFactory for monitor and database logging. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory

	// TransportFactory opens the monitor's bus socket. If nil, real UDP
	// sockets are used.
	TransportFactory transport.Factory
}

// Validate checks the configuration for errors.
func (c *MonitorConfig) Validate() error {
	return c.Bus.validate()
}

// applyDefaults fills in default values for unset fields.
func (c *MonitorConfig) applyDefaults() {
	if c.MaxMessagesPerPoll <= 0 {
		c.MaxMessagesPerPoll = DefaultMaxMessagesPerPoll
	}
}

func (b BusConfig) validate() error {
	if b.Port < 0 || b.Port > 65535 {
		return fmt.Errorf("%w: bus port %d", ErrInvalidPort, b.Port)
	}
	if _, err := transport.BusAddr(b.Group, b.Port); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// openBus joins the admin bus through factory, creating a real UDP factory
// when none is given.
func openBus(factory transport.Factory, iface string, bus BusConfig, lf logging.LoggerFactory) (transport.Factory, *transport.UDP, error) {
	if factory == nil {
		f, err := transport.NewUDPFactory(transport.UDPFactoryConfig{Interface: iface})
		if err != nil {
			return nil, nil, err
		}
		factory = f
	}
	group, err := transport.BusAddr(bus.Group, bus.Port)
	if err != nil {
		return nil, nil, err
	}
	conn, err := factory.JoinBus(group)
	if err != nil {
		return nil, nil, err
	}
	ep, err := transport.NewUDP(transport.UDPConfig{
		Conn:          conn,
		Name:          "bus",
		Group:         group,
		LoggerFactory: lf,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return factory, ep, nil
}
