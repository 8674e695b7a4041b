package discovery

import (
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// activeService tracks an active DNS-SD service registration.
type activeService struct {
	server       MDNSServer
	instanceName string
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes ready devices as _mapper._udp DNS-SD services.
// One Advertiser can serve several devices of a process; each device is
// keyed by its full name.
type Advertiser struct {
	config   AdvertiserConfig
	factory  MDNSServerFactory
	log      logging.LeveledLogger
	mu       sync.RWMutex
	services map[string]*activeService
	closed   bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:   config,
		factory:  factory,
		services: make(map[string]*activeService),
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// StartDevice begins advertising a device.
func (a *Advertiser) StartDevice(txt DeviceTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: device txt validation failed: %w", err)
	}
	instanceName, _ := InstanceName(txt.Name)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if _, exists := a.services[txt.Name]; exists {
		return ErrAlreadyStarted
	}

	txtRecords := txt.Encode()
	if a.log != nil {
		a.log.Debugf("Registering mDNS service: instance=%s service=%s domain=%s port=%d",
			instanceName, ServiceDevice, DefaultDomain, txt.Port)
		a.log.Tracef("TXT records: %v", txtRecords)
	}

	server, err := a.factory.Register(
		instanceName,
		ServiceDevice,
		DefaultDomain,
		txt.Port,
		txtRecords,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", txt.Name, err)
	}

	if a.log != nil {
		a.log.Infof("mDNS registration successful for %s", txt.Name)
	}

	a.services[txt.Name] = &activeService{
		server:       server,
		instanceName: instanceName,
	}

	return nil
}

// StopDevice stops advertising a device.
func (a *Advertiser) StopDevice(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	svc, exists := a.services[name]
	if !exists {
		return ErrNotStarted
	}

	svc.server.Shutdown()
	delete(a.services, name)

	return nil
}

// Close stops all services and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	for _, svc := range a.services {
		svc.server.Shutdown()
	}
	a.services = nil
	a.closed = true

	return nil
}

// IsAdvertising returns true if the device is currently being advertised.
func (a *Advertiser) IsAdvertising(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, exists := a.services[name]
	return exists
}

// Devices returns the names of the advertised devices, sorted.
func (a *Advertiser) Devices() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.services))
	for name := range a.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
