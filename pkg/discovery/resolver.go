package discovery

import (
	"context"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedDevice contains information about a discovered device.
type ResolvedDevice struct {
	// InstanceName is the DNS-SD instance name ("test.1").
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the device's data port.
	Port int

	// IPs contains the resolved IP addresses, IPv4 first.
	IPs []net.IP

	// TXT is the decoded device payload. Nil if the TXT records did not
	// parse; Text still holds the raw pairs.
	TXT *DeviceTXT

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string
}

// PreferredIP returns the first IPv4 address, or the first address of any
// family. Returns nil if no addresses are available.
func (r *ResolvedDevice) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// Name returns the device name, from the TXT payload if present and from
// the instance name otherwise.
func (r *ResolvedDevice) Name() string {
	if r.TXT != nil {
		return r.TXT.Name
	}
	return "/" + r.InstanceName
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

// Browse blocks until ctx is done. zeroconf closes the channel it is given,
// so entries are forwarded from a private one.
func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, inner); err != nil {
		return err
	}
	forward(ctx, inner, entries)
	return nil
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, inner); err != nil {
		return err
	}
	forward(ctx, inner, entries)
	return nil
}

func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) {
	for entry := range in {
		select {
		case out <- entry:
		case <-ctx.Done():
		}
	}
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration
}

// Resolver discovers advertised devices via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	return &Resolver{
		config:   config,
		resolver: resolver,
	}, nil
}

// Browse discovers devices on the network. The returned channel receives
// devices until the context is cancelled or the browse timeout expires,
// and is then closed.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedDevice, error) {
	results := make(chan ResolvedDevice)
	entries := make(chan *zeroconf.ServiceEntry)

	ctx, cancel := r.withTimeout(ctx, r.config.BrowseTimeout)

	go func() {
		defer cancel()
		defer close(results)

		go func() {
			defer close(entries)
			r.resolver.Browse(ctx, ServiceDevice, DefaultDomain, entries)
		}()

		for entry := range entries {
			select {
			case results <- entryToResolvedDevice(entry):
			case <-ctx.Done():
				// Drain so the browse goroutine can finish.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// Lookup finds a device by its full name ("/test.1").
func (r *Resolver) Lookup(ctx context.Context, deviceName string) (*ResolvedDevice, error) {
	instanceName, err := InstanceName(deviceName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 1)

	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, ServiceDevice, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		dev := entryToResolvedDevice(entry)
		return &dev, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// withTimeout applies timeout if ctx has no deadline of its own.
func (r *Resolver) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// entryToResolvedDevice converts a zeroconf.ServiceEntry to ResolvedDevice.
func entryToResolvedDevice(entry *zeroconf.ServiceEntry) ResolvedDevice {
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	dev := ResolvedDevice{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          ips,
		Text:         ParseTXT(entry.Text),
	}
	if txt, err := ParseDeviceTXT(entry.Text); err == nil {
		txt.Port = entry.Port
		dev.TXT = txt
	}
	return dev
}
