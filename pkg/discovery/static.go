package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// StaticResolver is an MDNSResolver that answers from a fixed set of
// devices instead of the network. Tests and offline tools use it in place
// of zeroconf.
type StaticResolver struct {
	mu      sync.RWMutex
	entries []*zeroconf.ServiceEntry
}

var _ MDNSResolver = (*StaticResolver)(nil)

// Add makes the device described by txt discoverable at ip.
func (s *StaticResolver) Add(txt DeviceTXT, ip net.IP) error {
	instance, err := InstanceName(txt.Name)
	if err != nil {
		return err
	}
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceDevice, Domain: DefaultDomain},
		HostName:      instance + ".local.",
		Port:          txt.Port,
		Text:          txt.Encode(),
	}
	if ip4 := ip.To4(); ip4 != nil {
		entry.AddrIPv4 = []net.IP{ip4}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// Browse implements MDNSResolver.
func (s *StaticResolver) Browse(ctx context.Context, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	return s.send(ctx, entries, func(e *zeroconf.ServiceEntry) bool { return e.Service == service })
}

// Lookup implements MDNSResolver.
func (s *StaticResolver) Lookup(ctx context.Context, instance, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	return s.send(ctx, entries, func(e *zeroconf.ServiceEntry) bool {
		return e.Service == service && e.Instance == instance
	})
}

// send delivers the matching entries in insertion order. Delivery is
// synchronous, so the caller may close entries once send returns.
func (s *StaticResolver) send(ctx context.Context, entries chan<- *zeroconf.ServiceEntry, match func(*zeroconf.ServiceEntry) bool) error {
	s.mu.RLock()
	var matched []*zeroconf.ServiceEntry
	for _, e := range s.entries {
		if match(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	for _, e := range matched {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
