package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
)

// Default admin bus parameters.
const (
	DefaultBusGroup = "224.0.1.3"
	DefaultBusPort  = 7570
	DefaultTTL      = 1
)

// Factory creates the sockets a device or monitor needs.
// Implementations can provide real network connections or an in-memory
// network for testing.
type Factory interface {
	// ListenUDP opens a unicast datagram socket on port (0 picks any free
	// port). It returns ErrAddressInUse if the port is taken.
	ListenUDP(port int) (net.PacketConn, error)

	// JoinBus opens a socket that receives every datagram sent to group,
	// including the ones it sends itself.
	JoinBus(group *net.UDPAddr) (net.PacketConn, error)

	// Interface returns the name and IPv4 address of the interface the
	// sockets are bound to.
	Interface() (name string, ip net.IP)
}

// UDPFactoryConfig configures a UDPFactory.
type UDPFactoryConfig struct {
	// Interface is the network interface to use (e.g. "eth0").
	// If empty, the first up, multicast-capable, non-loopback IPv4
	// interface is chosen, falling back to loopback.
	Interface string

	// TTL is the multicast TTL (default: 1).
	TTL int
}

// UDPFactory opens real UDP sockets and joins the multicast bus on a
// single interface.
type UDPFactory struct {
	ifi *net.Interface
	ip  net.IP
	ttl int
}

// NewUDPFactory resolves the interface to use and returns a factory.
func NewUDPFactory(config UDPFactoryConfig) (*UDPFactory, error) {
	ifi, ip, err := selectInterface(config.Interface)
	if err != nil {
		return nil, err
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &UDPFactory{ifi: ifi, ip: ip, ttl: ttl}, nil
}

// ListenUDP implements Factory.
func (f *UDPFactory) ListenUDP(port int) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: port %d", ErrAddressInUse, port)
		}
		return nil, err
	}
	return conn, nil
}

// JoinBus implements Factory. The socket is bound with address reuse so
// several processes on one host can share the bus port.
func (f *UDPFactory) JoinBus(group *net.UDPAddr) (net.PacketConn, error) {
	conn, err := net.ListenMulticastUDP("udp4", f.ifi, group)
	if err != nil {
		return nil, fmt.Errorf("joining %v: %w", group, err)
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling multicast loopback: %w", err)
	}
	if err := p.SetMulticastTTL(f.ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting multicast TTL: %w", err)
	}
	if f.ifi != nil {
		if err := p.SetMulticastInterface(f.ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting multicast interface: %w", err)
		}
	}
	return conn, nil
}

// Interface implements Factory.
func (f *UDPFactory) Interface() (string, net.IP) {
	if f.ifi == nil {
		return "", f.ip
	}
	return f.ifi.Name, f.ip
}

// BusAddr returns the UDP address of the admin bus.
func BusAddr(group string, port int) (*net.UDPAddr, error) {
	if group == "" {
		group = DefaultBusGroup
	}
	if port == 0 {
		port = DefaultBusPort
	}
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 multicast group", ErrInvalidAddress, group)
	}
	return &net.UDPAddr{IP: ip.To4(), Port: port}, nil
}

func selectInterface(name string) (*net.Interface, net.IP, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, nil, err
		}
		ip := interfaceIPv4(ifi)
		if ip == nil {
			return nil, nil, fmt.Errorf("%w: %s has no IPv4 address", ErrNoInterface, name)
		}
		return ifi, ip, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	var loopback *net.Interface
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if ifi.Flags&net.FlagLoopback != 0 {
			loopback = ifi
			continue
		}
		if ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if ip := interfaceIPv4(ifi); ip != nil {
			return ifi, ip, nil
		}
	}
	if loopback != nil {
		if ip := interfaceIPv4(loopback); ip != nil {
			return loopback, ip, nil
		}
	}
	return nil, nil, ErrNoInterface
}

func interfaceIPv4(ifi *net.Interface) net.IP {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return nil
}
