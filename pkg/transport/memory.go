package transport

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/transport/v3/deadline"
)

// firstEphemeralPort is where MemoryNetwork starts handing out port 0 binds.
const firstEphemeralPort = 49152

// NetworkCondition configures network behavior simulation.
// Use this to test protocol behavior under adverse network conditions.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of duplicating a packet (0.0 - 1.0).
	DuplicateRate float64
}

// MemoryNetwork is an in-process datagram network with multicast support.
// Each Host gets its own IPv4 address; datagrams sent to a multicast group
// are delivered to every socket joined to that group, the sender included.
//
// Delivery is synchronous: WriteTo enqueues directly into the receivers'
// queues, so a datagram is readable as soon as the send returns. No
// goroutines are involved.
type MemoryNetwork struct {
	mu        sync.Mutex
	hosts     int
	unicast   map[string]*memConn
	groups    map[string]map[*memConn]struct{}
	nextPort  map[string]int
	condition NetworkCondition
	rng       *rand.Rand
	sent      int
	dropped   int
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		unicast:  make(map[string]*memConn),
		groups:   make(map[string]map[*memConn]struct{}),
		nextPort: make(map[string]int),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// SetCondition configures network condition simulation.
func (n *MemoryNetwork) SetCondition(cond NetworkCondition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.condition = cond
}

// Stats returns the number of datagrams sent and dropped so far.
func (n *MemoryNetwork) Stats() (sent, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.dropped
}

// Host returns a Factory for a new host on the network.
func (n *MemoryNetwork) Host(name string) Factory {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hosts++
	return &memHost{
		network: n,
		name:    name,
		ip:      net.IPv4(10, 0, byte(n.hosts>>8), byte(n.hosts)).To4(),
	}
}

type memHost struct {
	network *MemoryNetwork
	name    string
	ip      net.IP
}

// ListenUDP implements Factory.
func (h *memHost) ListenUDP(port int) (net.PacketConn, error) {
	n := h.network
	n.mu.Lock()
	defer n.mu.Unlock()

	host := h.ip.String()
	if port == 0 {
		port = n.nextPort[host]
		if port == 0 {
			port = firstEphemeralPort
		}
		for n.unicast[addrKey(h.ip, port)] != nil {
			port++
		}
		n.nextPort[host] = port + 1
	}

	key := addrKey(h.ip, port)
	if n.unicast[key] != nil {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, key)
	}
	c := newMemConn(n, &net.UDPAddr{IP: h.ip, Port: port}, nil)
	n.unicast[key] = c
	return c, nil
}

// JoinBus implements Factory.
func (h *memHost) JoinBus(group *net.UDPAddr) (net.PacketConn, error) {
	n := h.network
	n.mu.Lock()
	defer n.mu.Unlock()

	key := group.String()
	c := newMemConn(n, &net.UDPAddr{IP: h.ip, Port: group.Port}, group)
	if n.groups[key] == nil {
		n.groups[key] = make(map[*memConn]struct{})
	}
	n.groups[key][c] = struct{}{}
	return c, nil
}

// Interface implements Factory.
func (h *memHost) Interface() (string, net.IP) {
	return h.name, h.ip
}

// deliver routes a datagram. Unknown destinations are silently dropped, as
// with real UDP.
func (n *MemoryNetwork) deliver(from *memConn, data []byte, to net.Addr) {
	n.mu.Lock()
	n.sent++
	if n.condition.DropRate > 0 && n.rng.Float64() < n.condition.DropRate {
		n.dropped++
		n.mu.Unlock()
		return
	}
	copies := 1
	if n.condition.DuplicateRate > 0 && n.rng.Float64() < n.condition.DuplicateRate {
		copies = 2
	}

	var targets []*memConn
	if members, ok := n.groups[to.String()]; ok {
		for c := range members {
			targets = append(targets, c)
		}
	} else if c := n.unicast[to.String()]; c != nil {
		targets = append(targets, c)
	}
	n.mu.Unlock()

	for _, c := range targets {
		for i := 0; i < copies; i++ {
			c.enqueue(data, from.local)
		}
	}
}

func (n *MemoryNetwork) unregister(c *memConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.group != nil {
		delete(n.groups[c.group.String()], c)
		return
	}
	key := c.local.String()
	if n.unicast[key] == c {
		delete(n.unicast, key)
	}
}

func addrKey(ip net.IP, port int) string {
	return (&net.UDPAddr{IP: ip, Port: port}).String()
}

type memPacket struct {
	data []byte
	from net.Addr
}

// memConn is a net.PacketConn on a MemoryNetwork.
type memConn struct {
	network *MemoryNetwork
	local   *net.UDPAddr
	group   *net.UDPAddr

	mu     sync.Mutex
	queue  []memPacket
	notify chan struct{}
	closed chan struct{}
	once   sync.Once

	readDeadline *deadline.Deadline
}

func newMemConn(n *MemoryNetwork, local, group *net.UDPAddr) *memConn {
	return &memConn{
		network:      n,
		local:        local,
		group:        group,
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
		readDeadline: deadline.New(),
	}
}

func (c *memConn) enqueue(data []byte, from net.Addr) {
	select {
	case <-c.closed:
		return
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	c.queue = append(c.queue, memPacket{data: buf, from: from})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ReadFrom implements net.PacketConn. Queued data is returned even when the
// read deadline has already passed.
func (c *memConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			p := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return copy(b, p.data), p.from, nil
		}
		c.mu.Unlock()

		select {
		case <-c.closed:
			return 0, nil, net.ErrClosed
		default:
		}

		select {
		case <-c.notify:
		case <-c.readDeadline.Done():
			return 0, nil, os.ErrDeadlineExceeded
		case <-c.closed:
			return 0, nil, net.ErrClosed
		}
	}
}

// WriteTo implements net.PacketConn.
func (c *memConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if addr == nil {
		return 0, ErrInvalidAddress
	}
	c.network.deliver(c, b, addr)
	return len(b), nil
}

// Close implements net.PacketConn.
func (c *memConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.network.unregister(c)
	})
	return nil
}

// LocalAddr implements net.PacketConn.
func (c *memConn) LocalAddr() net.Addr { return c.local }

// SetDeadline implements net.PacketConn.
func (c *memConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

// SetReadDeadline implements net.PacketConn.
func (c *memConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Set(t)
	return nil
}

// SetWriteDeadline implements net.PacketConn. Writes never block.
func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

// Verify memConn implements net.PacketConn.
var _ net.PacketConn = (*memConn)(nil)
