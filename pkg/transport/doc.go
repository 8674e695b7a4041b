// Package transport provides the poll-driven UDP endpoints used by devices
// and monitors.
//
// Nothing in this package starts a goroutine. Datagrams are only read when
// the owner calls Poll, which waits at most the given timeout and then hands
// every pending datagram to a MessageHandler on the calling goroutine.
//
// Sockets are obtained from a Factory. UDPFactory opens real sockets and
// joins the IPv4 multicast admin bus; MemoryNetwork provides an in-process
// network with the same semantics for deterministic tests:
//
//	network := transport.NewMemoryNetwork()
//	hostA := network.Host("a")
//	hostB := network.Host("b")
//	// hand hostA and hostB to two devices; multicast on the bus reaches both
package transport
