package transport

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/pion/logging"
)

// MaxMessageSize is the largest datagram sent or received.
const MaxMessageSize = 4096

// nonBlockingWait is the read deadline used for a "ready data only" read.
// A deadline already in the past would make the runtime fail the read
// before looking at the socket buffer.
const nonBlockingWait = 200 * time.Microsecond

// UDP is a poll-driven datagram endpoint wrapping a net.PacketConn.
// It never reads in the background; see Receive and Poll.
type UDP struct {
	conn  net.PacketConn
	name  string
	buf   []byte
	log   logging.LeveledLogger
	group *net.UDPAddr

	closed bool
}

// UDPConfig configures a UDP endpoint.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection will be created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":9000").
	// Ignored if Conn is provided.
	ListenAddr string

	// Name labels the endpoint in logs ("bus", "data").
	Name string

	// Group is the multicast group this endpoint is joined to, if any.
	// Broadcast sends go to this address.
	Group *net.UDPAddr

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP endpoint with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:  config.Conn,
		name:  config.Name,
		group: config.Group,
		buf:   make([]byte, MaxMessageSize),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}

		conn, err := net.ListenPacket("udp4", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	if u.log != nil {
		u.log.Debugf("%s endpoint on %s", u.name, u.conn.LocalAddr())
	}

	return u, nil
}

// Send sends a datagram to addr. Oversized messages are rejected.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	if u.closed {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	if u.log != nil {
		u.log.Tracef("%s: sending %d bytes to %v", u.name, len(data), addr)
	}

	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("%s: send to %v failed: %v", u.name, addr, err)
		}
		return err
	}
	return nil
}

// Broadcast sends a datagram to the endpoint's multicast group.
func (u *UDP) Broadcast(data []byte) error {
	if u.group == nil {
		return ErrInvalidAddress
	}
	return u.Send(data, u.group)
}

// Receive reads one datagram, waiting at most wait. A wait of zero or less
// only returns data that is already queued. It returns (nil, nil) when
// nothing arrived in time.
func (u *UDP) Receive(wait time.Duration) (*ReceivedMessage, error) {
	if u.closed {
		return nil, ErrClosed
	}
	if wait <= 0 {
		wait = nonBlockingWait
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}

	n, addr, err := u.conn.ReadFrom(u.buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}

	// Make a copy of the data for the handler
	data := make([]byte, n)
	copy(data, u.buf[:n])

	if u.log != nil {
		u.log.Tracef("%s: received %d bytes from %v", u.name, n, addr)
	}

	return &ReceivedMessage{Data: data, Addr: addr, Source: u}, nil
}

// LocalAddr returns the local address the endpoint is bound to.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Port returns the local UDP port, or 0 if unknown.
func (u *UDP) Port() int {
	if a, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Name returns the endpoint label.
func (u *UDP) Name() string { return u.name }

// Close closes the underlying connection.
func (u *UDP) Close() error {
	if u.closed {
		return ErrClosed
	}
	u.closed = true
	return u.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
