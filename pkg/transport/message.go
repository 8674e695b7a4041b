package transport

import "net"

// ReceivedMessage represents an incoming datagram.
// Data holds the raw bytes exactly as received; decoding is left to the
// protocol layer.
type ReceivedMessage struct {
	// Data contains the raw message bytes.
	Data []byte
	// Addr is the sender's address.
	Addr net.Addr
	// Source is the endpoint the datagram arrived on.
	Source *UDP
}

// MessageHandler is called for each received message during Poll.
// It runs on the polling goroutine and must not block.
type MessageHandler func(msg *ReceivedMessage)
