package osc

import (
	"bytes"
	"strings"

	"github.com/backkem/mapper/pkg/value"
)

// MaxPacketSize is the largest datagram the codec will produce or accept.
const MaxPacketSize = 4096

// Message is a single OSC message.
type Message struct {
	Address string
	Args    []value.Value
}

// NewMessage creates a message with the given address and arguments.
// Arguments are converted with value.FromAny; nil becomes an OSC nil.
// Conversion failures panic, so callers pass literal Go values only.
func NewMessage(address string, args ...any) *Message {
	m := &Message{Address: address}
	for _, a := range args {
		m.Append(a)
	}
	return m
}

// Append adds an argument. See NewMessage for conversion rules.
func (m *Message) Append(arg any) *Message {
	v, err := value.FromAny(arg)
	if err != nil {
		panic(err)
	}
	m.Args = append(m.Args, v)
	return m
}

// AppendValue adds an already typed argument.
func (m *Message) AppendValue(v ...value.Value) *Message {
	m.Args = append(m.Args, v...)
	return m
}

// TypeTags returns the type tag string including the leading comma.
func (m *Message) TypeTags() string {
	var sb strings.Builder
	sb.WriteByte(',')
	for _, a := range m.Args {
		sb.WriteByte(tagFor(a))
	}
	return sb.String()
}

// MarshalBinary encodes the message.
func (m *Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteMessage(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String formats the message as "<address> ,tags arg arg ...".
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Address)
	sb.WriteByte(' ')
	sb.WriteString(m.TypeTags())
	for _, a := range m.Args {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	return sb.String()
}

// Unmarshal decodes a single message from data.
func Unmarshal(data []byte) (*Message, error) {
	return NewReader(data).ReadMessage()
}

func tagFor(v value.Value) byte {
	switch v.Type() {
	case value.TypeBool:
		if b, _ := v.Truth(); b {
			return 'T'
		}
		return 'F'
	case value.TypeUnset:
		return 'N'
	}
	return byte(v.Type())
}
