package osc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/backkem/mapper/pkg/value"
)

// Reader decodes OSC messages from a byte slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadMessage decodes one message. A message without a type tag string is
// accepted and yields no arguments, as older OSC senders omit it.
func (r *Reader) ReadMessage() (*Message, error) {
	if len(r.data)-r.pos >= 8 && bytes.Equal(r.data[r.pos:r.pos+8], []byte("#bundle\x00")) {
		return nil, ErrBundle
	}

	addr, err := r.getString()
	if err != nil {
		return nil, err
	}
	if !validAddress(addr) {
		return nil, ErrInvalidAddress
	}
	m := &Message{Address: addr}
	if r.pos == len(r.data) {
		return m, nil
	}

	tags, err := r.getString()
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, ErrInvalidTypeTag
	}

	m.Args = make([]value.Value, 0, len(tags)-1)
	for i := 1; i < len(tags); i++ {
		v, err := r.getArg(tags[i])
		if err != nil {
			return nil, err
		}
		m.Args = append(m.Args, v)
	}
	return m, nil
}

func (r *Reader) getArg(tag byte) (value.Value, error) {
	switch tag {
	case 'i':
		b, err := r.take(4)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int32(int32(binary.BigEndian.Uint32(b))), nil
	case 'h':
		b, err := r.take(8)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int64(int64(binary.BigEndian.Uint64(b))), nil
	case 'f':
		b, err := r.take(4)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float32(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 'd':
		b, err := r.take(8)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float64(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case 's', 'S':
		s, err := r.getString()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case 'T':
		return value.Bool(true), nil
	case 'F':
		return value.Bool(false), nil
	case 'N':
		return value.Unset(), nil
	}
	return value.Value{}, ErrUnsupportedTag
}

// getString reads a NUL-terminated string and skips its padding.
func (r *Reader) getString() (string, error) {
	rest := r.data[r.pos:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", ErrUnterminatedString
	}
	padded := (end/4 + 1) * 4
	if padded > len(rest) {
		return "", ErrUnexpectedEOF
	}
	r.pos += padded
	return string(rest[:end]), nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if len(r.data)-r.pos < n {
		return nil, ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
