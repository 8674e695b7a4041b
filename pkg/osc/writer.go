package osc

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/backkem/mapper/pkg/value"
)

// Writer encodes OSC messages to an io.Writer.
type Writer struct {
	w   io.Writer
	pad [4]byte
}

// NewWriter creates a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage writes the address, type tag string and arguments of m.
func (w *Writer) WriteMessage(m *Message) error {
	if !validAddress(m.Address) {
		return ErrInvalidAddress
	}
	if err := w.putString(m.Address); err != nil {
		return err
	}
	if err := w.putString(m.TypeTags()); err != nil {
		return err
	}
	for _, a := range m.Args {
		if err := w.putArg(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) putArg(v value.Value) error {
	var buf [8]byte
	switch v.Type() {
	case value.TypeInt32:
		i, _ := v.Int64()
		binary.BigEndian.PutUint32(buf[:4], uint32(int32(i)))
		return w.write(buf[:4])
	case value.TypeInt64:
		i, _ := v.Int64()
		binary.BigEndian.PutUint64(buf[:8], uint64(i))
		return w.write(buf[:8])
	case value.TypeFloat32:
		f, _ := v.Float64()
		binary.BigEndian.PutUint32(buf[:4], math.Float32bits(float32(f)))
		return w.write(buf[:4])
	case value.TypeFloat64:
		f, _ := v.Float64()
		binary.BigEndian.PutUint64(buf[:8], math.Float64bits(f))
		return w.write(buf[:8])
	case value.TypeString:
		s, _ := v.Text()
		return w.putString(s)
	case value.TypeBool, value.TypeUnset:
		// Carried entirely in the type tag.
		return nil
	}
	return ErrUnsupportedTag
}

// putString writes s followed by 1-4 NUL bytes so the total is a multiple of 4.
func (w *Writer) putString(s string) error {
	if _, err := io.WriteString(w.w, s); err != nil {
		return err
	}
	n := 4 - len(s)%4
	return w.write(w.pad[:n])
}

func (w *Writer) write(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

func validAddress(addr string) bool {
	return len(addr) > 0 && addr[0] == '/'
}
