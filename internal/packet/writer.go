package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSmartRange is returned when a value cannot be represented as a smart.
var ErrSmartRange = errors.New("packet: value out of smart range")

// Writer appends big-endian values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity for n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// P1 writes one byte.
func (w *Writer) P1(v uint8) { w.buf = append(w.buf, v) }

// P2 writes a big-endian uint16.
func (w *Writer) P2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

// P3 writes the low 24 bits of v big-endian.
func (w *Writer) P3(v uint32) { w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v)) }

// P4 writes a big-endian uint32.
func (w *Writer) P4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

// PBytes writes b verbatim.
func (w *Writer) PBytes(b []byte) { w.buf = append(w.buf, b...) }

// PSmart1or2 writes an unsigned smart in [0, 32768).
func (w *Writer) PSmart1or2(v int32) error {
	switch {
	case v >= 0 && v < 0x80:
		w.P1(uint8(v))
	case v >= 0 && v < 0x8000:
		w.P2(uint16(v + 0x8000))
	default:
		return fmt.Errorf("%w: %d", ErrSmartRange, v)
	}
	return nil
}

// PSmart1or2Signed writes a signed smart in [-16384, 16384).
func (w *Writer) PSmart1or2Signed(v int32) error {
	switch {
	case v >= -0x40 && v < 0x40:
		w.P1(uint8(v + 0x40))
	case v >= -0x4000 && v < 0x4000:
		w.P2(uint16(v + 0xC000))
	default:
		return fmt.Errorf("%w: %d", ErrSmartRange, v)
	}
	return nil
}

// PSmart2or4 writes an unsigned smart in [0, 2^31).
func (w *Writer) PSmart2or4(v uint32) error {
	switch {
	case v < 0x8000:
		w.P2(uint16(v))
	case v <= 0x7FFFFFFF:
		w.P4(v | 0x80000000)
	default:
		return fmt.Errorf("%w: %d", ErrSmartRange, v)
	}
	return nil
}
