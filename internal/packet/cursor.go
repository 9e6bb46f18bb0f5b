// Package packet provides bounds-checked readers and writers for the
// big-endian binary layouts used by the archive formats.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read or seek would pass the end of the buffer.
var ErrOutOfBounds = errors.New("packet: read out of bounds")

// Cursor reads sequentially or randomly from an immutable byte slice.
//
// Every read is bounds-checked. A failed read returns an error wrapping
// ErrOutOfBounds and leaves the position unchanged. Slices returned by Bytes
// and Peek alias the underlying buffer and must not be modified.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a Cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Len returns the total length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.buf) }

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Seek moves to the absolute offset off. Seeking to Len() is allowed.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: seek to %d in buffer of %d bytes", ErrOutOfBounds, off, len(c.buf))
	}
	c.pos = off
	return nil
}

// Skip moves n bytes relative to the current position. n may be negative.
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

// Peek returns the next byte without advancing.
func (c *Cursor) Peek() (uint8, error) {
	b, err := c.PeekN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// PeekN returns the next n bytes without advancing.
func (c *Cursor) PeekN(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.boundsErr(n)
	}
	return c.buf[c.pos : c.pos+n : c.pos+n], nil
}

// Bytes reads the next n bytes.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	b, err := c.PeekN(n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

// U8 reads an unsigned byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// I8 reads a signed byte.
func (c *Cursor) I8() (int8, error) {
	v, err := c.U8()
	return int8(v), err
}

// U16 reads a big-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// I16 reads a big-endian int16.
func (c *Cursor) I16() (int16, error) {
	v, err := c.U16()
	return int16(v), err //nolint:gosec // two's complement reinterpretation
}

// U24 reads a big-endian 24-bit unsigned integer.
func (c *Cursor) U24() (uint32, error) {
	b, err := c.Bytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// U32 reads a big-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// I32 reads a big-endian int32.
func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

// U16LE reads a little-endian uint16.
func (c *Cursor) U16LE() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32LE reads a little-endian uint32.
func (c *Cursor) U32LE() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Smart1or2 reads an unsigned value stored in one byte when below 128,
// otherwise in two bytes with the high bit set.
func (c *Cursor) Smart1or2() (int32, error) {
	head, err := c.Peek()
	if err != nil {
		return 0, err
	}
	if head < 0x80 {
		v, err := c.U8()
		return int32(v), err
	}
	v, err := c.U16()
	if err != nil {
		return 0, err
	}
	return int32(v) - 0x8000, nil
}

// Smart1or2Signed reads a signed value in [-64, 64) from one byte or
// [-16384, 16384) from two bytes.
func (c *Cursor) Smart1or2Signed() (int32, error) {
	head, err := c.Peek()
	if err != nil {
		return 0, err
	}
	if head < 0x80 {
		v, err := c.U8()
		if err != nil {
			return 0, err
		}
		return int32(v) - 0x40, nil
	}
	v, err := c.U16()
	if err != nil {
		return 0, err
	}
	return int32(v) - 0xC000, nil
}

// Smart1or2Null reads Smart1or2 minus one, so that zero encodes -1.
func (c *Cursor) Smart1or2Null() (int32, error) {
	v, err := c.Smart1or2()
	if err != nil {
		return 0, err
	}
	return v - 1, nil
}

// Smart2or4 reads an unsigned value stored in two bytes, or in four bytes
// with the high bit set.
func (c *Cursor) Smart2or4() (uint32, error) {
	head, err := c.Peek()
	if err != nil {
		return 0, err
	}
	if head&0x80 == 0 {
		v, err := c.U16()
		return uint32(v), err
	}
	v, err := c.U32()
	if err != nil {
		return 0, err
	}
	return v & 0x7FFFFFFF, nil
}

func (c *Cursor) boundsErr(n int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfBounds, n, c.pos, c.Remaining())
}
