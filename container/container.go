// Package container decodes the compressed envelope that wraps every group
// stored in a JS5 archive.
//
// A container is laid out big-endian as:
//
//	codec tag          1 byte   (0 none, 1 bzip2, 2 gzip, 3 lzma if enabled)
//	compressed length  4 bytes
//	declared length    4 bytes  (compressed codecs only)
//	body               compressed length bytes
//	revision           2 bytes  (optional)
//
// Decoding is pure: a Decoder holds only configuration and reusable
// inflaters, and is safe for concurrent use.
package container

import (
	"errors"
	"fmt"

	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/internal/sizing"
)

// Sentinel errors.
var (
	// ErrUnsupportedCodec is returned for codec tags outside the supported set.
	ErrUnsupportedCodec = errors.New("container: unsupported codec")

	// ErrTruncatedContainer is returned when the header or body extends past the input.
	ErrTruncatedContainer = errors.New("container: truncated")

	// ErrCodec is returned when a compressed stream is corrupt.
	ErrCodec = errors.New("container: corrupt compressed stream")

	// ErrIntegrity is returned when decompressed output does not match the declared length.
	ErrIntegrity = errors.New("container: integrity check failed")

	// ErrChecksumMismatch is returned when a CRC-32 does not match its expected value.
	ErrChecksumMismatch = errors.New("container: checksum mismatch")
)

// DefaultMaxPayloadSize bounds declared payload lengths accepted by Decode.
const DefaultMaxPayloadSize = 64 << 20

const (
	baseHeaderSize     = 5
	extendedHeaderSize = 9
	revisionSize       = 2
)

// Header is the fixed prefix of a container.
type Header struct {
	Codec            Codec
	CompressedLength uint32
	// DeclaredLength is the decompressed length; zero for CodecNone.
	DeclaredLength uint32
}

// Size returns the encoded size of the header.
func (h Header) Size() int {
	if h.Codec.Compressed() {
		return extendedHeaderSize
	}
	return baseHeaderSize
}

// EncodedLength returns the length of header plus body, which is the range
// covered by archive index checksums.
func (h Header) EncodedLength() int {
	return h.Size() + int(h.CompressedLength)
}

// Container is a decoded container.
type Container struct {
	Header

	// Revision is the trailing group revision, valid when HasRevision is set.
	Revision    uint16
	HasRevision bool

	// Payload is the decompressed body. It never aliases the input.
	Payload []byte
}

// Decoder decodes containers.
type Decoder struct {
	maxPayloadSize int
	lzma           bool
	pools          readerPools
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxPayloadSize limits the declared decompressed length accepted.
// Values <= 0 restore the default.
func WithMaxPayloadSize(n int) Option {
	return func(d *Decoder) {
		if n <= 0 {
			n = DefaultMaxPayloadSize
		}
		d.maxPayloadSize = n
	}
}

// WithLZMA enables CodecLZMA bodies. Without it, tag 3 containers fail
// with ErrUnsupportedCodec.
func WithLZMA(enabled bool) Option {
	return func(d *Decoder) {
		d.lzma = enabled
	}
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{maxPayloadSize: DefaultMaxPayloadSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDecoder = NewDecoder()

// Decode decodes raw with the default Decoder.
func Decode(raw []byte) (*Container, error) {
	return defaultDecoder.Decode(raw)
}

// DecodeHeader parses only the header of raw with the default Decoder.
func DecodeHeader(raw []byte) (Header, error) {
	return defaultDecoder.DecodeHeader(raw)
}

// DecodeHeader parses the codec tag and length fields.
func (d *Decoder) DecodeHeader(raw []byte) (Header, error) {
	h, _, err := d.readHeader(packet.NewCursor(raw))
	return h, err
}

// Decode parses raw, slices the body, reads the optional revision trailer and
// decompresses the body.
func (d *Decoder) Decode(raw []byte) (*Container, error) {
	c := packet.NewCursor(raw)
	h, declared, err := d.readHeader(c)
	if err != nil {
		return nil, err
	}
	if err := d.supports(h.Codec); err != nil {
		return nil, err
	}

	body, err := c.Bytes(int(h.CompressedLength))
	if err != nil {
		return nil, fmt.Errorf("%w: body of %d bytes at offset %d, %d remain",
			ErrTruncatedContainer, h.CompressedLength, c.Pos(), c.Remaining())
	}

	out := &Container{Header: h}
	if c.Remaining() >= revisionSize {
		rev, err := c.U16()
		if err != nil {
			return nil, err
		}
		out.Revision = rev
		out.HasRevision = true
	}

	if len(body) == 0 {
		out.Payload = []byte{}
		return out, nil
	}

	if !h.Codec.Compressed() {
		out.Payload = append(make([]byte, 0, len(body)), body...)
		return out, nil
	}

	payload, err := d.decompress(h.Codec, body, declared)
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

// supports rejects codecs that are known but not enabled on d.
func (d *Decoder) supports(codec Codec) error {
	if codec == CodecLZMA && !d.lzma {
		return fmt.Errorf("%w: lzma is not enabled", ErrUnsupportedCodec)
	}
	return nil
}

func (d *Decoder) readHeader(c *packet.Cursor) (Header, int, error) {
	var h Header
	tag, err := c.U8()
	if err != nil {
		return h, 0, fmt.Errorf("%w: %w", ErrTruncatedContainer, err)
	}
	codec, err := ParseCodec(tag)
	if err != nil {
		return h, 0, err
	}
	h.Codec = codec

	if h.CompressedLength, err = c.U32(); err != nil {
		return h, 0, fmt.Errorf("%w: %w", ErrTruncatedContainer, err)
	}
	// The exact bound is checked when the body is sliced; this guards the
	// int conversion.
	if uint64(h.CompressedLength) > uint64(c.Len()) {
		return h, 0, fmt.Errorf("%w: compressed length %d exceeds input of %d bytes",
			ErrTruncatedContainer, h.CompressedLength, c.Len())
	}
	if !codec.Compressed() {
		return h, 0, nil
	}

	if h.DeclaredLength, err = c.U32(); err != nil {
		return h, 0, fmt.Errorf("%w: %w", ErrTruncatedContainer, err)
	}
	declared, err := sizing.ToInt(h.DeclaredLength, d.maxPayloadSize, ErrIntegrity)
	if err != nil {
		return h, 0, fmt.Errorf("%w: declared length %d exceeds limit %d",
			err, h.DeclaredLength, d.maxPayloadSize)
	}
	return h, declared, nil
}
