package container

import "fmt"

// Codec identifies the compression algorithm of a container body.
//
// The set is closed: tags outside it are rejected with ErrUnsupportedCodec.
type Codec uint8

const (
	// CodecNone stores the body verbatim.
	CodecNone Codec = 0
	// CodecBzip2 stores a bzip2 stream with its "BZh1" header stripped.
	CodecBzip2 Codec = 1
	// CodecGzip stores a gzip member, or a raw DEFLATE stream.
	CodecGzip Codec = 2
	// CodecLZMA stores the 5-byte LZMA properties followed by the raw
	// stream, without the classic header's size field.
	CodecLZMA Codec = 3
)

// ParseCodec maps a header tag byte to a Codec.
func ParseCodec(tag uint8) (Codec, error) {
	switch Codec(tag) {
	case CodecNone, CodecBzip2, CodecGzip, CodecLZMA:
		return Codec(tag), nil
	}
	return 0, fmt.Errorf("%w: tag %d", ErrUnsupportedCodec, tag)
}

// Compressed reports whether the codec carries a declared decompressed length.
func (c Codec) Compressed() bool {
	return c != CodecNone
}

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecBzip2:
		return "bzip2"
	case CodecGzip:
		return "gzip"
	case CodecLZMA:
		return "lzma"
	default:
		return "unknown"
	}
}
