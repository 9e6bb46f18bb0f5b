package container

import (
	"bytes"
	"fmt"
	"math"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/js5/internal/packet"
)

type encodeConfig struct {
	revision    uint16
	hasRevision bool
	rawDeflate  bool
}

// EncodeOption configures Encode.
type EncodeOption func(*encodeConfig)

// EncodeWithRevision appends a revision trailer.
func EncodeWithRevision(rev uint16) EncodeOption {
	return func(c *encodeConfig) {
		c.revision = rev
		c.hasRevision = true
	}
}

// EncodeWithRawDeflate writes CodecGzip bodies as raw DEFLATE instead of a gzip member.
func EncodeWithRawDeflate() EncodeOption {
	return func(c *encodeConfig) {
		c.rawDeflate = true
	}
}

// Encode wraps payload in a container compressed with codec.
func Encode(payload []byte, codec Codec, opts ...EncodeOption) ([]byte, error) {
	var cfg encodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrIntegrity, len(payload))
	}

	var body []byte
	switch codec {
	case CodecNone:
		body = payload
	case CodecBzip2:
		b, err := compressBzip2(payload)
		if err != nil {
			return nil, err
		}
		body = b
	case CodecGzip:
		b, err := compressGzip(payload, cfg.rawDeflate)
		if err != nil {
			return nil, err
		}
		body = b
	case CodecLZMA:
		b, err := compressLZMA(payload)
		if err != nil {
			return nil, err
		}
		body = b
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedCodec, uint8(codec))
	}

	w := packet.NewWriter(extendedHeaderSize + len(body) + revisionSize)
	w.P1(uint8(codec))
	w.P4(uint32(len(body))) //nolint:gosec // compressed output of a bounded payload
	if codec.Compressed() {
		w.P4(uint32(len(payload))) //nolint:gosec // checked above
	}
	w.PBytes(body)
	if cfg.hasRevision {
		w.P2(cfg.revision)
	}
	return w.Bytes(), nil
}

func compressBzip2(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: bzip2: %w", ErrCodec, err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: bzip2: %w", ErrCodec, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: bzip2: %w", ErrCodec, err)
	}
	out := buf.Bytes()
	if !bytes.HasPrefix(out, bzip2Header) {
		return nil, fmt.Errorf("%w: bzip2: unexpected stream header %q", ErrCodec, out[:min(len(out), 4)])
	}
	return out[len(bzip2Header):], nil
}

func compressGzip(payload []byte, raw bool) ([]byte, error) {
	var buf bytes.Buffer
	if raw {
		fw, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %w", ErrCodec, err)
		}
		if _, err := fw.Write(payload); err != nil {
			return nil, fmt.Errorf("%w: deflate: %w", ErrCodec, err)
		}
		if err := fw.Close(); err != nil {
			return nil, fmt.Errorf("%w: deflate: %w", ErrCodec, err)
		}
		return buf.Bytes(), nil
	}
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	return buf.Bytes(), nil
}

// compressLZMA writes a classic LZMA stream with a known size and no end
// marker, then drops the size field from its header.
func compressLZMA(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(payload))}
	zw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", ErrCodec, err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", ErrCodec, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", ErrCodec, err)
	}
	out := buf.Bytes()
	if len(out) < lzmaHeaderSize {
		return nil, fmt.Errorf("%w: lzma: short stream of %d bytes", ErrCodec, len(out))
	}
	return append(out[:lzmaPropsSize:lzmaPropsSize], out[lzmaHeaderSize:]...), nil
}
