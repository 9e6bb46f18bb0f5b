package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"
)

// UnknownLength is passed to Decompress when the output length is not declared.
const UnknownLength = -1

// bzip2Header is stripped from bzip2 bodies by the archive and restored here.
var bzip2Header = []byte("BZh1")

var gzipMagic = []byte{0x1f, 0x8b}

const (
	// lzmaPropsSize is the properties byte plus the little-endian dictionary size.
	lzmaPropsSize = 5
	// lzmaHeaderSize adds the little-endian uncompressed size of the classic header.
	lzmaHeaderSize = lzmaPropsSize + 8
	lzmaMinDict    = 1 << 12
)

// Decompress inflates body according to codec.
//
// When expected is not UnknownLength, output is bounded to expected bytes and
// any other produced length is an ErrIntegrity. Stream corruption is an
// ErrCodec. CodecNone returns body unchanged. CodecLZMA needs a Decoder
// created with WithLZMA.
func Decompress(codec Codec, body []byte, expected int) ([]byte, error) {
	return defaultDecoder.decompress(codec, body, expected)
}

func (d *Decoder) decompress(codec Codec, body []byte, expected int) ([]byte, error) {
	if err := d.supports(codec); err != nil {
		return nil, err
	}
	switch codec {
	case CodecNone:
		return body, nil
	case CodecBzip2:
		return d.inflateBzip2(body, expected)
	case CodecGzip:
		if bytes.HasPrefix(body, gzipMagic) {
			return d.inflateGzip(body, expected)
		}
		return d.inflateRaw(body, expected)
	case CodecLZMA:
		return d.inflateLZMA(body, expected)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedCodec, uint8(codec))
	}
}

func (d *Decoder) inflateBzip2(body []byte, expected int) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(bzip2Header), bytes.NewReader(body))
	r, err := bzip2.NewReader(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bzip2: %w", ErrCodec, err)
	}
	defer r.Close()
	return d.readBounded(r, "bzip2", expected)
}

func (d *Decoder) inflateGzip(body []byte, expected int) ([]byte, error) {
	r, release, err := d.pools.gzipReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	defer release()
	return d.readBounded(r, "gzip", expected)
}

func (d *Decoder) inflateRaw(body []byte, expected int) ([]byte, error) {
	r, release := d.pools.flateReader(bytes.NewReader(body))
	defer release()
	return d.readBounded(r, "deflate", expected)
}

// inflateLZMA rebuilds the classic LZMA header from the stored properties and
// the declared length. The dictionary is clamped to the declared length so a
// corrupt header cannot force a large allocation.
func (d *Decoder) inflateLZMA(body []byte, expected int) ([]byte, error) {
	if len(body) < lzmaPropsSize {
		return nil, fmt.Errorf("%w: lzma: %d byte body has no properties", ErrCodec, len(body))
	}
	var hdr [lzmaHeaderSize]byte
	copy(hdr[:], body[:lzmaPropsSize])
	dict := binary.LittleEndian.Uint32(hdr[1:lzmaPropsSize])
	limit := uint32(max(d.maxPayloadSize, lzmaMinDict)) //nolint:gosec // payload limits fit in 32 bits
	size := uint64(math.MaxUint64)
	if expected >= 0 {
		size = uint64(expected)
		limit = uint32(max(expected, lzmaMinDict)) //nolint:gosec // bounded by maxPayloadSize
	}
	binary.LittleEndian.PutUint32(hdr[1:lzmaPropsSize], min(dict, limit))
	binary.LittleEndian.PutUint64(hdr[lzmaPropsSize:], size)

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr[:]), bytes.NewReader(body[lzmaPropsSize:])))
	if err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", ErrCodec, err)
	}
	return d.readBounded(r, "lzma", expected)
}

// readBounded reads exactly expected bytes and confirms the stream ends there.
// A clean end of stream before expected bytes, or data beyond it, is an
// integrity failure; any other read error is a codec failure.
func (d *Decoder) readBounded(r io.Reader, name string, expected int) ([]byte, error) {
	if expected < 0 {
		out, err := io.ReadAll(io.LimitReader(r, int64(d.maxPayloadSize)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCodec, name, err)
		}
		if len(out) > d.maxPayloadSize {
			return nil, fmt.Errorf("%w: %s output exceeds %d bytes", ErrIntegrity, name, d.maxPayloadSize)
		}
		return out, nil
	}

	out := make([]byte, expected)
	n := 0
	for n < expected {
		m, err := r.Read(out[n:])
		n += m
		if errors.Is(err, io.EOF) {
			if n < expected {
				return nil, fmt.Errorf("%w: %s produced %d bytes, declared %d", ErrIntegrity, name, n, expected)
			}
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCodec, name, err)
		}
	}

	var probe [1]byte
	for {
		m, err := r.Read(probe[:])
		if m > 0 {
			return nil, fmt.Errorf("%w: %s produced more than declared %d bytes", ErrIntegrity, name, expected)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCodec, name, err)
		}
	}
}

// readerPools holds reusable inflaters so repeated decodes do not
// reallocate decoder state.
type readerPools struct {
	gzip  sync.Pool
	flate sync.Pool
}

// gzipReader returns a gzip reader over r and a release function that
// returns it to the pool. If an error is returned, no release is needed.
func (p *readerPools) gzipReader(r io.Reader) (*gzip.Reader, func(), error) {
	if v, ok := p.gzip.Get().(*gzip.Reader); ok {
		if err := v.Reset(r); err != nil {
			return nil, nil, err
		}
		v.Multistream(false)
		return v, func() { p.gzip.Put(v) }, nil
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	zr.Multistream(false)
	return zr, func() { p.gzip.Put(zr) }, nil
}

// flateReader returns a raw DEFLATE reader over r and its release function.
func (p *readerPools) flateReader(r io.Reader) (io.ReadCloser, func()) {
	if v, ok := p.flate.Get().(io.ReadCloser); ok {
		if resetter, ok := v.(flate.Resetter); ok && resetter.Reset(r, nil) == nil {
			return v, func() { p.flate.Put(v) }
		}
	}
	fr := flate.NewReader(r)
	return fr, func() { p.flate.Put(fr) }
}
