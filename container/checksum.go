package container

import (
	"fmt"
	"hash/crc32"
)

// Checksum returns the CRC-32 (IEEE) of b.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// VerifyChecksum compares the CRC-32 of b against expected.
// A mismatch wraps ErrChecksumMismatch.
func VerifyChecksum(b []byte, expected uint32) error {
	if got := Checksum(b); got != expected {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, got, expected)
	}
	return nil
}

// ChecksumRange returns the prefix of raw covered by archive index
// checksums: the header and body, without any revision trailer.
func ChecksumRange(raw []byte) ([]byte, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	n := h.EncodedLength()
	if n > len(raw) {
		return nil, fmt.Errorf("%w: body of %d bytes, %d available",
			ErrTruncatedContainer, h.CompressedLength, len(raw)-h.Size())
	}
	return raw[:n], nil
}
