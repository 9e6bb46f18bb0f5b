package index

import (
	"fmt"
	"math"

	"github.com/meigma/js5/internal/packet"
)

// Encode serializes x. Groups must be in ascending id order and file ids
// ascending within each group; optional tables are written according to
// x.Flags, with missing hashes written as zeros.
func Encode(x *Index) ([]byte, error) {
	if x.Protocol < ProtocolOriginal || x.Protocol > ProtocolSmart {
		return nil, fmt.Errorf("%w: unsupported protocol %d", ErrMalformedIndex, x.Protocol)
	}
	w := packet.NewWriter(64 + len(x.Groups)*32)
	smart := x.Protocol >= ProtocolSmart
	putID := func(v uint32) error {
		if smart {
			return w.PSmart2or4(v)
		}
		if v > math.MaxUint16 {
			return fmt.Errorf("%w: %d does not fit protocol %d", ErrMalformedIndex, v, x.Protocol)
		}
		w.P2(uint16(v))
		return nil
	}
	putDeltas := func(ids []uint32) error {
		var last uint32
		for i, id := range ids {
			if i > 0 && id <= last {
				return fmt.Errorf("%w: id %d after %d", ErrMalformedIndex, id, last)
			}
			if err := putID(id - last); err != nil {
				return err
			}
			last = id
		}
		return nil
	}

	w.P1(uint8(x.Protocol))
	if x.Protocol >= ProtocolVersioned {
		w.P4(x.Version)
	}
	w.P1(uint8(x.Flags))
	if err := putID(uint32(len(x.Groups))); err != nil { //nolint:gosec // bounded by the id encoding
		return nil, err
	}
	if err := putDeltas(x.GroupIDs()); err != nil {
		return nil, err
	}

	groups := x.Groups
	if x.Flags.Has(FlagNames) {
		for i := range groups {
			w.P4(uint32(groups[i].NameHash)) //nolint:gosec // two's complement
		}
	}
	for i := range groups {
		w.P4(groups[i].Checksum)
	}
	if x.Flags.Has(FlagUncompressedChecksums) {
		for i := range groups {
			w.P4(groups[i].UncompressedChecksum)
		}
	}
	if x.Flags.Has(FlagWhirlpool) {
		for i := range groups {
			w.PBytes(fixed(groups[i].Whirlpool, whirlpoolSize))
		}
	}
	if x.Flags.Has(FlagSizes) {
		for i := range groups {
			w.P4(groups[i].CompressedSize)
			w.P4(groups[i].UncompressedSize)
		}
	}
	for i := range groups {
		w.P4(groups[i].Version)
	}
	for i := range groups {
		if err := putID(uint32(len(groups[i].FileIDs))); err != nil { //nolint:gosec // bounded by the id encoding
			return nil, err
		}
	}
	for i := range groups {
		if err := putDeltas(groups[i].FileIDs); err != nil {
			return nil, err
		}
	}
	if x.Flags.Has(FlagNames) {
		for i := range groups {
			for j := range groups[i].FileIDs {
				var h int32
				if j < len(groups[i].FileNameHashes) {
					h = groups[i].FileNameHashes[j]
				}
				w.P4(uint32(h)) //nolint:gosec // two's complement
			}
		}
	}
	if x.Flags.Has(FlagMD5) {
		for i := range groups {
			w.PBytes(fixed(groups[i].MD5, md5Size))
		}
	}
	return w.Bytes(), nil
}

func fixed(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}
