// Package index decodes archive indexes: the group table that lists every
// group in an archive with its checksum, version and file ids.
//
// An index is itself stored as a container in the index archive (id 255).
// Decode operates on the decompressed payload.
package index

import (
	"errors"
	"fmt"
	"slices"

	"github.com/meigma/js5/internal/packet"
)

// ErrMalformedIndex is returned when an index payload cannot be parsed.
var ErrMalformedIndex = errors.New("index: malformed index")

// ArchiveID is the archive that stores the indexes of all other archives.
const ArchiveID = 255

// Protocol is the index encoding revision.
type Protocol uint8

const (
	// ProtocolOriginal has no version field and u16 ids.
	ProtocolOriginal Protocol = 5
	// ProtocolVersioned adds an index version.
	ProtocolVersioned Protocol = 6
	// ProtocolSmart encodes ids and counts as Smart2or4.
	ProtocolSmart Protocol = 7
)

// Flags select the optional per-group tables.
type Flags uint8

const (
	FlagNames                 Flags = 1 << 0
	FlagWhirlpool             Flags = 1 << 1
	FlagSizes                 Flags = 1 << 2
	FlagUncompressedChecksums Flags = 1 << 3
	FlagMD5                   Flags = 1 << 7
)

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

const (
	whirlpoolSize = 64
	md5Size       = 16
)

// GroupEntry describes one group.
type GroupEntry struct {
	ID uint32

	// Checksum is the CRC-32 of the group's container, excluding any revision trailer.
	Checksum uint32
	Version  uint32

	// FileIDs lists the group's file ids in ascending order.
	FileIDs []uint32

	// Optional fields, populated according to the index flags.
	NameHash             int32
	FileNameHashes       []int32
	UncompressedChecksum uint32
	Whirlpool            []byte
	CompressedSize       uint32
	UncompressedSize     uint32
	MD5                  []byte
}

// FileCapacity returns one more than the largest file id, or zero for an empty group.
func (g *GroupEntry) FileCapacity() uint32 {
	if len(g.FileIDs) == 0 {
		return 0
	}
	return g.FileIDs[len(g.FileIDs)-1] + 1
}

// Index is a decoded archive index.
type Index struct {
	Protocol Protocol
	Version  uint32
	Flags    Flags
	// Groups are ordered by ascending id.
	Groups []GroupEntry
}

// Group returns the entry for id.
func (x *Index) Group(id uint32) (*GroupEntry, bool) {
	i, ok := slices.BinarySearchFunc(x.Groups, id, func(g GroupEntry, id uint32) int {
		switch {
		case g.ID < id:
			return -1
		case g.ID > id:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil, false
	}
	return &x.Groups[i], true
}

// GroupIDs returns the ids of every group.
func (x *Index) GroupIDs() []uint32 {
	ids := make([]uint32, len(x.Groups))
	for i := range x.Groups {
		ids[i] = x.Groups[i].ID
	}
	return ids
}

// Capacity returns one more than the largest group id, or zero for an empty index.
func (x *Index) Capacity() uint32 {
	if len(x.Groups) == 0 {
		return 0
	}
	return x.Groups[len(x.Groups)-1].ID + 1
}

// Decode parses a decompressed index payload.
func Decode(payload []byte) (*Index, error) {
	r := &reader{c: packet.NewCursor(payload)}

	x := &Index{Protocol: Protocol(r.u8())}
	if err := r.check("protocol"); err != nil {
		return nil, err
	}
	if x.Protocol < ProtocolOriginal || x.Protocol > ProtocolSmart {
		return nil, fmt.Errorf("%w: unsupported protocol %d", ErrMalformedIndex, x.Protocol)
	}
	r.smart = x.Protocol >= ProtocolSmart
	if x.Protocol >= ProtocolVersioned {
		x.Version = r.u32()
	}
	x.Flags = Flags(r.u8())

	count := r.count()
	if err := r.check("group count"); err != nil {
		return nil, err
	}
	x.Groups = make([]GroupEntry, count)
	ids, err := r.deltaIDs(count)
	if err != nil {
		return nil, fmt.Errorf("group ids: %w", err)
	}
	for i := range x.Groups {
		x.Groups[i].ID = ids[i]
	}

	groups := x.Groups
	if x.Flags.Has(FlagNames) {
		for i := range groups {
			groups[i].NameHash = r.i32()
		}
	}
	for i := range groups {
		groups[i].Checksum = r.u32()
	}
	if x.Flags.Has(FlagUncompressedChecksums) {
		for i := range groups {
			groups[i].UncompressedChecksum = r.u32()
		}
	}
	if x.Flags.Has(FlagWhirlpool) {
		for i := range groups {
			groups[i].Whirlpool = r.bytes(whirlpoolSize)
		}
	}
	if x.Flags.Has(FlagSizes) {
		for i := range groups {
			groups[i].CompressedSize = r.u32()
			groups[i].UncompressedSize = r.u32()
		}
	}
	for i := range groups {
		groups[i].Version = r.u32()
	}
	if err := r.check("group tables"); err != nil {
		return nil, err
	}

	fileCounts := make([]int, len(groups))
	for i := range groups {
		fileCounts[i] = r.count()
	}
	if err := r.check("file counts"); err != nil {
		return nil, err
	}
	for i := range groups {
		fileIDs, err := r.deltaIDs(fileCounts[i])
		if err != nil {
			return nil, fmt.Errorf("group %d file ids: %w", groups[i].ID, err)
		}
		groups[i].FileIDs = fileIDs
	}
	if x.Flags.Has(FlagNames) {
		for i := range groups {
			hashes := make([]int32, len(groups[i].FileIDs))
			for j := range hashes {
				hashes[j] = r.i32()
			}
			groups[i].FileNameHashes = hashes
		}
	}
	if x.Flags.Has(FlagMD5) {
		for i := range groups {
			groups[i].MD5 = r.bytes(md5Size)
		}
	}
	if err := r.check("file tables"); err != nil {
		return nil, err
	}
	return x, nil
}

// reader wraps a cursor and keeps the first error.
type reader struct {
	c     *packet.Cursor
	smart bool
	err   error
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U8()
	r.err = err
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U32()
	r.err = err
	return v
}

func (r *reader) i32() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.I32()
	r.err = err
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.c.Bytes(n)
	r.err = err
	return slices.Clone(b)
}

// id reads a u16, or a Smart2or4 on ProtocolSmart.
func (r *reader) id() uint32 {
	if r.err != nil {
		return 0
	}
	if r.smart {
		v, err := r.c.Smart2or4()
		r.err = err
		return v
	}
	v, err := r.c.U16()
	r.err = err
	return uint32(v)
}

// count reads an element count. Every element occupies at least one byte
// further on, so counts beyond the remaining input are rejected before
// anything is allocated.
func (r *reader) count() int {
	n := int(r.id())
	if r.err == nil && n > r.c.Remaining() {
		r.err = fmt.Errorf("%w: count %d exceeds %d remaining bytes", packet.ErrOutOfBounds, n, r.c.Remaining())
	}
	return n
}

// deltaIDs reads n delta-coded ids that must be strictly ascending.
func (r *reader) deltaIDs(n int) ([]uint32, error) {
	ids := make([]uint32, n)
	var last uint64
	for i := range ids {
		d := r.id()
		if r.err != nil {
			return nil, r.check("id")
		}
		if i > 0 && d == 0 {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrMalformedIndex, last)
		}
		last += uint64(d)
		if last > uint64(^uint32(0)) {
			return nil, fmt.Errorf("%w: id overflows uint32", ErrMalformedIndex)
		}
		ids[i] = uint32(last)
	}
	return ids, nil
}

func (r *reader) check(what string) error {
	if r.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s at offset %d: %w", ErrMalformedIndex, what, r.c.Pos(), r.err)
}
