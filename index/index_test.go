package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/js5/internal/packet"
)

func sampleIndex(protocol Protocol, flags Flags) *Index {
	return &Index{
		Protocol: protocol,
		Version:  77,
		Flags:    flags,
		Groups: []GroupEntry{
			{ID: 0, Checksum: 0xDEADBEEF, Version: 3, FileIDs: []uint32{0}},
			{ID: 5, Checksum: 0x01020304, Version: 9, FileIDs: []uint32{0, 1, 4}},
			{ID: 40000, Checksum: 7, Version: 1, FileIDs: []uint32{2}},
		},
	}
}

func TestDecodeProtocols(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		protocol Protocol
		version  uint32
	}{
		{"original", ProtocolOriginal, 0},
		{"versioned", ProtocolVersioned, 77},
		{"smart", ProtocolSmart, 77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := Encode(sampleIndex(tt.protocol, 0))
			require.NoError(t, err)

			x, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.protocol, x.Protocol)
			assert.Equal(t, tt.version, x.Version)
			assert.Equal(t, []uint32{0, 5, 40000}, x.GroupIDs())
			assert.Equal(t, uint32(40001), x.Capacity())

			g, ok := x.Group(5)
			require.True(t, ok)
			assert.Equal(t, uint32(0x01020304), g.Checksum)
			assert.Equal(t, uint32(9), g.Version)
			assert.Equal(t, []uint32{0, 1, 4}, g.FileIDs)
			assert.Equal(t, uint32(5), g.FileCapacity())
			assert.Nil(t, g.FileNameHashes)
			assert.Nil(t, g.Whirlpool)

			_, ok = x.Group(6)
			assert.False(t, ok)
		})
	}
}

func TestDecodeOptionalTables(t *testing.T) {
	t.Parallel()

	flags := FlagNames | FlagWhirlpool | FlagSizes | FlagUncompressedChecksums | FlagMD5
	in := sampleIndex(ProtocolSmart, flags)
	for i := range in.Groups {
		g := &in.Groups[i]
		g.NameHash = -int32(i + 1)
		g.UncompressedChecksum = uint32(100 + i)
		g.Whirlpool = bytes.Repeat([]byte{byte(i + 1)}, whirlpoolSize)
		g.CompressedSize = uint32(1000 + i)
		g.UncompressedSize = uint32(2000 + i)
		g.MD5 = bytes.Repeat([]byte{byte(0xA0 + i)}, md5Size)
		g.FileNameHashes = make([]int32, len(g.FileIDs))
		for j := range g.FileNameHashes {
			g.FileNameHashes[j] = int32(i*10 + j)
		}
	}

	raw, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeLargeIDsNeedSmartProtocol(t *testing.T) {
	t.Parallel()

	x := &Index{Protocol: ProtocolVersioned, Groups: []GroupEntry{{ID: 70000}}}
	_, err := Encode(x)
	require.ErrorIs(t, err, ErrMalformedIndex)

	x.Protocol = ProtocolSmart
	raw, err := Encode(x)
	require.NoError(t, err)
	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []uint32{70000}, out.GroupIDs())
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	raw, err := Encode(&Index{Protocol: ProtocolVersioned})
	require.NoError(t, err)
	x, err := Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, x.Groups)
	assert.Equal(t, uint32(0), x.Capacity())
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	valid, err := Encode(sampleIndex(ProtocolVersioned, FlagNames))
	require.NoError(t, err)

	t.Run("every truncation", func(t *testing.T) {
		t.Parallel()
		for cut := range len(valid) {
			_, err := Decode(valid[:cut])
			require.ErrorIs(t, err, ErrMalformedIndex, "cut at %d", cut)
		}
	})

	t.Run("unknown protocol", func(t *testing.T) {
		t.Parallel()
		_, err := Decode([]byte{4, 0, 0, 0})
		require.ErrorIs(t, err, ErrMalformedIndex)
	})

	t.Run("oversized count", func(t *testing.T) {
		t.Parallel()
		w := packet.NewWriter(8)
		w.P1(uint8(ProtocolOriginal))
		w.P1(0)
		w.P2(0xFFFF)
		_, err := Decode(w.Bytes())
		require.ErrorIs(t, err, ErrMalformedIndex)
		require.ErrorIs(t, err, packet.ErrOutOfBounds)
	})

	t.Run("duplicate group id", func(t *testing.T) {
		t.Parallel()
		w := packet.NewWriter(32)
		w.P1(uint8(ProtocolOriginal))
		w.P1(0)
		w.P2(2)
		w.P2(3)
		w.P2(0)
		w.PBytes(make([]byte, 20))
		_, err := Decode(w.Bytes())
		require.ErrorIs(t, err, ErrMalformedIndex)
	})
}

func TestFlagsHas(t *testing.T) {
	t.Parallel()

	f := FlagNames | FlagSizes
	assert.True(t, f.Has(FlagNames))
	assert.True(t, f.Has(FlagNames|FlagSizes))
	assert.False(t, f.Has(FlagMD5))
}
