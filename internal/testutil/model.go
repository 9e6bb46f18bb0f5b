package testutil

import (
	"testing"

	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/model"
)

// FaceOp is one raw connectivity opcode with its index deltas.
type FaceOp struct {
	Op     uint8
	Deltas []int32
}

// TestModel holds data for building a model payload.
//
// Vertices are absolute positions and are delta-encoded by BuildModel.
// Faces are encoded as independent triangles unless FaceOps is set, in which
// case FaceOps is written verbatim and Faces only supplies the face count.
type TestModel struct {
	Format   model.Format
	Vertices []model.Vertex
	Faces    []model.Face
	FaceOps  []FaceOp

	Colours        []uint16
	Priority       uint8
	Priorities     []uint8
	Transparencies []uint8
	FaceSkins      []uint8
	VertexSkins    []uint8
	Bones          [][]model.BoneWeight

	// RenderTypes is the extended render type stream.
	RenderTypes []uint8
	// TextureFlags is the legacy per-face texture flag stream.
	TextureFlags []uint8
	// Materials and TextureCoords are the extended per-face texture streams.
	Materials     []int16
	TextureCoords []int16

	TextureMappings []model.TextureMapping

	// Padding is appended after the sub-streams, before the trailer.
	Padding []byte
}

func (m *TestModel) faceCount() int {
	if m.FaceOps != nil {
		return len(m.FaceOps)
	}
	return len(m.Faces)
}

func (m *TestModel) extended() bool {
	return m.Format == model.FormatExtended || m.Format == model.FormatExtendedMaya
}

func (m *TestModel) maya() bool {
	return m.Format == model.FormatLegacyMaya || m.Format == model.FormatExtendedMaya
}

// BuildModel encodes m in its format.
func BuildModel(tb testing.TB, m TestModel) []byte {
	tb.Helper()

	fc := m.faceCount()
	vc := len(m.Vertices)

	flags := packet.NewWriter(vc)
	vx, vy, vz := packet.NewWriter(vc), packet.NewWriter(vc), packet.NewWriter(vc)
	var last model.Vertex
	for _, v := range m.Vertices {
		var f uint8
		if d := v.X - last.X; d != 0 {
			f |= 0x1
			must(tb, vx.PSmart1or2Signed(d))
		}
		if d := v.Y - last.Y; d != 0 {
			f |= 0x2
			must(tb, vy.PSmart1or2Signed(d))
		}
		if d := v.Z - last.Z; d != 0 {
			f |= 0x4
			must(tb, vz.PSmart1or2Signed(d))
		}
		flags.P1(f)
		last = v
	}

	ops, indices := encodeFaces(tb, m)

	skins := packet.NewWriter(vc)
	for _, s := range m.VertexSkins {
		skins.P1(s)
	}
	for _, bones := range m.Bones {
		skins.P1(uint8(len(bones))) //nolint:gosec // test data
		for _, b := range bones {
			skins.P1(b.Group)
			skins.P1(b.Scale)
		}
	}

	colours := packet.NewWriter(fc * 2)
	for i := range fc {
		var c uint16
		if i < len(m.Colours) {
			c = m.Colours[i]
		}
		colours.P2(c)
	}

	w := packet.NewWriter(256)
	var texCoordLen int
	if m.extended() {
		simple, complexMaps := packet.NewWriter(0), packet.NewWriter(0)
		for _, tm := range m.TextureMappings {
			w.P1(tm.Type)
			switch {
			case tm.Type == 0:
				writeMapping(simple, tm)
			case tm.Type <= 3:
				writeMapping(complexMaps, tm)
			}
		}
		w.PBytes(flags.Bytes())
		w.PBytes(m.RenderTypes)
		w.PBytes(ops)
		w.PBytes(m.Priorities)
		w.PBytes(m.FaceSkins)
		w.PBytes(skins.Bytes())
		w.PBytes(m.Transparencies)
		w.PBytes(indices)
		if m.Materials != nil {
			for _, mat := range m.Materials {
				w.P2(uint16(mat + 1)) //nolint:gosec // test data
			}
			if len(m.TextureMappings) > 0 {
				for i, mat := range m.Materials {
					if mat == model.NoMaterial {
						continue
					}
					coord := model.NoTextureCoord
					if i < len(m.TextureCoords) {
						coord = m.TextureCoords[i]
					}
					w.P1(uint8(coord + 1)) //nolint:gosec // test data
					texCoordLen++
				}
			}
		}
		w.PBytes(colours.Bytes())
		w.PBytes(vx.Bytes())
		w.PBytes(vy.Bytes())
		w.PBytes(vz.Bytes())
		w.PBytes(simple.Bytes())
		w.PBytes(complexMaps.Bytes())
	} else {
		w.PBytes(flags.Bytes())
		w.PBytes(ops)
		w.PBytes(m.Priorities)
		w.PBytes(m.FaceSkins)
		w.PBytes(m.TextureFlags)
		w.PBytes(skins.Bytes())
		w.PBytes(m.Transparencies)
		w.PBytes(indices)
		w.PBytes(colours.Bytes())
		for _, tm := range m.TextureMappings {
			writeMapping(w, tm)
		}
		w.PBytes(vx.Bytes())
		w.PBytes(vy.Bytes())
		w.PBytes(vz.Bytes())
	}
	w.PBytes(m.Padding)

	priority := m.Priority
	if m.Priorities != nil {
		priority = 0xFF
	}
	w.P2(uint16(vc)) //nolint:gosec // test data
	w.P2(uint16(fc)) //nolint:gosec // test data
	w.P1(uint8(len(m.TextureMappings)))
	if m.extended() {
		w.P1(boolByte(m.RenderTypes != nil))
		w.P1(priority)
		w.P1(boolByte(m.Transparencies != nil))
		w.P1(boolByte(m.FaceSkins != nil))
		w.P1(boolByte(m.Materials != nil))
		w.P1(boolByte(m.VertexSkins != nil))
		if m.maya() {
			w.P1(boolByte(m.Bones != nil))
		}
		w.P2(uint16(vx.Len()))
		w.P2(uint16(vy.Len()))
		w.P2(uint16(vz.Len()))
		w.P2(uint16(len(indices)))
		w.P2(uint16(texCoordLen))
	} else {
		w.P1(boolByte(m.TextureFlags != nil))
		w.P1(priority)
		w.P1(boolByte(m.Transparencies != nil))
		w.P1(boolByte(m.FaceSkins != nil))
		w.P1(boolByte(m.VertexSkins != nil))
		if m.maya() {
			w.P1(boolByte(m.Bones != nil))
		}
		w.P2(uint16(vx.Len()))
		w.P2(uint16(vy.Len()))
		w.P2(uint16(vz.Len()))
		w.P2(uint16(len(indices)))
	}
	if m.maya() {
		w.P2(uint16(skins.Len()))
	}
	switch m.Format {
	case model.FormatExtended:
		w.P2(0xFFFF)
	case model.FormatLegacyMaya:
		w.P2(0xFFFE)
	case model.FormatExtendedMaya:
		w.P2(0xFFFD)
	}
	return w.Bytes()
}

func encodeFaces(tb testing.TB, m TestModel) (ops, indices []byte) {
	tb.Helper()

	o, idx := packet.NewWriter(len(m.Faces)), packet.NewWriter(len(m.Faces)*3)
	if m.FaceOps != nil {
		for _, op := range m.FaceOps {
			o.P1(op.Op)
			for _, d := range op.Deltas {
				must(tb, idx.PSmart1or2Signed(d))
			}
		}
		return o.Bytes(), idx.Bytes()
	}
	var last int32
	for _, f := range m.Faces {
		a, b, c := int32(f.A), int32(f.B), int32(f.C)
		o.P1(1)
		must(tb, idx.PSmart1or2Signed(a-last))
		must(tb, idx.PSmart1or2Signed(b-a))
		must(tb, idx.PSmart1or2Signed(c-b))
		last = c
	}
	return o.Bytes(), idx.Bytes()
}

func writeMapping(w *packet.Writer, tm model.TextureMapping) {
	w.P2(tm.P)
	w.P2(tm.M)
	w.P2(tm.N)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func must(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("encode test data: %v", err)
	}
}
