// Package model decodes legacy 3D model payloads into renderable geometry.
//
// Model payloads carry no header. Their counts, presence flags and
// sub-stream lengths sit in a fixed-size trailer at the end of the buffer,
// and the sub-streams are laid out back to back from the start in a fixed
// order. Decode reads the trailer first, computes every sub-stream offset,
// then reads each stream with its own cursor.
//
// Decoded models are immutable and share nothing with the input buffer.
package model

import (
	"errors"
	"fmt"
)

// ErrMalformedGeometry is returned when a payload violates the model layout,
// including any face or texture index outside the vertex range.
var ErrMalformedGeometry = errors.New("model: malformed geometry")

// Format identifies the payload layout revision.
type Format uint8

const (
	// FormatLegacy is the original layout with an 18-byte trailer and no marker.
	FormatLegacy Format = iota
	// FormatExtended adds per-face materials and texture mapping render types.
	FormatExtended
	// FormatLegacyMaya is FormatLegacy with per-vertex bone groups.
	FormatLegacyMaya
	// FormatExtendedMaya is FormatExtended with per-vertex bone groups.
	FormatExtendedMaya
)

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatExtended:
		return "extended"
	case FormatLegacyMaya:
		return "legacy-maya"
	case FormatExtendedMaya:
		return "extended-maya"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Neutral values used for faces or vertices without an override.
const (
	NoMaterial      int16  = -1
	NoTextureCoord  int16  = -1
	NoSkin          int32  = -1
	TexturedColour  uint16 = 127
	RenderSmooth    uint8  = 0
	RenderFlat      uint8  = 1
	TransparencyOff uint8  = 0
)

// Vertex is a model-space position.
type Vertex struct {
	X, Y, Z int32
}

// Face is a triangle of vertex indices.
type Face struct {
	A, B, C uint16
}

// TextureMapping describes how a textured face projects its texture.
// For Type 0 the P, M and N fields are vertex indices.
type TextureMapping struct {
	Type    uint8
	P, M, N uint16
}

// BoneWeight binds a vertex to an animation bone group.
type BoneWeight struct {
	Group uint8
	Scale uint8
}

// Model is decoded model geometry.
//
// Faces and FaceColours always have one entry per face. Every other per-face
// slice is either nil or has one entry per face; use the accessor methods to
// read a face attribute with its neutral default applied.
type Model struct {
	Format Format

	Vertices []Vertex
	Faces    []Face

	// FaceColours are 16-bit HSL colours.
	FaceColours        []uint16
	FaceRenderTypes    []uint8
	FacePriorities     []uint8
	FaceTransparencies []uint8
	FaceMaterials      []int16
	FaceTextureCoords  []int16
	FaceSkins          []int32

	// Priority applies to every face when FacePriorities is nil.
	Priority uint8

	TextureMappings []TextureMapping

	// VertexSkins is nil or has one entry per vertex; NoSkin marks unbound vertices.
	VertexSkins []int32
	// VertexBones is nil or has one entry per vertex.
	VertexBones [][]BoneWeight

	// UsedVertexCount is one more than the highest vertex index referenced by a face.
	UsedVertexCount int
}

// FaceRenderType returns the render type of face i, RenderSmooth by default.
func (m *Model) FaceRenderType(i int) uint8 {
	if m.FaceRenderTypes == nil {
		return RenderSmooth
	}
	return m.FaceRenderTypes[i]
}

// FacePriority returns the draw priority of face i.
func (m *Model) FacePriority(i int) uint8 {
	if m.FacePriorities == nil {
		return m.Priority
	}
	return m.FacePriorities[i]
}

// FaceTransparency returns the transparency of face i, TransparencyOff by default.
func (m *Model) FaceTransparency(i int) uint8 {
	if m.FaceTransparencies == nil {
		return TransparencyOff
	}
	return m.FaceTransparencies[i]
}

// FaceMaterial returns the material id of face i, NoMaterial by default.
func (m *Model) FaceMaterial(i int) int16 {
	if m.FaceMaterials == nil {
		return NoMaterial
	}
	return m.FaceMaterials[i]
}

// FaceTextureCoord returns the texture mapping index of face i, NoTextureCoord by default.
func (m *Model) FaceTextureCoord(i int) int16 {
	if m.FaceTextureCoords == nil {
		return NoTextureCoord
	}
	return m.FaceTextureCoords[i]
}

// FaceSkin returns the skin group of face i, NoSkin by default.
func (m *Model) FaceSkin(i int) int32 {
	if m.FaceSkins == nil {
		return NoSkin
	}
	return m.FaceSkins[i]
}

// Validate checks the structural invariants of m.
func (m *Model) Validate() error {
	faces := len(m.Faces)
	vertices := len(m.Vertices)
	if len(m.FaceColours) != faces {
		return fmt.Errorf("%w: %d colours for %d faces", ErrMalformedGeometry, len(m.FaceColours), faces)
	}
	parallel := []struct {
		name string
		n    int
		set  bool
	}{
		{"render types", len(m.FaceRenderTypes), m.FaceRenderTypes != nil},
		{"priorities", len(m.FacePriorities), m.FacePriorities != nil},
		{"transparencies", len(m.FaceTransparencies), m.FaceTransparencies != nil},
		{"materials", len(m.FaceMaterials), m.FaceMaterials != nil},
		{"texture coords", len(m.FaceTextureCoords), m.FaceTextureCoords != nil},
		{"face skins", len(m.FaceSkins), m.FaceSkins != nil},
	}
	for _, p := range parallel {
		if p.set && p.n != faces {
			return fmt.Errorf("%w: %d %s for %d faces", ErrMalformedGeometry, p.n, p.name, faces)
		}
	}
	if m.VertexSkins != nil && len(m.VertexSkins) != vertices {
		return fmt.Errorf("%w: %d vertex skins for %d vertices", ErrMalformedGeometry, len(m.VertexSkins), vertices)
	}
	if m.VertexBones != nil && len(m.VertexBones) != vertices {
		return fmt.Errorf("%w: %d bone lists for %d vertices", ErrMalformedGeometry, len(m.VertexBones), vertices)
	}
	for i, f := range m.Faces {
		if int(f.A) >= vertices || int(f.B) >= vertices || int(f.C) >= vertices {
			return fmt.Errorf("%w: face %d (%d,%d,%d) outside %d vertices",
				ErrMalformedGeometry, i, f.A, f.B, f.C, vertices)
		}
	}
	for i, tm := range m.TextureMappings {
		if tm.Type != 0 {
			continue
		}
		if int(tm.P) >= vertices || int(tm.M) >= vertices || int(tm.N) >= vertices {
			return fmt.Errorf("%w: texture mapping %d (%d,%d,%d) outside %d vertices",
				ErrMalformedGeometry, i, tm.P, tm.M, tm.N, vertices)
		}
	}
	if m.FaceTextureCoords != nil {
		for i, tc := range m.FaceTextureCoords {
			if tc != NoTextureCoord && (tc < 0 || int(tc) >= len(m.TextureMappings)) {
				return fmt.Errorf("%w: face %d texture coord %d outside %d mappings",
					ErrMalformedGeometry, i, tc, len(m.TextureMappings))
			}
		}
	}
	return nil
}
