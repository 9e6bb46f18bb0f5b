package model

import (
	"fmt"

	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/internal/sizing"
)

// Trailing markers selecting the layout. Payloads ending in anything else
// use FormatLegacy, whose trailer has no marker.
const (
	markerExtended     = 0xFFFF
	markerLegacyMaya   = 0xFFFE
	markerExtendedMaya = 0xFFFD
)

// Trailer sizes, including the marker where present.
const (
	trailerLegacy       = 18
	trailerExtended     = 23
	trailerLegacyMaya   = 23
	trailerExtendedMaya = 26
)

// Face connectivity opcodes.
const (
	opTriangle  = 1 // three new indices
	opStripB    = 2 // keep a, b takes the previous c
	opStripA    = 3 // a takes the previous c, keep b
	opSwapFan   = 4 // swap a and b
	bytesPerMap = 6
)

// DetectFormat reports the layout of data from its last two bytes.
func DetectFormat(data []byte) (Format, error) {
	c := packet.NewCursor(data)
	if err := c.Seek(len(data) - 2); err != nil {
		return 0, fmt.Errorf("%w: payload of %d bytes has no trailer: %w", ErrMalformedGeometry, len(data), err)
	}
	marker, err := c.U16()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedGeometry, err)
	}
	switch marker {
	case markerExtended:
		return FormatExtended, nil
	case markerLegacyMaya:
		return FormatLegacyMaya, nil
	case markerExtendedMaya:
		return FormatExtendedMaya, nil
	default:
		return FormatLegacy, nil
	}
}

// layout is the result of the trailer pass: counts, flags and the offset of
// every sub-stream.
type layout struct {
	format      Format
	trailerSize int

	vertexCount int
	faceCount   int
	texCount    int

	priority          uint8
	hasPriorities     bool
	hasRenderTypes    bool
	hasTextures       bool
	hasTransparencies bool
	hasFaceSkins      bool
	hasVertexSkins    bool
	hasBones          bool

	vxLen          int
	vyLen          int
	vzLen          int
	indexLen       int
	texCoordLen    int
	vertexSkinsLen int

	textureTypes []uint8
	simpleCount  int
	complexCount int

	vertexFlags    int
	renderTypes    int
	indexTypes     int
	priorities     int
	faceSkins      int
	textureFlags   int
	vertexSkins    int
	transparencies int
	indices        int
	materials      int
	textureCoords  int
	colours        int
	legacyMappings int
	vx             int
	vy             int
	vz             int
	simpleMappings int
	complexMaps    int
	end            int
}

func (l *layout) extended() bool {
	return l.format == FormatExtended || l.format == FormatExtendedMaya
}

// limit is the offset where sub-streams must end: the start of the trailer.
func (l *layout) limit(data []byte) int {
	return len(data) - l.trailerSize
}

// Decode parses a model payload.
//
// Any structural violation, including a face index outside the vertex range,
// returns an error wrapping ErrMalformedGeometry. Reads past a sub-stream
// additionally match packet.ErrOutOfBounds.
func Decode(data []byte) (*Model, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	l, err := readTrailer(data, format)
	if err != nil {
		return nil, err
	}
	if err := l.computeOffsets(data); err != nil {
		return nil, err
	}

	m := &Model{Format: format}
	if err := decodeVertices(m, l, data); err != nil {
		return nil, err
	}
	if l.extended() {
		err = decodeFaceAttributesExtended(m, l, data)
	} else {
		err = decodeFaceAttributesLegacy(m, l, data)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeFaces(m, l, data); err != nil {
		return nil, err
	}
	if err := decodeTextureMappings(m, l, data); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func trailerSize(f Format) int {
	switch f {
	case FormatExtended:
		return trailerExtended
	case FormatLegacyMaya:
		return trailerLegacyMaya
	case FormatExtendedMaya:
		return trailerExtendedMaya
	default:
		return trailerLegacy
	}
}

// readTrailer is the first pass: fixed fields at the tail of the buffer.
func readTrailer(data []byte, format Format) (*layout, error) {
	l := &layout{format: format, trailerSize: trailerSize(format)}
	if len(data) < l.trailerSize {
		return nil, fmt.Errorf("%w: %s payload of %d bytes is shorter than its %d byte trailer",
			ErrMalformedGeometry, format, len(data), l.trailerSize)
	}
	s := newStream("trailer", data, len(data)-l.trailerSize, l.trailerSize, len(data))
	bones := format == FormatLegacyMaya || format == FormatExtendedMaya

	l.vertexCount = s.u16()
	l.faceCount = s.u16()
	l.texCount = s.u8()
	if l.extended() {
		l.hasRenderTypes = s.u8()&1 != 0
		l.priority = uint8(s.u8())
		l.hasTransparencies = s.flag()
		l.hasFaceSkins = s.flag()
		l.hasTextures = s.flag()
		l.hasVertexSkins = s.flag()
		if bones {
			l.hasBones = s.flag()
		}
		l.vxLen = s.u16()
		l.vyLen = s.u16()
		l.vzLen = s.u16()
		l.indexLen = s.u16()
		l.texCoordLen = s.u16()
	} else {
		l.hasTextures = s.flag()
		l.priority = uint8(s.u8())
		l.hasTransparencies = s.flag()
		l.hasFaceSkins = s.flag()
		l.hasVertexSkins = s.flag()
		if bones {
			l.hasBones = s.flag()
		}
		l.vxLen = s.u16()
		l.vyLen = s.u16()
		l.vzLen = s.u16()
		l.indexLen = s.u16()
	}
	if bones {
		l.vertexSkinsLen = s.u16()
	} else if l.hasVertexSkins {
		l.vertexSkinsLen = l.vertexCount
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	l.hasPriorities = l.priority == 0xFF
	return l, nil
}

// computeOffsets is the second pass: lay the sub-streams out from the start
// of the buffer in the format's fixed order.
func (l *layout) computeOffsets(data []byte) error {
	vc, fc := l.vertexCount, l.faceCount
	var off int
	add := func(n int, present bool) int {
		start := off
		if present {
			off += n
		}
		return start
	}

	if l.extended() {
		types := newStream("texture types", data, 0, l.texCount, l.limit(data))
		l.textureTypes = make([]uint8, l.texCount)
		for i := range l.textureTypes {
			t := uint8(types.u8())
			l.textureTypes[i] = t
			if t == 0 {
				l.simpleCount++
			}
			if t >= 1 && t <= 3 {
				l.complexCount++
			}
		}
		if err := types.check(); err != nil {
			return err
		}
		off = l.texCount
		l.vertexFlags = add(vc, true)
		l.renderTypes = add(fc, l.hasRenderTypes)
		l.indexTypes = add(fc, true)
		l.priorities = add(fc, l.hasPriorities)
		l.faceSkins = add(fc, l.hasFaceSkins)
		l.vertexSkins = add(l.vertexSkinsLen, true)
		l.transparencies = add(fc, l.hasTransparencies)
		l.indices = add(l.indexLen, true)
		l.materials = add(fc*2, l.hasTextures)
		l.textureCoords = add(l.texCoordLen, true)
		l.colours = add(fc*2, true)
		l.vx = add(l.vxLen, true)
		l.vy = add(l.vyLen, true)
		l.vz = add(l.vzLen, true)
		l.simpleMappings = add(l.simpleCount*bytesPerMap, true)
		l.complexMaps = add(l.complexCount*bytesPerMap, true)
	} else {
		l.vertexFlags = add(vc, true)
		l.indexTypes = add(fc, true)
		l.priorities = add(fc, l.hasPriorities)
		l.faceSkins = add(fc, l.hasFaceSkins)
		l.textureFlags = add(fc, l.hasTextures)
		l.vertexSkins = add(l.vertexSkinsLen, true)
		l.transparencies = add(fc, l.hasTransparencies)
		l.indices = add(l.indexLen, true)
		l.colours = add(fc*2, true)
		l.legacyMappings = add(l.texCount*bytesPerMap, true)
		l.vx = add(l.vxLen, true)
		l.vy = add(l.vyLen, true)
		l.vz = add(l.vzLen, true)
	}
	l.end = off

	if end, ok := sizing.AddInt(l.end, l.trailerSize); !ok || end > len(data) {
		return fmt.Errorf("%w: sub-streams end at %d, trailer starts at %d",
			ErrMalformedGeometry, l.end, l.limit(data))
	}
	return nil
}

func decodeVertices(m *Model, l *layout, data []byte) error {
	limit := l.limit(data)
	flags := newStream("vertex flags", data, l.vertexFlags, l.vertexCount, limit)
	xs := newStream("vertex x", data, l.vx, l.vxLen, limit)
	ys := newStream("vertex y", data, l.vy, l.vyLen, limit)
	zs := newStream("vertex z", data, l.vz, l.vzLen, limit)

	m.Vertices = make([]Vertex, l.vertexCount)
	var x, y, z int32
	for i := range m.Vertices {
		f := flags.u8()
		if f&0x1 != 0 {
			x += xs.smart()
		}
		if f&0x2 != 0 {
			y += ys.smart()
		}
		if f&0x4 != 0 {
			z += zs.smart()
		}
		m.Vertices[i] = Vertex{X: x, Y: y, Z: z}
	}
	if err := firstError(flags, xs, ys, zs); err != nil {
		return err
	}

	if !l.hasVertexSkins && !l.hasBones {
		return nil
	}
	skins := newStream("vertex skins", data, l.vertexSkins, l.vertexSkinsLen, limit)
	if l.hasVertexSkins {
		m.VertexSkins = make([]int32, l.vertexCount)
		for i := range m.VertexSkins {
			v := skins.u8()
			if v == 0xFF {
				m.VertexSkins[i] = NoSkin
			} else {
				m.VertexSkins[i] = int32(v)
			}
		}
	}
	if l.hasBones {
		m.VertexBones = make([][]BoneWeight, l.vertexCount)
		for i := range m.VertexBones {
			n := skins.u8()
			bones := make([]BoneWeight, n)
			for j := range bones {
				bones[j].Group = uint8(skins.u8())
				bones[j].Scale = uint8(skins.u8())
			}
			m.VertexBones[i] = bones
		}
	}
	return skins.check()
}

func decodeFaceAttributesLegacy(m *Model, l *layout, data []byte) error {
	limit := l.limit(data)
	fc := l.faceCount
	colours := newStream("face colours", data, l.colours, fc*2, limit)
	m.FaceColours = make([]uint16, fc)
	for i := range m.FaceColours {
		m.FaceColours[i] = uint16(colours.u16())
	}
	if err := colours.check(); err != nil {
		return err
	}

	if l.hasTextures {
		tf := newStream("texture flags", data, l.textureFlags, fc, limit)
		m.FaceRenderTypes = make([]uint8, fc)
		m.FaceMaterials = make([]int16, fc)
		m.FaceTextureCoords = make([]int16, fc)
		for i := range fc {
			f := tf.u8()
			m.FaceRenderTypes[i] = uint8(f & 0x1)
			if f&0x2 != 0 {
				m.FaceMaterials[i] = int16(m.FaceColours[i]) //nolint:gosec // material ids share the colour field
				m.FaceTextureCoords[i] = int16(f >> 2)
				m.FaceColours[i] = TexturedColour
			} else {
				m.FaceMaterials[i] = NoMaterial
				m.FaceTextureCoords[i] = NoTextureCoord
			}
		}
		if err := tf.check(); err != nil {
			return err
		}
	}
	return decodeSharedFaceAttributes(m, l, data)
}

func decodeFaceAttributesExtended(m *Model, l *layout, data []byte) error {
	limit := l.limit(data)
	fc := l.faceCount
	colours := newStream("face colours", data, l.colours, fc*2, limit)
	m.FaceColours = make([]uint16, fc)
	for i := range m.FaceColours {
		m.FaceColours[i] = uint16(colours.u16())
	}
	if err := colours.check(); err != nil {
		return err
	}

	if l.hasRenderTypes {
		rt := newStream("render types", data, l.renderTypes, fc, limit)
		m.FaceRenderTypes = make([]uint8, fc)
		for i := range m.FaceRenderTypes {
			m.FaceRenderTypes[i] = uint8(rt.u8())
		}
		if err := rt.check(); err != nil {
			return err
		}
	}
	if err := decodeSharedFaceAttributes(m, l, data); err != nil {
		return err
	}

	if !l.hasTextures {
		return nil
	}
	mats := newStream("face materials", data, l.materials, fc*2, limit)
	m.FaceMaterials = make([]int16, fc)
	for i := range m.FaceMaterials {
		m.FaceMaterials[i] = int16(mats.u16() - 1) //nolint:gosec // stored as id+1
	}
	if err := mats.check(); err != nil {
		return err
	}
	if l.texCount == 0 {
		return nil
	}
	coords := newStream("texture coords", data, l.textureCoords, l.texCoordLen, limit)
	m.FaceTextureCoords = make([]int16, fc)
	for i, mat := range m.FaceMaterials {
		if mat == NoMaterial {
			m.FaceTextureCoords[i] = NoTextureCoord
			continue
		}
		m.FaceTextureCoords[i] = int16(coords.u8() - 1)
	}
	return coords.check()
}

// decodeSharedFaceAttributes reads the per-face streams common to every format.
func decodeSharedFaceAttributes(m *Model, l *layout, data []byte) error {
	limit := l.limit(data)
	fc := l.faceCount
	if l.hasPriorities {
		s := newStream("face priorities", data, l.priorities, fc, limit)
		m.FacePriorities = make([]uint8, fc)
		for i := range m.FacePriorities {
			m.FacePriorities[i] = uint8(s.u8())
		}
		if err := s.check(); err != nil {
			return err
		}
	} else {
		m.Priority = l.priority
	}
	if l.hasTransparencies {
		s := newStream("face transparencies", data, l.transparencies, fc, limit)
		m.FaceTransparencies = make([]uint8, fc)
		for i := range m.FaceTransparencies {
			m.FaceTransparencies[i] = uint8(s.u8())
		}
		if err := s.check(); err != nil {
			return err
		}
	}
	if l.hasFaceSkins {
		s := newStream("face skins", data, l.faceSkins, fc, limit)
		m.FaceSkins = make([]int32, fc)
		for i := range m.FaceSkins {
			m.FaceSkins[i] = int32(s.u8())
		}
		if err := s.check(); err != nil {
			return err
		}
	}
	return nil
}

// decodeFaces resolves the connectivity opcodes. The last three indices and
// the running base index are loop locals.
func decodeFaces(m *Model, l *layout, data []byte) error {
	limit := l.limit(data)
	ops := newStream("face types", data, l.indexTypes, l.faceCount, limit)
	idx := newStream("face indices", data, l.indices, l.indexLen, limit)

	m.Faces = make([]Face, l.faceCount)
	vc := int32(l.vertexCount) //nolint:gosec // at most 0xFFFF
	var a, b, c, last int32
	used := int32(-1)
	for i := range m.Faces {
		op := ops.u8()
		switch op {
		case opTriangle:
			a = idx.smart() + last
			b = idx.smart() + a
			c = idx.smart() + b
		case opStripB:
			b = c
			c = idx.smart() + last
		case opStripA:
			a = c
			c = idx.smart() + last
		case opSwapFan:
			a, b = b, a
			c = idx.smart() + last
		default:
			if err := ops.check(); err != nil {
				return err
			}
			return fmt.Errorf("%w: face %d has unknown connectivity opcode %d", ErrMalformedGeometry, i, op)
		}
		last = c
		if err := firstError(ops, idx); err != nil {
			return fmt.Errorf("face %d: %w", i, err)
		}
		for _, v := range [3]int32{a, b, c} {
			if v < 0 || v >= vc {
				return fmt.Errorf("%w: face %d references vertex %d of %d", ErrMalformedGeometry, i, v, vc)
			}
			used = max(used, v)
		}
		m.Faces[i] = Face{A: uint16(a), B: uint16(b), C: uint16(c)} //nolint:gosec // range checked above
	}
	m.UsedVertexCount = int(used + 1)
	return nil
}

func decodeTextureMappings(m *Model, l *layout, data []byte) error {
	if l.texCount == 0 {
		return nil
	}
	limit := l.limit(data)
	m.TextureMappings = make([]TextureMapping, l.texCount)
	if !l.extended() {
		s := newStream("texture mappings", data, l.legacyMappings, l.texCount*bytesPerMap, limit)
		for i := range m.TextureMappings {
			readMapping(s, &m.TextureMappings[i])
		}
		return s.check()
	}

	simple := newStream("simple texture mappings", data, l.simpleMappings, l.simpleCount*bytesPerMap, limit)
	complexMaps := newStream("complex texture mappings", data, l.complexMaps, l.complexCount*bytesPerMap, limit)
	for i, t := range l.textureTypes {
		tm := &m.TextureMappings[i]
		tm.Type = t
		switch {
		case t == 0:
			readMapping(simple, tm)
		case t <= 3:
			readMapping(complexMaps, tm)
		}
	}
	return firstError(simple, complexMaps)
}

func readMapping(s *stream, tm *TextureMapping) {
	tm.P = uint16(s.u16())
	tm.M = uint16(s.u16())
	tm.N = uint16(s.u16())
}

// stream is a cursor over one sub-stream. The first failed read is kept and
// later reads return zero, so a decode loop checks once at the end.
type stream struct {
	name string
	c    *packet.Cursor
	err  error
}

// newStream opens n bytes at off. The region must end at or before limit.
func newStream(name string, data []byte, off, n, limit int) *stream {
	s := &stream{name: name}
	end, ok := sizing.AddInt(off, n)
	if !ok || end > limit || limit > len(data) {
		s.c = packet.NewCursor(nil)
		s.err = fmt.Errorf("%w: region [%d,%d) exceeds %d bytes", packet.ErrOutOfBounds, off, off+n, limit)
		return s
	}
	s.c = packet.NewCursor(data[off:end:end])
	return s
}

func (s *stream) u8() int {
	if s.err != nil {
		return 0
	}
	v, err := s.c.U8()
	s.err = err
	return int(v)
}

func (s *stream) u16() int {
	if s.err != nil {
		return 0
	}
	v, err := s.c.U16()
	s.err = err
	return int(v)
}

func (s *stream) flag() bool {
	return s.u8() == 1
}

func (s *stream) smart() int32 {
	if s.err != nil {
		return 0
	}
	v, err := s.c.Smart1or2Signed()
	s.err = err
	return v
}

func (s *stream) check() error {
	if s.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s stream: %w", ErrMalformedGeometry, s.name, s.err)
}

func firstError(streams ...*stream) error {
	for _, s := range streams {
		if err := s.check(); err != nil {
			return err
		}
	}
	return nil
}
