package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/internal/testutil"
	"github.com/meigma/js5/model"
)

func triangle(format model.Format) testutil.TestModel {
	return testutil.TestModel{
		Format:   format,
		Vertices: []model.Vertex{{X: 1}, {X: 1, Y: 1}, {X: 1, Y: 1, Z: 1}},
		Faces:    []model.Face{{A: 0, B: 1, C: 2}},
		Colours:  []uint16{0x1234},
	}
}

func TestDecodeDeltaVerticesAndFace(t *testing.T) {
	t.Parallel()

	raw := testutil.BuildModel(t, triangle(model.FormatLegacy))
	m, err := model.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, model.FormatLegacy, m.Format)
	assert.Equal(t, []model.Vertex{{X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 1}}, m.Vertices)
	assert.Equal(t, []model.Face{{A: 0, B: 1, C: 2}}, m.Faces)
	assert.Equal(t, []uint16{0x1234}, m.FaceColours)
	assert.Equal(t, 3, m.UsedVertexCount)
}

func TestDecodeNeutralDefaults(t *testing.T) {
	t.Parallel()

	for _, format := range []model.Format{
		model.FormatLegacy, model.FormatExtended, model.FormatLegacyMaya, model.FormatExtendedMaya,
	} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			tm := triangle(format)
			tm.Priority = 6
			m, err := model.Decode(testutil.BuildModel(t, tm))
			require.NoError(t, err)

			assert.Equal(t, format, m.Format)
			assert.Nil(t, m.FaceRenderTypes)
			assert.Nil(t, m.FacePriorities)
			assert.Nil(t, m.FaceTransparencies)
			assert.Nil(t, m.FaceMaterials)
			assert.Nil(t, m.FaceTextureCoords)
			assert.Nil(t, m.FaceSkins)
			assert.Nil(t, m.VertexSkins)
			assert.Nil(t, m.VertexBones)
			assert.Empty(t, m.TextureMappings)

			assert.Equal(t, model.RenderSmooth, m.FaceRenderType(0))
			assert.Equal(t, uint8(6), m.FacePriority(0))
			assert.Equal(t, model.TransparencyOff, m.FaceTransparency(0))
			assert.Equal(t, model.NoMaterial, m.FaceMaterial(0))
			assert.Equal(t, model.NoTextureCoord, m.FaceTextureCoord(0))
			assert.Equal(t, model.NoSkin, m.FaceSkin(0))
		})
	}
}

func TestDecodeFaceIndexOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ops  []testutil.FaceOp
	}{
		{"past vertex count", []testutil.FaceOp{{Op: 1, Deltas: []int32{0, 1, 2}}}},
		{"negative", []testutil.FaceOp{{Op: 1, Deltas: []int32{-1, 1, 1}}}},
		{"strip past vertex count", []testutil.FaceOp{
			{Op: 1, Deltas: []int32{0, 1, 1}},
			{Op: 2, Deltas: []int32{1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tm := triangle(model.FormatLegacy)
			tm.FaceOps = tt.ops
			m, err := model.Decode(testutil.BuildModel(t, tm))
			require.ErrorIs(t, err, model.ErrMalformedGeometry)
			assert.Nil(t, m)
		})
	}
}

func TestDecodeConnectivityOpcodes(t *testing.T) {
	t.Parallel()

	tm := testutil.TestModel{
		Format:   model.FormatExtended,
		Vertices: []model.Vertex{{}, {X: 10}, {X: 10, Y: 10}, {Y: 10}},
		FaceOps: []testutil.FaceOp{
			{Op: 1, Deltas: []int32{0, 1, 1}}, // (0,1,2)
			{Op: 2, Deltas: []int32{1}},       // keep a, b<-c: (0,2,3)
			{Op: 3, Deltas: []int32{-2}},      // a<-c, keep b: (3,2,1)
			{Op: 4, Deltas: []int32{1}},       // swap a/b: (2,3,2)
		},
	}
	m, err := model.Decode(testutil.BuildModel(t, tm))
	require.NoError(t, err)
	assert.Equal(t, []model.Face{
		{A: 0, B: 1, C: 2},
		{A: 0, B: 2, C: 3},
		{A: 3, B: 2, C: 1},
		{A: 2, B: 3, C: 2},
	}, m.Faces)
	assert.Equal(t, 4, m.UsedVertexCount)
	assert.Len(t, m.FaceColours, 4)
}

func TestDecodeUnknownOpcode(t *testing.T) {
	t.Parallel()

	tm := triangle(model.FormatLegacy)
	tm.FaceOps = []testutil.FaceOp{{Op: 5}}
	_, err := model.Decode(testutil.BuildModel(t, tm))
	require.ErrorIs(t, err, model.ErrMalformedGeometry)
	assert.Contains(t, err.Error(), "opcode 5")
}

func TestDecodeLegacyTextureFlags(t *testing.T) {
	t.Parallel()

	tm := testutil.TestModel{
		Format:          model.FormatLegacy,
		Vertices:        []model.Vertex{{X: 1}, {Y: 1}, {Z: 1}},
		Faces:           []model.Face{{A: 0, B: 1, C: 2}, {A: 2, B: 1, C: 0}},
		Colours:         []uint16{100, 55},
		TextureFlags:    []uint8{0x1, 0x2},
		TextureMappings: []model.TextureMapping{{P: 0, M: 1, N: 2}},
	}
	m, err := model.Decode(testutil.BuildModel(t, tm))
	require.NoError(t, err)

	assert.Equal(t, []uint8{model.RenderFlat, model.RenderSmooth}, m.FaceRenderTypes)
	assert.Equal(t, []int16{model.NoMaterial, 55}, m.FaceMaterials)
	assert.Equal(t, []int16{model.NoTextureCoord, 0}, m.FaceTextureCoords)
	assert.Equal(t, []uint16{100, model.TexturedColour}, m.FaceColours)
	assert.Equal(t, []model.TextureMapping{{Type: 0, P: 0, M: 1, N: 2}}, m.TextureMappings)
}

func TestDecodeExtendedFaceAttributes(t *testing.T) {
	t.Parallel()

	for _, format := range []model.Format{model.FormatExtended, model.FormatExtendedMaya} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			tm := testutil.TestModel{
				Format:         format,
				Vertices:       []model.Vertex{{X: -5}, {X: 5}, {Y: 300}},
				Faces:          []model.Face{{A: 0, B: 1, C: 2}, {A: 1, B: 2, C: 0}},
				Colours:        []uint16{1, 2},
				RenderTypes:    []uint8{0, 1},
				Priorities:     []uint8{3, 4},
				Transparencies: []uint8{0, 200},
				FaceSkins:      []uint8{1, 2},
				VertexSkins:    []uint8{0, 255, 3},
				Materials:      []int16{model.NoMaterial, 10},
				TextureCoords:  []int16{model.NoTextureCoord, 1},
				TextureMappings: []model.TextureMapping{
					{Type: 0, P: 0, M: 1, N: 2},
					{Type: 2, P: 700, M: 800, N: 900},
				},
			}
			m, err := model.Decode(testutil.BuildModel(t, tm))
			require.NoError(t, err)

			assert.Equal(t, []model.Vertex{{X: -5}, {X: 5}, {Y: 300}}, m.Vertices)
			assert.Equal(t, []uint8{0, 1}, m.FaceRenderTypes)
			assert.Equal(t, []uint8{3, 4}, m.FacePriorities)
			assert.Equal(t, uint8(4), m.FacePriority(1))
			assert.Equal(t, []uint8{0, 200}, m.FaceTransparencies)
			assert.Equal(t, []int32{1, 2}, m.FaceSkins)
			assert.Equal(t, []int32{0, model.NoSkin, 3}, m.VertexSkins)
			assert.Equal(t, []int16{model.NoMaterial, 10}, m.FaceMaterials)
			assert.Equal(t, []int16{model.NoTextureCoord, 1}, m.FaceTextureCoords)
			assert.Equal(t, tm.TextureMappings, m.TextureMappings)
			assert.Nil(t, m.VertexBones)
		})
	}
}

func TestDecodeMayaBones(t *testing.T) {
	t.Parallel()

	bones := [][]model.BoneWeight{
		{{Group: 1, Scale: 2}},
		{},
		{{Group: 3, Scale: 4}, {Group: 5, Scale: 6}},
	}
	tests := []struct {
		name   string
		format model.Format
		skins  []uint8
	}{
		{"legacy with skins", model.FormatLegacyMaya, []uint8{7, 8, 9}},
		{"legacy without skins", model.FormatLegacyMaya, nil},
		{"extended with skins", model.FormatExtendedMaya, []uint8{7, 8, 9}},
		{"extended without skins", model.FormatExtendedMaya, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tm := triangle(tt.format)
			tm.VertexSkins = tt.skins
			tm.Bones = bones
			m, err := model.Decode(testutil.BuildModel(t, tm))
			require.NoError(t, err)

			assert.Equal(t, bones, m.VertexBones)
			if tt.skins == nil {
				assert.Nil(t, m.VertexSkins)
			} else {
				assert.Equal(t, []int32{7, 8, 9}, m.VertexSkins)
			}
		})
	}
}

func TestDecodeLegacyVertexSkins(t *testing.T) {
	t.Parallel()

	tm := triangle(model.FormatLegacy)
	tm.VertexSkins = []uint8{255, 0, 4}
	tm.FaceSkins = []uint8{2}
	tm.Transparencies = []uint8{9}
	tm.Priorities = []uint8{1}
	m, err := model.Decode(testutil.BuildModel(t, tm))
	require.NoError(t, err)

	assert.Equal(t, []int32{model.NoSkin, 0, 4}, m.VertexSkins)
	assert.Equal(t, []int32{2}, m.FaceSkins)
	assert.Equal(t, []uint8{9}, m.FaceTransparencies)
	assert.Equal(t, []uint8{1}, m.FacePriorities)
}

func TestDecodeStreamOverrunsTrailer(t *testing.T) {
	t.Parallel()

	raw := testutil.BuildModel(t, triangle(model.FormatExtended))
	_, err := model.Decode(raw[1:])
	require.ErrorIs(t, err, model.ErrMalformedGeometry)

	// Trailing bytes between the streams and the trailer are tolerated.
	tm := triangle(model.FormatExtended)
	tm.Padding = []byte{0xAA, 0xBB}
	_, err = model.Decode(testutil.BuildModel(t, tm))
	require.NoError(t, err)
}

func TestDecodeShortIndexStream(t *testing.T) {
	t.Parallel()

	tm := triangle(model.FormatLegacy)
	tm.FaceOps = []testutil.FaceOp{{Op: 1, Deltas: []int32{0}}}
	_, err := model.Decode(testutil.BuildModel(t, tm))
	require.ErrorIs(t, err, model.ErrMalformedGeometry)
	require.ErrorIs(t, err, packet.ErrOutOfBounds)
}

func TestDecodeNeverPanicsOnTruncation(t *testing.T) {
	t.Parallel()

	tm := triangle(model.FormatExtendedMaya)
	tm.Bones = [][]model.BoneWeight{{{Group: 1, Scale: 1}}, {}, {}}
	tm.Materials = []int16{3}
	tm.TextureMappings = []model.TextureMapping{{P: 0, M: 1, N: 2}}
	raw := testutil.BuildModel(t, tm)
	for cut := range len(raw) {
		require.NotPanics(t, func() {
			_, _ = model.Decode(raw[:cut])
			_, _ = model.Decode(raw[cut:])
		}, "cut at %d", cut)
	}
}

func TestDecodeTooShort(t *testing.T) {
	t.Parallel()

	for _, raw := range [][]byte{nil, {0x01}, {0xFF, 0xFF}, make([]byte, 10)} {
		_, err := model.Decode(raw)
		require.ErrorIs(t, err, model.ErrMalformedGeometry, "len %d", len(raw))
	}
}

func TestDecodeIdempotent(t *testing.T) {
	t.Parallel()

	tm := triangle(model.FormatExtendedMaya)
	tm.VertexSkins = []uint8{1, 2, 3}
	tm.Bones = [][]model.BoneWeight{{{Group: 1, Scale: 2}}, {}, {}}
	raw := testutil.BuildModel(t, tm)

	a, err := model.Decode(raw)
	require.NoError(t, err)
	b, err := model.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tail []byte
		want model.Format
	}{
		{[]byte{0xFF, 0xFF}, model.FormatExtended},
		{[]byte{0xFF, 0xFE}, model.FormatLegacyMaya},
		{[]byte{0xFF, 0xFD}, model.FormatExtendedMaya},
		{[]byte{0xFF, 0xFC}, model.FormatLegacy},
		{[]byte{0x00, 0x03}, model.FormatLegacy},
	}
	for _, tt := range tests {
		got, err := model.DetectFormat(append([]byte{0x00}, tt.tail...))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := model.DetectFormat([]byte{0xFF})
	require.ErrorIs(t, err, model.ErrMalformedGeometry)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *model.Model {
		return &model.Model{
			Vertices:    []model.Vertex{{}, {}, {}},
			Faces:       []model.Face{{A: 0, B: 1, C: 2}},
			FaceColours: []uint16{0},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*model.Model)
	}{
		{"colour count", func(m *model.Model) { m.FaceColours = nil }},
		{"render types", func(m *model.Model) { m.FaceRenderTypes = []uint8{0, 0} }},
		{"face index", func(m *model.Model) { m.Faces[0].C = 3 }},
		{"vertex skins", func(m *model.Model) { m.VertexSkins = []int32{0} }},
		{"bones", func(m *model.Model) { m.VertexBones = [][]model.BoneWeight{{}} }},
		{"mapping vertex", func(m *model.Model) {
			m.TextureMappings = []model.TextureMapping{{P: 0, M: 1, N: 9}}
		}},
		{"texture coord", func(m *model.Model) { m.FaceTextureCoords = []int16{0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := valid()
			tt.mutate(m)
			require.ErrorIs(t, m.Validate(), model.ErrMalformedGeometry)
		})
	}
}
