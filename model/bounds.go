package model

import "math"

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vertex
}

// Center returns the midpoint of b.
func (b Box) Center() Vertex {
	return Vertex{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Bounds describes the extent of the vertices referenced by faces.
type Bounds struct {
	Box Box
	// XZRadius is the ceiling of the largest distance from the Y axis.
	XZRadius int32
	// XYZRadius is the ceiling of the largest distance from the origin.
	XYZRadius int32
}

// Bounds computes the extent of the first UsedVertexCount vertices.
// A model without faces has zero bounds.
func (m *Model) Bounds() Bounds {
	used := m.used()
	if used == 0 {
		return Bounds{}
	}
	box := Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	var maxXZ, maxXYZ int64
	for _, v := range m.Vertices[:used] {
		box.Min.X = min(box.Min.X, v.X)
		box.Min.Y = min(box.Min.Y, v.Y)
		box.Min.Z = min(box.Min.Z, v.Z)
		box.Max.X = max(box.Max.X, v.X)
		box.Max.Y = max(box.Max.Y, v.Y)
		box.Max.Z = max(box.Max.Z, v.Z)

		x, y, z := int64(v.X), int64(v.Y), int64(v.Z)
		xz := x*x + z*z
		maxXZ = max(maxXZ, xz)
		maxXYZ = max(maxXYZ, xz+y*y)
	}
	return Bounds{
		Box:       box,
		XZRadius:  radius(maxXZ),
		XYZRadius: radius(maxXYZ),
	}
}

func radius(sq int64) int32 {
	return int32(math.Sqrt(float64(sq)) + 0.99) //nolint:gosec // bounded by the int32 coordinate range
}

func (m *Model) used() int {
	return min(m.UsedVertexCount, len(m.Vertices))
}

// VertexNormal is an accumulated smooth-shading normal. Divide by Magnitude
// to average.
type VertexNormal struct {
	X, Y, Z   int32
	Magnitude int32
}

// FaceNormal is the normal of a flat-shaded face.
type FaceNormal struct {
	X, Y, Z int32
}

// normalLimit bounds the unscaled cross product before normalisation.
const normalLimit = 8192

// Normals computes per-vertex normals for smooth faces and per-face normals
// for flat faces. Normals are scaled to a length of about 256. The vertex
// slice has UsedVertexCount entries; faces of other render types contribute
// nothing.
func (m *Model) Normals() ([]VertexNormal, []FaceNormal) {
	vertexNormals := make([]VertexNormal, m.used())
	faceNormals := make([]FaceNormal, len(m.Faces))

	for i, f := range m.Faces {
		a, b, c := m.Vertices[f.A], m.Vertices[f.B], m.Vertices[f.C]
		dx0, dy0, dz0 := int64(b.X)-int64(a.X), int64(b.Y)-int64(a.Y), int64(b.Z)-int64(a.Z)
		dx1, dy1, dz1 := int64(c.X)-int64(a.X), int64(c.Y)-int64(a.Y), int64(c.Z)-int64(a.Z)

		nx := dy0*dz1 - dy1*dz0
		ny := dz0*dx1 - dz1*dx0
		nz := dx0*dy1 - dx1*dy0
		for outside(nx) || outside(ny) || outside(nz) {
			nx >>= 1
			ny >>= 1
			nz >>= 1
		}
		mag := int64(math.Sqrt(float64(nx*nx + ny*ny + nz*nz)))
		if mag <= 0 {
			mag = 1
		}
		nx = nx * 256 / mag
		ny = ny * 256 / mag
		nz = nz * 256 / mag

		switch m.FaceRenderType(i) {
		case RenderSmooth:
			for _, idx := range [3]uint16{f.A, f.B, f.C} {
				if int(idx) >= len(vertexNormals) {
					continue
				}
				n := &vertexNormals[idx]
				n.X += int32(nx)
				n.Y += int32(ny)
				n.Z += int32(nz)
				n.Magnitude++
			}
		case RenderFlat:
			faceNormals[i] = FaceNormal{X: int32(nx), Y: int32(ny), Z: int32(nz)}
		}
	}
	return vertexNormals, faceNormals
}

func outside(v int64) bool {
	return v > normalLimit || v < -normalLimit
}
