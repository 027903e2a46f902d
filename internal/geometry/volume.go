// Package geometry holds the bounding volumes tiles are culled and measured against.
package geometry

import (
	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

type VolumeKind int

const (
	KindBox VolumeKind = iota
	KindRegion
)

func (k VolumeKind) String() string {
	if k == KindRegion {
		return "region"
	}
	return "box"
}

// BoundingVolume is a tile volume as declared by the dataset. Every query (distance, frustum,
// footprint) runs on its cartesian Box form, which callers cache and recompute only when the
// owning tile's transform changes.
type BoundingVolume interface {
	Kind() VolumeKind

	// Cartesian returns the volume in world space. Boxes honour the transform, regions are
	// already geodetic and go through the converter instead.
	Cartesian(transform mgl64.Mat4, converter converters.CoordinateConverter) (Box, error)

	// Subdivide returns the volume of the child at index in an implicit tree. Bit 0 of the index
	// selects the upper half along x (longitude), bit 1 along y (latitude), bit 2 along z (height)
	// and is only read when octree is set.
	Subdivide(index int, octree bool) BoundingVolume
}

// childOffset returns -0.5 or +0.5 for the given axis bit of a child index.
func childOffset(index int, bit uint) float64 {
	if index&(1<<bit) != 0 {
		return 0.5
	}
	return -0.5
}

func transformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	v := m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

func transformDirection(m mgl64.Mat4, d r3.Vector) r3.Vector {
	v := m.Mul4x1(mgl64.Vec4{d.X, d.Y, d.Z, 0})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
