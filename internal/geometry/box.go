package geometry

import (
	"errors"
	"math"

	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Box is an oriented box: a center and three half-axis vectors whose lengths are the half
// extents. This is the 3D Tiles "box" layout.
type Box struct {
	Center   r3.Vector
	HalfAxes [3]r3.Vector
}

// NewBoxFromArray builds a box from the 12 numbers of a 3D Tiles box.
func NewBoxFromArray(values []float64) (Box, error) {
	if len(values) != 12 {
		return Box{}, errors.New("box needs 12 values")
	}
	return Box{
		Center: r3.Vector{X: values[0], Y: values[1], Z: values[2]},
		HalfAxes: [3]r3.Vector{
			{X: values[3], Y: values[4], Z: values[5]},
			{X: values[6], Y: values[7], Z: values[8]},
			{X: values[9], Y: values[10], Z: values[11]},
		},
	}, nil
}

// NewBoxFromSphere folds a bounding sphere into the axis aligned box that encloses it.
func NewBoxFromSphere(center r3.Vector, radius float64) Box {
	return NewAxisAlignedBox(center, r3.Vector{X: radius, Y: radius, Z: radius})
}

func NewAxisAlignedBox(center r3.Vector, halfExtents r3.Vector) Box {
	return Box{
		Center: center,
		HalfAxes: [3]r3.Vector{
			{X: halfExtents.X},
			{Y: halfExtents.Y},
			{Z: halfExtents.Z},
		},
	}
}

// NewBoxFromPoints returns the axis aligned box enclosing all points.
func NewBoxFromPoints(points []r3.Vector) Box {
	if len(points) == 0 {
		return Box{}
	}
	min, max := points[0], points[0]
	for _, p := range points[1:] {
		min = r3.Vector{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = r3.Vector{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	return NewAxisAlignedBox(min.Add(max).Mul(0.5), max.Sub(min).Mul(0.5))
}

func (b Box) Kind() VolumeKind {
	return KindBox
}

func (b Box) Cartesian(transform mgl64.Mat4, _ converters.CoordinateConverter) (Box, error) {
	return b.Transform(transform), nil
}

// Transform applies an affine transform to the box.
func (b Box) Transform(m mgl64.Mat4) Box {
	return Box{
		Center: transformPoint(m, b.Center),
		HalfAxes: [3]r3.Vector{
			transformDirection(m, b.HalfAxes[0]),
			transformDirection(m, b.HalfAxes[1]),
			transformDirection(m, b.HalfAxes[2]),
		},
	}
}

func (b Box) Subdivide(index int, octree bool) BoundingVolume {
	child := Box{Center: b.Center}
	for axis := 0; axis < 3; axis++ {
		if axis == 2 && !octree {
			child.HalfAxes[axis] = b.HalfAxes[axis]
			continue
		}
		child.HalfAxes[axis] = b.HalfAxes[axis].Mul(0.5)
		child.Center = child.Center.Add(b.HalfAxes[axis].Mul(childOffset(index, uint(axis))))
	}
	return child
}

// ClosestPoint returns the point of the box nearest to p, which is p itself when inside.
func (b Box) ClosestPoint(p r3.Vector) r3.Vector {
	d := p.Sub(b.Center)
	q := b.Center
	for _, axis := range b.HalfAxes {
		length := axis.Norm()
		if length == 0 {
			continue
		}
		u := axis.Mul(1 / length)
		dist := math.Max(-length, math.Min(length, d.Dot(u)))
		q = q.Add(u.Mul(dist))
	}
	return q
}

// Distance is zero when p is inside the box.
func (b Box) Distance(p r3.Vector) float64 {
	return b.ClosestPoint(p).Sub(p).Norm()
}

func (b Box) Contains(p r3.Vector) bool {
	return b.Distance(p) < 1e-9
}

func (b Box) Corners() [8]r3.Vector {
	var corners [8]r3.Vector
	for i := 0; i < 8; i++ {
		c := b.Center
		for axis := 0; axis < 3; axis++ {
			c = c.Add(b.HalfAxes[axis].Mul(2 * childOffset(i, uint(axis))))
		}
		corners[i] = c
	}
	return corners
}

// HalfExtents returns the length of each half axis.
func (b Box) HalfExtents() r3.Vector {
	return r3.Vector{X: b.HalfAxes[0].Norm(), Y: b.HalfAxes[1].Norm(), Z: b.HalfAxes[2].Norm()}
}

func (b Box) Diagonal() float64 {
	return 2 * b.HalfExtents().Norm()
}
