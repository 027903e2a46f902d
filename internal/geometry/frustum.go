package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

type Classification int

const (
	Outside Classification = iota
	Intersecting
	Inside
)

func (c Classification) String() string {
	switch c {
	case Inside:
		return "inside"
	case Intersecting:
		return "intersecting"
	}
	return "outside"
}

// Plane keeps the points where Normal.Dot(p) + D >= 0.
type Plane struct {
	Normal r3.Vector
	D      float64
}

func (p Plane) SignedDistance(v r3.Vector) float64 {
	return p.Normal.Dot(v) + p.D
}

// Frustum is six inward facing planes: left, right, bottom, top, near, far.
type Frustum struct {
	Planes [6]Plane
}

// NewFrustumFromMatrix extracts the planes of a combined projection * view matrix using
// OpenGL clip space conventions (-w <= x,y,z <= w).
func NewFrustumFromMatrix(viewProjection mgl64.Mat4) Frustum {
	r0 := viewProjection.Row(0)
	r1 := viewProjection.Row(1)
	r2 := viewProjection.Row(2)
	r3w := viewProjection.Row(3)

	rows := [6]mgl64.Vec4{
		r3w.Add(r0),
		r3w.Sub(r0),
		r3w.Add(r1),
		r3w.Sub(r1),
		r3w.Add(r2),
		r3w.Sub(r2),
	}

	var f Frustum
	for i, row := range rows {
		n := r3.Vector{X: row[0], Y: row[1], Z: row[2]}
		length := n.Norm()
		if length == 0 {
			// degenerate plane keeps everything
			f.Planes[i] = Plane{D: math.Inf(1)}
			continue
		}
		f.Planes[i] = Plane{Normal: n.Mul(1 / length), D: row[3] / length}
	}
	return f
}

// ClassifyBox reports whether the box is fully outside, straddles a plane, or is fully inside.
func (f Frustum) ClassifyBox(b Box) Classification {
	result := Inside
	for _, plane := range f.Planes {
		radius := math.Abs(plane.Normal.Dot(b.HalfAxes[0])) +
			math.Abs(plane.Normal.Dot(b.HalfAxes[1])) +
			math.Abs(plane.Normal.Dot(b.HalfAxes[2]))
		s := plane.SignedDistance(b.Center)
		if s < -radius {
			return Outside
		}
		if s < radius {
			result = Intersecting
		}
	}
	return result
}

func (f Frustum) IntersectsBox(b Box) bool {
	return f.ClassifyBox(b) != Outside
}
