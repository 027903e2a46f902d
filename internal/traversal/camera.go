// Package traversal runs the per frame level of detail walk: which tiles are visible, which
// need more detail, and which payloads can be released.
package traversal

import (
	"errors"
	"math"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

type Projection int

const (
	Perspective Projection = iota
	Orthographic
)

func (p Projection) String() string {
	if p == Orthographic {
		return "orthographic"
	}
	return "perspective"
}

// Camera is polled once per tick.
type Camera struct {
	Position  r3.Vector
	Direction r3.Vector
	Up        r3.Vector

	Projection Projection
	// FieldOfView is the vertical field of view in radians, perspective only.
	FieldOfView float64
	// HalfHeight is half the height of the view volume in world units, orthographic only.
	HalfHeight float64

	ViewportWidth  float64
	ViewportHeight float64
	Near           float64
	Far            float64
}

// LookAt returns a perspective camera at eye facing target, with z up.
func LookAt(eye, target r3.Vector, fieldOfView, width, height float64) Camera {
	return Camera{
		Position:       eye,
		Direction:      target.Sub(eye).Normalize(),
		Up:             r3.Vector{Z: 1},
		Projection:     Perspective,
		FieldOfView:    fieldOfView,
		ViewportWidth:  width,
		ViewportHeight: height,
		Near:           1,
		Far:            1e8,
	}
}

func (c Camera) Validate() error {
	switch {
	case c.Direction.Norm() == 0:
		return errors.New("camera direction is zero")
	case c.ViewportWidth <= 0 || c.ViewportHeight <= 0:
		return errors.New("viewport must have a positive size")
	case c.Near <= 0 || c.Far <= c.Near:
		return errors.New("near and far planes must satisfy 0 < near < far")
	case c.Projection == Perspective && (c.FieldOfView <= 0 || c.FieldOfView >= math.Pi):
		return errors.New("field of view must be in (0, pi)")
	case c.Projection == Orthographic && c.HalfHeight <= 0:
		return errors.New("orthographic half height must be positive")
	}
	return nil
}

func (c Camera) aspect() float64 {
	return c.ViewportWidth / c.ViewportHeight
}

func (c Camera) up() r3.Vector {
	up := c.Up
	if up.Norm() == 0 || up.Cross(c.Direction).Norm() < 1e-9 {
		// looking straight along up, pick any perpendicular
		up = c.Direction.Ortho()
	}
	return up
}

func (c Camera) ViewMatrix() mgl64.Mat4 {
	eye := vec3(c.Position)
	return mgl64.LookAtV(eye, eye.Add(vec3(c.Direction)), vec3(c.up()))
}

func (c Camera) ProjectionMatrix() mgl64.Mat4 {
	if c.Projection == Orthographic {
		halfWidth := c.HalfHeight * c.aspect()
		return mgl64.Ortho(-halfWidth, halfWidth, -c.HalfHeight, c.HalfHeight, c.Near, c.Far)
	}
	return mgl64.Perspective(c.FieldOfView, c.aspect(), c.Near, c.Far)
}

func (c Camera) Frustum() geometry.Frustum {
	return geometry.NewFrustumFromMatrix(c.ProjectionMatrix().Mul4(c.ViewMatrix()))
}

func vec3(v r3.Vector) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}
