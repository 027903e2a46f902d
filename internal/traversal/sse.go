package traversal

import (
	"math"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	// closer than this to the bounds the camera counts as inside the tile
	distanceEpsilon = 1e-6

	// orthographic error is floored so tiles never claim zero error
	minOrthographicError = 1e-3
	// exponent applied to the footprint ratio, below 1 to soften zoom transitions
	footprintExponent = 0.5
)

// view is the per tick camera state the error metric needs.
type view struct {
	camera   Camera
	frustum  geometry.Frustum
	viewMat  mgl64.Mat4
	height   float64
	viewport orb.Bound
}

func newView(c Camera, maxScreenHeight float64) view {
	height := c.ViewportHeight
	if maxScreenHeight > 0 && height > maxScreenHeight {
		height = maxScreenHeight
	}
	v := view{
		camera:  c,
		frustum: c.Frustum(),
		viewMat: c.ViewMatrix(),
		height:  height,
	}
	if c.Projection == Orthographic {
		halfWidth := c.HalfHeight * c.aspect()
		v.viewport = orb.Bound{Min: orb.Point{-halfWidth, -c.HalfHeight}, Max: orb.Point{halfWidth, c.HalfHeight}}
	}
	return v
}

func (v view) visible(box geometry.Box) bool {
	return v.frustum.IntersectsBox(box)
}

// screenSpaceError projects the geometric error of a tile into pixels.
func (v view) screenSpaceError(geometricError float64, box geometry.Box) float64 {
	if v.camera.Projection == Orthographic {
		return v.orthographicError(geometricError, box)
	}
	return perspectiveError(geometricError, box.Distance(v.camera.Position), v.height)
}

// perspectiveError uses the distance to the closest point of the bounds, not to the center.
func perspectiveError(geometricError, distance, height float64) float64 {
	if distance < distanceEpsilon {
		return math.Inf(1)
	}
	return height * geometricError / distance
}

// orthographicError scales the error by how much of the view the tile footprint covers.
func (v view) orthographicError(geometricError float64, box geometry.Box) float64 {
	viewDiagonal := planar.Distance(v.viewport.Min, v.viewport.Max)
	if viewDiagonal == 0 {
		return minOrthographicError
	}

	footprint := v.footprint(box)
	if !footprint.Intersects(v.viewport) {
		return minOrthographicError
	}
	clipped := orb.Bound{
		Min: orb.Point{math.Max(footprint.Min[0], v.viewport.Min[0]), math.Max(footprint.Min[1], v.viewport.Min[1])},
		Max: orb.Point{math.Min(footprint.Max[0], v.viewport.Max[0]), math.Min(footprint.Max[1], v.viewport.Max[1])},
	}

	ratio := planar.Distance(clipped.Min, clipped.Max) / viewDiagonal
	ratio = math.Max(0, math.Min(1, ratio))
	sse := v.height * geometricError / viewDiagonal * math.Pow(ratio, footprintExponent)
	return math.Max(sse, minOrthographicError)
}

// footprint is the 2D bound of the box corners in view space.
func (v view) footprint(box geometry.Box) orb.Bound {
	corners := box.Corners()
	var bound orb.Bound
	for i, corner := range corners {
		p := v.viewMat.Mul4x1(vec3(corner).Vec4(1))
		point := orb.Point{p[0], p[1]}
		if i == 0 {
			bound = point.Bound()
			continue
		}
		bound = bound.Extend(point)
	}
	return bound
}
