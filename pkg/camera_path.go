package pkg

import (
	"math"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/ecopia-map/tiles_streamer/internal/traversal"
	"github.com/golang/geo/r3"
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080
	fieldOfView    = math.Pi / 3

	// centers farther than this from the origin are taken as earth centered
	geocentricRadius = 1e6
)

// pathFrame is a local tangent frame at the root tile. Up points away from the earth for
// geocentric data and along z otherwise.
type pathFrame struct {
	center   r3.Vector
	up       r3.Vector
	east     r3.Vector
	north    r3.Vector
	diagonal float64
}

func newPathFrame(box geometry.Box) pathFrame {
	up := r3.Vector{Z: 1}
	if box.Center.Norm() > geocentricRadius {
		up = box.Center.Normalize()
	}
	east := r3.Vector{Z: 1}.Cross(up)
	if east.Norm() < 1e-9 {
		east = r3.Vector{X: 1}
	} else {
		east = east.Normalize()
	}
	diagonal := box.Diagonal()
	if diagonal <= 0 {
		diagonal = 1
	}
	return pathFrame{
		center:   box.Center,
		up:       up,
		east:     east,
		north:    up.Cross(east),
		diagonal: diagonal,
	}
}

func (f pathFrame) lookAt(eye r3.Vector) traversal.Camera {
	camera := traversal.LookAt(eye, f.center, fieldOfView, viewportWidth, viewportHeight)
	camera.Up = f.up
	return camera
}

// FlyIn returns frame i of n of a camera descending on the center of box. The distance shrinks
// geometrically from start, ten diagonals when not positive, to a twentieth of the diagonal.
func FlyIn(box geometry.Box, start float64, i, n int) traversal.Camera {
	f := newPathFrame(box)
	if start <= 0 {
		start = 10 * f.diagonal
	}
	end := math.Min(math.Max(f.diagonal/20, 1), start)

	progress := 1.0
	if n > 1 {
		progress = float64(i) / float64(n-1)
	}
	distance := start * math.Pow(end/start, progress)

	// slightly off the vertical, looking straight down makes the up vector degenerate
	eye := f.center.Add(f.up.Mul(distance)).Add(f.north.Mul(distance / 5))
	return f.lookAt(eye)
}

// Orbit returns a camera circling box at radius, two diagonals when not positive, seen from
// half the radius above it. angle is in radians.
func Orbit(box geometry.Box, radius, angle float64) traversal.Camera {
	f := newPathFrame(box)
	if radius <= 0 {
		radius = 2 * f.diagonal
	}
	horizontal := f.east.Mul(math.Cos(angle)).Add(f.north.Mul(math.Sin(angle)))
	eye := f.center.Add(horizontal.Mul(radius)).Add(f.up.Mul(radius / 2))
	return f.lookAt(eye)
}
