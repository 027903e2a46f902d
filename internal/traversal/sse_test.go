package traversal

import (
	"math"
	"testing"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

func unitBox() geometry.Box {
	return geometry.NewAxisAlignedBox(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})
}

func TestScreenSpaceErrorDecreasesWithDistance(t *testing.T) {
	box := unitBox()
	previous := math.Inf(1)
	for _, distance := range []float64{2, 5, 10, 50, 100, 1000, 1e5} {
		camera := LookAt(r3.Vector{Y: -distance}, r3.Vector{}, mgl64.DegToRad(60), 1920, 1080)
		sse := newView(camera, 0).screenSpaceError(10, box)
		if sse > previous {
			t.Errorf("sse at distance %v = %v, larger than %v closer in", distance, sse, previous)
		}
		previous = sse
	}
}

func TestPerspectiveError(t *testing.T) {
	type tc struct {
		camera r3.Vector
		height float64
		clamp  float64
		want   float64
	}
	tests := map[string]tc{
		// closest point is the face at y = -1, 9 units away
		"closest point":    {camera: r3.Vector{Y: -10}, height: 900, want: 1000},
		"inside the tile":  {camera: r3.Vector{X: 0.5}, height: 900, want: math.Inf(1)},
		"height clamped":   {camera: r3.Vector{Y: -10}, height: 2160, clamp: 900, want: 1000},
		"clamp not needed": {camera: r3.Vector{Y: -10}, height: 450, clamp: 900, want: 500},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			camera := Camera{
				Position: test.camera, Direction: r3.Vector{Y: 1}, Up: r3.Vector{Z: 1},
				FieldOfView: mgl64.DegToRad(60), ViewportWidth: 1000, ViewportHeight: test.height, Near: 0.1, Far: 1000,
			}
			got := newView(camera, test.clamp).screenSpaceError(10, unitBox())
			if math.Abs(got-test.want) > 1e-9 && !(math.IsInf(got, 1) && math.IsInf(test.want, 1)) {
				t.Errorf("screenSpaceError() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestOrthographicError(t *testing.T) {
	camera := Camera{
		Position: r3.Vector{Y: -100}, Direction: r3.Vector{Y: 1}, Up: r3.Vector{Z: 1},
		Projection: Orthographic, HalfHeight: 10, ViewportWidth: 100, ViewportHeight: 100, Near: 1, Far: 1000,
	}
	near := newView(camera, 0).screenSpaceError(10, unitBox())

	camera.Position = r3.Vector{Y: -900}
	far := newView(camera, 0).screenSpaceError(10, unitBox())
	if math.Abs(near-far) > 1e-9 {
		t.Errorf("orthographic error depends on distance: %v vs %v", near, far)
	}

	// zooming in shows the tile larger
	camera.HalfHeight = 2
	zoomed := newView(camera, 0).screenSpaceError(10, unitBox())
	if zoomed <= near {
		t.Errorf("zoomed in error %v not above %v", zoomed, near)
	}

	// a tile beside the view still claims a small positive error
	aside := geometry.NewAxisAlignedBox(r3.Vector{X: 500}, r3.Vector{X: 1, Y: 1, Z: 1})
	if got := newView(camera, 0).screenSpaceError(10, aside); got != minOrthographicError {
		t.Errorf("error outside the view = %v, want %v", got, minOrthographicError)
	}
	if got := newView(camera, 0).screenSpaceError(0, unitBox()); got != minOrthographicError {
		t.Errorf("zero geometric error = %v, want the floor %v", got, minOrthographicError)
	}
}

func TestCameraValidate(t *testing.T) {
	valid := LookAt(r3.Vector{Y: -10}, r3.Vector{}, 1, 100, 100)
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := map[string]func(c *Camera){
		"zero direction": func(c *Camera) { c.Direction = r3.Vector{} },
		"empty viewport": func(c *Camera) { c.ViewportHeight = 0 },
		"near past far":  func(c *Camera) { c.Near = c.Far + 1 },
		"fov too wide":   func(c *Camera) { c.FieldOfView = 4 },
		"ortho no size":  func(c *Camera) { c.Projection = Orthographic },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("Validate() = nil, want an error")
			}
		})
	}
}
