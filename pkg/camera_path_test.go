package pkg

import (
	"math"
	"testing"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/ecopia-map/tiles_streamer/tools"
	"github.com/golang/geo/r3"
)

func TestFlyIn(t *testing.T) {
	box := geometry.NewAxisAlignedBox(r3.Vector{X: 10, Y: 20}, r3.Vector{X: 100, Y: 100, Z: 10})
	end := box.Diagonal() / 20
	offAxis := math.Sqrt(1.04)

	tests := map[string]struct {
		frame int
		want  float64
	}{
		"first frame": {frame: 0, want: 1000 * offAxis},
		"last frame":  {frame: 9, want: end * offAxis},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			camera := FlyIn(box, 1000, test.frame, 10)
			if err := camera.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if got := camera.Position.Distance(box.Center); !tools.IsFloatEqual(got, test.want) {
				t.Errorf("distance = %v, want %v", got, test.want)
			}
			toCenter := box.Center.Sub(camera.Position).Normalize()
			if got := camera.Direction.Dot(toCenter); !tools.IsFloatEqual(got, 1) {
				t.Errorf("camera does not face the box center, dot = %v", got)
			}
		})
	}
}

func TestFlyInApproachesMonotonically(t *testing.T) {
	box := geometry.NewAxisAlignedBox(r3.Vector{}, r3.Vector{X: 50, Y: 50, Z: 50})
	previous := math.Inf(1)
	for i := 0; i < 30; i++ {
		d := FlyIn(box, 0, i, 30).Position.Norm()
		if d >= previous {
			t.Fatalf("frame %d distance %v, previous %v", i, d, previous)
		}
		previous = d
	}
}

func TestOrbitGeocentric(t *testing.T) {
	center := r3.Vector{X: 6378137}
	box := geometry.NewAxisAlignedBox(center, r3.Vector{X: 100, Y: 100, Z: 100})

	for _, angle := range []float64{0, math.Pi / 2, 3} {
		camera := Orbit(box, 1000, angle)
		if err := camera.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		offset := camera.Position.Sub(center)
		// up is the x axis for a center on it
		if !tools.IsFloatEqual(offset.X, 500) {
			t.Errorf("Orbit(%v) height = %v, want 500", angle, offset.X)
		}
		if got := math.Hypot(offset.Y, offset.Z); !tools.IsFloatEqual(got, 1000) {
			t.Errorf("Orbit(%v) radius = %v, want 1000", angle, got)
		}
		if !tools.IsFloatEqual(camera.Up.X, 1) {
			t.Errorf("Orbit(%v) up = %v", angle, camera.Up)
		}
	}
}
