package geometry

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

func vecNear(a, b r3.Vector) bool {
	return a.Sub(b).Norm() < 1e-9
}

func unitBox() Box {
	return NewAxisAlignedBox(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})
}

func TestBox_Distance(t *testing.T) {
	type tc struct {
		point r3.Vector
		want  float64
	}

	tests := map[string]tc{
		"inside is zero":  {point: r3.Vector{X: 0.5}, want: 0},
		"on face":         {point: r3.Vector{Y: 1}, want: 0},
		"beyond x face":   {point: r3.Vector{X: 4}, want: 3},
		"beyond an edge":  {point: r3.Vector{X: 4, Y: 5}, want: 5},
		"beyond a corner": {point: r3.Vector{X: 2, Y: 2, Z: 2}, want: math.Sqrt(3)},
		"negative side":   {point: r3.Vector{Z: -11}, want: 10},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := unitBox().Distance(tt.point)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance(%v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestBox_ClosestPointRotated(t *testing.T) {
	// a box rotated 45 degrees around z
	s := math.Sqrt2 / 2
	b := Box{
		HalfAxes: [3]r3.Vector{{X: s, Y: s}, {X: -s, Y: s}, {Z: 1}},
	}
	got := b.ClosestPoint(r3.Vector{X: 10})
	// the nearest corner lies on the x axis at distance sqrt(2)
	if !vecNear(got, r3.Vector{X: math.Sqrt2}) {
		t.Errorf("ClosestPoint() = %v, want (sqrt2, 0, 0)", got)
	}
}

func TestBox_SubdivideQuadtree(t *testing.T) {
	b := NewAxisAlignedBox(r3.Vector{X: 10, Y: 10}, r3.Vector{X: 4, Y: 2, Z: 1})

	type tc struct {
		index  int
		center r3.Vector
	}

	tests := map[string]tc{
		"lower left":  {index: 0, center: r3.Vector{X: 8, Y: 9}},
		"lower right": {index: 1, center: r3.Vector{X: 12, Y: 9}},
		"upper left":  {index: 2, center: r3.Vector{X: 8, Y: 11}},
		"upper right": {index: 3, center: r3.Vector{X: 12, Y: 11}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			child := b.Subdivide(tt.index, false).(Box)
			if !vecNear(child.Center, tt.center) {
				t.Errorf("center = %v, want %v", child.Center, tt.center)
			}
			want := r3.Vector{X: 2, Y: 1, Z: 1}
			if !vecNear(child.HalfExtents(), want) {
				t.Errorf("half extents = %v, want %v", child.HalfExtents(), want)
			}
		})
	}
}

func TestBox_SubdivideOctreeHalvesHeight(t *testing.T) {
	b := unitBox()
	child := b.Subdivide(7, true).(Box)
	if !vecNear(child.Center, r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}) {
		t.Errorf("center = %v, want (0.5, 0.5, 0.5)", child.Center)
	}
	if !vecNear(child.HalfExtents(), r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}) {
		t.Errorf("half extents = %v, want 0.5 on every axis", child.HalfExtents())
	}
}

func TestBox_Transform(t *testing.T) {
	m := mgl64.Translate3D(100, 0, 0).Mul4(mgl64.Scale3D(2, 2, 2))
	got := unitBox().Transform(m)
	if !vecNear(got.Center, r3.Vector{X: 100}) {
		t.Errorf("center = %v, want (100, 0, 0)", got.Center)
	}
	if !vecNear(got.HalfExtents(), r3.Vector{X: 2, Y: 2, Z: 2}) {
		t.Errorf("half extents = %v, want 2 on every axis", got.HalfExtents())
	}
}

func TestNewBoxFromArray(t *testing.T) {
	if _, err := NewBoxFromArray([]float64{1, 2, 3}); err == nil {
		t.Error("NewBoxFromArray() with 3 values should fail")
	}
	b, err := NewBoxFromArray([]float64{1, 2, 3, 4, 0, 0, 0, 5, 0, 0, 0, 6})
	if err != nil {
		t.Fatalf("NewBoxFromArray() error = %v", err)
	}
	if !vecNear(b.HalfExtents(), r3.Vector{X: 4, Y: 5, Z: 6}) {
		t.Errorf("half extents = %v, want (4, 5, 6)", b.HalfExtents())
	}
}
