package geometry

import (
	"errors"
	"math"

	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Region is a geodetic box: longitude and latitude bounds in radians and heights in meters.
type Region struct {
	West, South, East, North float64
	MinHeight, MaxHeight     float64
}

// number of samples per horizontal axis when enclosing a region in a cartesian box
const regionSamples = 3

// NewRegionFromArray builds a region from the 6 numbers of a 3D Tiles region.
func NewRegionFromArray(values []float64) (Region, error) {
	if len(values) != 6 {
		return Region{}, errors.New("region needs 6 values")
	}
	r := Region{
		West:      values[0],
		South:     values[1],
		East:      values[2],
		North:     values[3],
		MinHeight: values[4],
		MaxHeight: values[5],
	}
	if r.South > r.North || r.MinHeight > r.MaxHeight {
		return Region{}, errors.New("region bounds are inverted")
	}
	return r, nil
}

func (r Region) Kind() VolumeKind {
	return KindRegion
}

// width handles regions crossing the antimeridian, where east < west.
func (r Region) width() float64 {
	w := r.East - r.West
	if w < 0 {
		w += 2 * math.Pi
	}
	return w
}

// containsLongitude handles regions crossing the antimeridian.
func (r Region) containsLongitude(lon float64) bool {
	d := math.Mod(lon-r.West, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	return d <= r.width()+1e-12
}

// longitudes returns the grid samples plus the axis extremal meridians inside the region.
func (r Region) longitudes() []float64 {
	width := r.width()
	lons := make([]float64, 0, regionSamples+4)
	for i := 0; i < regionSamples; i++ {
		lons = append(lons, r.West+width*float64(i)/float64(regionSamples-1))
	}
	for _, lon := range [4]float64{0, math.Pi / 2, math.Pi, -math.Pi / 2} {
		if r.containsLongitude(lon) {
			lons = append(lons, lon)
		}
	}
	return lons
}

// latitudes returns the grid samples plus the equator and poles inside the region.
func (r Region) latitudes() []float64 {
	lats := make([]float64, 0, regionSamples+3)
	for j := 0; j < regionSamples; j++ {
		lats = append(lats, r.South+(r.North-r.South)*float64(j)/float64(regionSamples-1))
	}
	for _, lat := range [3]float64{0, math.Pi / 2, -math.Pi / 2} {
		if lat >= r.South && lat <= r.North {
			lats = append(lats, lat)
		}
	}
	return lats
}

// Cartesian samples the region surface and encloses the samples in an axis aligned box.
// The samples include every meridian and parallel where a cartesian axis peaks, so wide
// regions keep their full extent. Regions are not affected by tile transforms.
func (r Region) Cartesian(_ mgl64.Mat4, converter converters.CoordinateConverter) (Box, error) {
	if converter == nil {
		return Box{}, errors.New("region volumes need a coordinate converter")
	}

	lons, lats := r.longitudes(), r.latitudes()
	points := make([]r3.Vector, 0, len(lons)*len(lats)*2)
	for _, lon := range lons {
		for _, lat := range lats {
			for _, h := range [2]float64{r.MinHeight, r.MaxHeight} {
				p, err := converter.ToCartesian(lon, lat, h)
				if err != nil {
					return Box{}, err
				}
				points = append(points, p)
			}
		}
	}
	return NewBoxFromPoints(points), nil
}

func (r Region) Subdivide(index int, octree bool) BoundingVolume {
	halfWidth := r.width() / 2
	halfHeight := (r.North - r.South) / 2

	child := r
	if index&1 != 0 {
		child.West = r.West + halfWidth
	} else {
		child.East = r.West + halfWidth
	}
	if child.East > math.Pi {
		child.East -= 2 * math.Pi
	}
	if child.West > math.Pi {
		child.West -= 2 * math.Pi
	}

	if index&2 != 0 {
		child.South = r.South + halfHeight
	} else {
		child.North = r.South + halfHeight
	}

	if octree {
		midHeight := (r.MinHeight + r.MaxHeight) / 2
		if index&4 != 0 {
			child.MinHeight = midHeight
		} else {
			child.MaxHeight = midHeight
		}
	}
	return child
}
