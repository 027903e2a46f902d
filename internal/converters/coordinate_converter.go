package converters

import "github.com/golang/geo/r3"

// CoordinateConverter turns geodetic positions into the cartesian frame tiles are rendered in.
// Longitude and latitude are in radians, height in meters above the ellipsoid.
type CoordinateConverter interface {
	ToCartesian(lon, lat, height float64) (r3.Vector, error)
	Cleanup()
}
