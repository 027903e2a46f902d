package converters

import "github.com/golang/geo/r3"

// ElevationCorrector adjusts region heights before they are converted, e.g. to move a dataset
// authored against the geoid onto the ellipsoid.
type ElevationCorrector interface {
	CorrectElevation(lon, lat, z float64) float64
}

// CorrectedConverter applies an ElevationCorrector in front of another converter.
type CorrectedConverter struct {
	Converter CoordinateConverter
	Corrector ElevationCorrector
}

func (c *CorrectedConverter) ToCartesian(lon, lat, height float64) (r3.Vector, error) {
	if c.Corrector != nil {
		height = c.Corrector.CorrectElevation(lon, lat, height)
	}
	return c.Converter.ToCartesian(lon, lat, height)
}

func (c *CorrectedConverter) Cleanup() {
	c.Converter.Cleanup()
}
