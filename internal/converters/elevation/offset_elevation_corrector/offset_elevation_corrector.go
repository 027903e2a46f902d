package offset_elevation_corrector

import "github.com/ecopia-map/tiles_streamer/internal/converters"

// OffsetElevationCorrector shifts every height by a constant number of meters.
type OffsetElevationCorrector struct {
	Offset float64
}

func NewOffsetElevationCorrector(offset float64) converters.ElevationCorrector {
	return &OffsetElevationCorrector{
		Offset: offset,
	}
}

func (c *OffsetElevationCorrector) CorrectElevation(lon, lat, z float64) float64 {
	return z + c.Offset
}
