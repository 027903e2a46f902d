package proj4_converter

import (
	"fmt"
	"sync"

	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/golang/geo/r3"
	proj "github.com/xeonx/proj4"
)

const (
	wgs84Geographic = "+proj=longlat +datum=WGS84 +no_defs"
	wgs84Geocentric = "+proj=geocent +datum=WGS84 +units=m +no_defs"
)

// proj4CoordinateConverter converts WGS84 longitude/latitude/height into earth-centered
// earth-fixed coordinates, the frame 3D Tiles boxes and regions share.
type proj4CoordinateConverter struct {
	source *proj.Proj
	target *proj.Proj
	sync.Mutex
}

func NewProj4CoordinateConverter() (converters.CoordinateConverter, error) {
	src, err := proj.InitPlus(wgs84Geographic)
	if err != nil {
		return nil, fmt.Errorf("init source projection: %w", err)
	}
	dst, err := proj.InitPlus(wgs84Geocentric)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("init target projection: %w", err)
	}
	return &proj4CoordinateConverter{
		source: src,
		target: dst,
	}, nil
}

// ToCartesian expects radians, which is what proj4 wants for latlong sources.
func (cc *proj4CoordinateConverter) ToCartesian(lon, lat, height float64) (r3.Vector, error) {
	x, y, z := []float64{lon}, []float64{lat}, []float64{height}

	// proj handles are not safe for concurrent use
	cc.Lock()
	err := proj.TransformRaw(cc.source, cc.target, x, y, z)
	cc.Unlock()

	if err != nil {
		return r3.Vector{}, fmt.Errorf("transform lon=%f lat=%f h=%f: %w", lon, lat, height, err)
	}
	return r3.Vector{X: x[0], Y: y[0], Z: z[0]}, nil
}

func (cc *proj4CoordinateConverter) Cleanup() {
	cc.Lock()
	defer cc.Unlock()
	if cc.source != nil {
		cc.source.Close()
		cc.source = nil
	}
	if cc.target != nil {
		cc.target.Close()
		cc.target = nil
	}
}
