package std_component_manager

import (
	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/ecopia-map/tiles_streamer/internal/content"
	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/ecopia-map/tiles_streamer/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/tiles_streamer/internal/converters/proj4_converter"
	"github.com/ecopia-map/tiles_streamer/internal/metrics"
	"github.com/ecopia-map/tiles_streamer/internal/source"
	"github.com/ecopia-map/tiles_streamer/pkg/component_manager"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

type StandardComponentManager struct {
	converter   converters.CoordinateConverter
	source      source.ByteSource
	cache       *source.CachedSource
	loader      content.Loader
	prioritiser content.Prioritiser
	metrics     *metrics.Metrics
}

// NewComponentManager wires the default collaborators: proj4 for region volumes, http and file
// sources behind gzip decoding, the optional sqlite cache and request dedupe.
func NewComponentManager(opts *config.StreamerOptions, registerer prometheus.Registerer) (component_manager.ComponentManager, error) {
	converter, err := proj4_converter.NewProj4CoordinateConverter()
	if err != nil {
		return nil, err
	}
	return NewComponentManagerWithConverter(opts, converter, registerer)
}

// NewComponentManagerWithConverter is NewComponentManager with a caller supplied converter.
func NewComponentManagerWithConverter(opts *config.StreamerOptions, converter converters.CoordinateConverter, registerer prometheus.Registerer) (component_manager.ComponentManager, error) {
	if opts.HeightOffset != 0 {
		converter = &converters.CorrectedConverter{
			Converter: converter,
			Corrector: offset_elevation_corrector.NewOffsetElevationCorrector(opts.HeightOffset),
		}
	}

	var src source.ByteSource = source.Gunzip{
		Source: source.NewRouter(source.NewHTTPSource(opts.RequestTimeout), source.NewFileSource(opts.Root)),
	}
	var cache *source.CachedSource
	if opts.CacheDatabase != "" {
		var err error
		cache, err = source.NewCachedSource(src, opts.CacheDatabase)
		if err != nil {
			converter.Cleanup()
			return nil, err
		}
		if n, err := cache.Len(); err == nil {
			glog.Infof("byte cache %s holds %d payloads", opts.CacheDatabase, n)
		}
		src = cache
	}
	src = source.NewDedup(src)

	var prioritiser content.Prioritiser
	if opts.UsePrioritiser {
		prioritiser = content.NewRatePrioritiser(opts.LoadsPerSecond, opts.MaxConcurrentLoads, opts.MaxConcurrentLoads)
	}

	return &StandardComponentManager{
		converter:   converter,
		source:      src,
		cache:       cache,
		loader:      content.NewRawLoader(src, opts.Headers()),
		prioritiser: prioritiser,
		metrics:     metrics.New(registerer),
	}, nil
}

func (m *StandardComponentManager) GetCoordinateConverter() converters.CoordinateConverter {
	return m.converter
}

func (m *StandardComponentManager) GetByteSource() source.ByteSource {
	return m.source
}

func (m *StandardComponentManager) GetContentLoader() content.Loader {
	return m.loader
}

func (m *StandardComponentManager) GetPrioritiser() content.Prioritiser {
	return m.prioritiser
}

func (m *StandardComponentManager) GetMetrics() *metrics.Metrics {
	return m.metrics
}

// Close releases the converter and the cache database.
func (m *StandardComponentManager) Close() error {
	m.converter.Cleanup()
	if m.cache != nil {
		return m.cache.Close()
	}
	return nil
}
