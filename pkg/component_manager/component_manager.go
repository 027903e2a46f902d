package component_manager

import (
	"github.com/ecopia-map/tiles_streamer/internal/content"
	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/ecopia-map/tiles_streamer/internal/metrics"
	"github.com/ecopia-map/tiles_streamer/internal/source"
)

// ComponentManager hands the streamer its external collaborators.
type ComponentManager interface {
	GetCoordinateConverter() converters.CoordinateConverter
	GetByteSource() source.ByteSource
	GetContentLoader() content.Loader
	// GetPrioritiser returns nil when loads go straight to the content lifecycle.
	GetPrioritiser() content.Prioritiser
	GetMetrics() *metrics.Metrics
	Close() error
}
