// Package metrics exposes streaming counters to prometheus. A nil *Metrics is valid and records
// nothing, so components never check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// contentLoaded counts payloads installed on tiles
	contentLoaded prometheus.Counter
	// contentFailures counts failed loads by error kind (fetch, parse)
	contentFailures *prometheus.CounterVec
	contentDisposed prometheus.Counter
	// loadsCancelled counts in flight loads whose result was discarded
	loadsCancelled prometheus.Counter
	loadsInFlight  prometheus.Gauge
	visibleTiles   prometheus.Gauge
	// resolutions counts subtree and nested tileset resolutions by result
	resolutions   *prometheus.CounterVec
	frameDuration prometheus.Histogram
}

// New registers the collectors on registerer, the default registry when nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		contentLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiles_streamer_content_loaded_total",
			Help: "Tile payloads loaded and attached",
		}),
		contentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiles_streamer_content_failures_total",
			Help: "Tile payload loads that failed, by error kind",
		}, []string{"kind"}),
		contentDisposed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiles_streamer_content_disposed_total",
			Help: "Tile payloads disposed",
		}),
		loadsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiles_streamer_loads_cancelled_total",
			Help: "In flight loads cancelled before they completed",
		}),
		loadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tiles_streamer_loads_in_flight",
			Help: "Tile payload loads currently in flight",
		}),
		visibleTiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tiles_streamer_visible_tiles",
			Help: "Tiles in the visible set after the last frame",
		}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiles_streamer_resolutions_total",
			Help: "Subtree and nested tileset resolutions, by result",
		}, []string{"result"}),
		frameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiles_streamer_frame_duration_seconds",
			Help:    "Traversal tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}),
	}
}

func (m *Metrics) ContentLoaded() {
	if m == nil {
		return
	}
	m.contentLoaded.Inc()
}

func (m *Metrics) ContentFailed(kind string) {
	if m == nil {
		return
	}
	m.contentFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ContentDisposed() {
	if m == nil {
		return
	}
	m.contentDisposed.Inc()
}

func (m *Metrics) LoadCancelled() {
	if m == nil {
		return
	}
	m.loadsCancelled.Inc()
}

func (m *Metrics) SetLoadsInFlight(n int) {
	if m == nil {
		return
	}
	m.loadsInFlight.Set(float64(n))
}

func (m *Metrics) SetVisible(n int) {
	if m == nil {
		return
	}
	m.visibleTiles.Set(float64(n))
}

// Resolution records a finished resolution, result is ok, failed or malformed.
func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.frameDuration.Observe(d.Seconds())
}
