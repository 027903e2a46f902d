// Package config holds the options of the streamer and their file form.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
	"github.com/ecopia-map/tiles_streamer/internal/traversal"
	"gopkg.in/yaml.v3"
)

// Contains the options needed to open and stream a tileset
type StreamerOptions struct {
	Input                    string            `yaml:"input"`                      // tileset.json url or path
	MaxScreenSpaceError      float64           `yaml:"max_screen_space_error"`     // detail budget in pixels
	MaxScreenHeight          float64           `yaml:"max_screen_height"`          // clamp of the viewport height used for the error metric
	Redundancy               string            `yaml:"redundancy"`                 // covered or eager
	Workers                  int               `yaml:"workers"`                    // fetch workers, 0 uses the cpu count
	MaxConcurrentLoads       int               `yaml:"max_concurrent_loads"`       // prioritised loads in flight, 0 is unlimited
	LoadsPerSecond           float64           `yaml:"loads_per_second"`           // prioritiser rate, 0 is unlimited
	UsePrioritiser           bool              `yaml:"use_prioritiser"`            // route loads through the rate prioritiser
	MaxRetries               int               `yaml:"max_retries"`                // retries of failed loads, negative retries forever
	MaxConcurrentResolutions int64             `yaml:"max_concurrent_resolutions"` // subtree and nested tileset fetches in flight
	RequestTimeout           time.Duration     `yaml:"request_timeout"`
	RequestHeaders           map[string]string `yaml:"request_headers"` // passed with every request, e.g. authorization
	CacheDatabase            string            `yaml:"cache_database"`  // sqlite file caching fetched bytes, empty disables it
	Root                     string            `yaml:"root"`            // directory for relative file paths
	GeometricErrorUnits      units.Unit        `yaml:"geometric_error_units"`
	HeightOffset             float64           `yaml:"height_offset"` // meters added to region heights

	Command        string          `yaml:"-"`
	InspectOptions *InspectOptions `yaml:"inspect,omitempty"`
	StreamOptions  *StreamOptions  `yaml:"stream,omitempty"`
	ServeOptions   *ServeOptions   `yaml:"serve,omitempty"`
}

type InspectOptions struct {
	MaxDepth  int  `yaml:"max_depth"` // tree levels to print
	Recursive bool `yaml:"recursive"` // search subfolders of a local input folder
}

type StreamOptions struct {
	Frames     int           `yaml:"frames"`      // frames of the fly-in path
	FrameDelay time.Duration `yaml:"frame_delay"` // pause between frames
	Distance   float64       `yaml:"distance"`    // start distance from the root center
}

type ServeOptions struct {
	Address   string        `yaml:"address"`
	FrameRate float64       `yaml:"frame_rate"` // ticks per second
	Orbit     time.Duration `yaml:"orbit"`      // time for one camera orbit
	Distance  float64       `yaml:"distance"`
}

// Default returns the options used when neither flags nor file set a value.
func Default() *StreamerOptions {
	return &StreamerOptions{
		MaxScreenSpaceError:      16,
		MaxScreenHeight:          1080,
		Redundancy:               string(traversal.RedundancyCovered),
		MaxConcurrentLoads:       16,
		LoadsPerSecond:           0,
		MaxRetries:               2,
		MaxConcurrentResolutions: 1,
		RequestTimeout:           30 * time.Second,
		GeometricErrorUnits:      units.Meters,
	}
}

// LoadFile reads a yaml file on top of opts.
func LoadFile(path string, opts *StreamerOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Headers returns the request headers in http form.
func (opt *StreamerOptions) Headers() http.Header {
	headers := make(http.Header, len(opt.RequestHeaders))
	for key, value := range opt.RequestHeaders {
		headers.Set(key, value)
	}
	return headers
}

// Validate checks the values a run cannot start without.
func (opt *StreamerOptions) Validate() (string, bool) {
	if strings.TrimSpace(opt.Input) == "" {
		return "input tileset not specified", false
	}
	if opt.MaxScreenSpaceError <= 0 {
		return "max-sse must be positive", false
	}
	if opt.MaxScreenHeight < 0 {
		return "max-screen-height cannot be negative", false
	}
	if _, err := traversal.ParseRedundancyPolicy(opt.Redundancy); err != nil {
		return "redundancy should be either covered or eager", false
	}
	if opt.MaxConcurrentResolutions < 1 {
		return "max-resolutions must be at least 1", false
	}
	if opt.MaxConcurrentLoads < 0 || opt.Workers < 0 {
		return "workers and max-loads cannot be negative", false
	}
	if _, err := units.ParseUnit(string(opt.GeometricErrorUnits)); err != nil {
		return err.Error(), false
	}
	if opt.StreamOptions != nil && opt.StreamOptions.Frames <= 0 {
		return "frames must be positive", false
	}
	if opt.ServeOptions != nil && opt.ServeOptions.FrameRate <= 0 {
		return "frame-rate must be positive", false
	}
	return "", true
}

func (opt *StreamerOptions) Copy() *StreamerOptions {
	newOpt := *opt
	newOpt.RequestHeaders = make(map[string]string, len(opt.RequestHeaders))
	for key, value := range opt.RequestHeaders {
		newOpt.RequestHeaders[key] = value
	}

	if opt.InspectOptions != nil {
		inspectOpt := *opt.InspectOptions
		newOpt.InspectOptions = &inspectOpt
	}
	if opt.StreamOptions != nil {
		streamOpt := *opt.StreamOptions
		newOpt.StreamOptions = &streamOpt
	}
	if opt.ServeOptions != nil {
		serveOpt := *opt.ServeOptions
		newOpt.ServeOptions = &serveOpt
	}
	return &newOpt
}
