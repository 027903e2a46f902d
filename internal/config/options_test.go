package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamer.yaml")
	doc := `
input: https://example.com/tileset.json
max_screen_space_error: 8
redundancy: eager
request_timeout: 5s
request_headers:
  Authorization: Bearer abc
geometric_error_units: feet
serve:
  address: ":9090"
  frame_rate: 30
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	opts := Default()
	if err := LoadFile(path, opts); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if opts.Input != "https://example.com/tileset.json" || opts.MaxScreenSpaceError != 8 || opts.Redundancy != "eager" {
		t.Errorf("file values not applied: %+v", opts)
	}
	if opts.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", opts.RequestTimeout)
	}
	if got := opts.Headers().Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization header = %q", got)
	}
	// untouched keys keep their defaults
	if opts.MaxConcurrentResolutions != 1 || opts.MaxScreenHeight != 1080 {
		t.Errorf("defaults lost: %+v", opts)
	}
	if opts.ServeOptions == nil || opts.ServeOptions.Address != ":9090" {
		t.Errorf("ServeOptions = %+v", opts.ServeOptions)
	}
	if msg, ok := opts.Validate(); !ok {
		t.Errorf("Validate() = %q", msg)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	if err := LoadFile(filepath.Join(dir, "missing.yaml"), Default()); err == nil {
		t.Errorf("LoadFile() of a missing file succeeded")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("max_screen_space_error: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(bad, Default()); err == nil {
		t.Errorf("LoadFile() of invalid yaml succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(o *StreamerOptions){
		"no input":          func(o *StreamerOptions) { o.Input = " " },
		"zero budget":       func(o *StreamerOptions) { o.MaxScreenSpaceError = 0 },
		"negative height":   func(o *StreamerOptions) { o.MaxScreenHeight = -1 },
		"unknown policy":    func(o *StreamerOptions) { o.Redundancy = "lazy" },
		"no resolutions":    func(o *StreamerOptions) { o.MaxConcurrentResolutions = 0 },
		"negative workers":  func(o *StreamerOptions) { o.Workers = -2 },
		"unknown units":     func(o *StreamerOptions) { o.GeometricErrorUnits = units.Unit("furlongs") },
		"no frames":         func(o *StreamerOptions) { o.StreamOptions = &StreamOptions{} },
		"serve without fps": func(o *StreamerOptions) { o.ServeOptions = &ServeOptions{} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := Default()
			opts.Input = "tileset.json"
			mutate(opts)
			if msg, ok := opts.Validate(); ok || msg == "" {
				t.Errorf("Validate() = (%q, %v), want a failure", msg, ok)
			}
		})
	}
}

func TestCopyIsDeep(t *testing.T) {
	opts := Default()
	opts.RequestHeaders = map[string]string{"a": "1"}
	opts.StreamOptions = &StreamOptions{Frames: 10}

	c := opts.Copy()
	c.RequestHeaders["a"] = "2"
	c.StreamOptions.Frames = 20

	if opts.RequestHeaders["a"] != "1" || opts.StreamOptions.Frames != 10 {
		t.Errorf("Copy() shares state with the original")
	}
}
