package pkg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/ecopia-map/tiles_streamer/internal/content"
	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/ecopia-map/tiles_streamer/internal/implicit"
	"github.com/ecopia-map/tiles_streamer/internal/io"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/ecopia-map/tiles_streamer/internal/traversal"
	"github.com/ecopia-map/tiles_streamer/pkg/component_manager"
	"github.com/golang/glog"
)

// ErrClosed is returned by Tick after Close.
var ErrClosed = errors.New("streamer closed")

const eventBuffer = 256

type EventKind string

const (
	EventContentLoaded        EventKind = "content_loaded"
	EventContentUnloaded      EventKind = "content_unloaded"
	EventContentFailed        EventKind = "content_failed"
	EventStructureFailed      EventKind = "structure_failed"
	EventUnsupportedExtension EventKind = "unsupported_extensions"
)

// Event is a notification for downstream consumers such as a renderer.
type Event struct {
	Kind     EventKind `json:"kind"`
	Frame    uint64    `json:"frame"`
	TileID   int       `json:"tile_id,omitempty"`
	URI      string    `json:"uri,omitempty"`
	Error    string    `json:"error,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
	// Content is the payload of a loaded tile. It stays valid until the unloaded event of the
	// same tile.
	Content tileset.Content `json:"-"`
}

// TileStatus is a copy of the state of one selected tile, safe to read from any goroutine.
type TileStatus struct {
	ID               int     `json:"id"`
	Depth            int     `json:"depth"`
	URI              string  `json:"uri,omitempty"`
	State            string  `json:"state"`
	GeometricError   float64 `json:"geometric_error"`
	ScreenSpaceError float64 `json:"screen_space_error"`
	Rendered         bool    `json:"rendered"`
}

// Streamer drives the level of detail traversal of one tileset. Tick and Close must be called
// from a single goroutine; Stats, Tiles and Events may be used from any goroutine.
type Streamer struct {
	components component_manager.ComponentManager
	tileset    *tileset.Tileset
	pool       *io.Pool
	resolver   *implicit.Resolver
	lifecycle  *content.Lifecycle
	traverser  *traversal.Traverser

	events  chan Event
	dropped int
	closed  bool

	mu    sync.RWMutex
	stats traversal.FrameStats
	tiles []TileStatus
}

// Open fetches and parses the root tileset. This is the only failure the streamer reports as an
// error; everything after it is surfaced through events and retried. The streamer owns components
// once Open succeeds, on error closing them is left to the caller.
func Open(ctx context.Context, opts *config.StreamerOptions, components component_manager.ComponentManager) (*Streamer, error) {
	unit, err := units.ParseUnit(string(opts.GeometricErrorUnits))
	if err != nil {
		return nil, err
	}
	policy, err := traversal.ParseRedundancyPolicy(opts.Redundancy)
	if err != nil {
		return nil, err
	}

	fetchCtx := ctx
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}
	data, err := components.GetByteSource().FetchBytes(fetchCtx, opts.Input, opts.Headers())
	if err != nil {
		var fetchErr *tileset.FetchError
		if !errors.As(err, &fetchErr) {
			err = &tileset.FetchError{URI: opts.Input, Err: err}
		}
		return nil, err
	}

	loader := tileset.NewLoader(components.GetCoordinateConverter(), unit)
	ts, err := loader.Load(data, opts.Input)
	if err != nil {
		return nil, err
	}
	glog.Infof("opened tileset %s (%s, version %s, %d tiles)", ts.URI, ts.Tiling, ts.Version, ts.Count())

	s := &Streamer{
		components: components,
		tileset:    ts,
		pool:       io.NewPool(ctx, opts.Workers),
		events:     make(chan Event, eventBuffer),
	}
	m := components.GetMetrics()

	s.resolver = implicit.NewResolver(components.GetByteSource(), loader, s.pool, implicit.Options{
		MaxConcurrent: opts.MaxConcurrentResolutions,
		MaxRetries:    opts.MaxRetries,
		Headers:       opts.Headers(),
	}, m)
	s.resolver.OnFailure = func(t *tileset.Tile, err error) {
		s.emit(Event{Kind: EventStructureFailed, TileID: t.ID, URI: structureURI(t), Error: err.Error()})
	}
	s.resolver.OnWarnings = func(uri string, warnings []tileset.Warning) {
		s.emit(Event{Kind: EventUnsupportedExtension, URI: uri, Warnings: warningStrings(warnings)})
	}

	s.lifecycle = content.NewLifecycle(components.GetContentLoader(), s.pool, content.RetryPolicy{MaxRetries: opts.MaxRetries}, content.Hooks{
		OnLoaded: func(t *tileset.Tile, c tileset.Content) {
			s.emit(Event{Kind: EventContentLoaded, TileID: t.ID, URI: t.Content.URI, Content: c})
		},
		OnUnloaded: func(t *tileset.Tile) {
			s.emit(Event{Kind: EventContentUnloaded, TileID: t.ID, URI: t.Content.URI})
		},
		OnFailed: func(t *tileset.Tile, err error) {
			s.emit(Event{Kind: EventContentFailed, TileID: t.ID, URI: t.Content.URI, Error: err.Error()})
		},
	}, m)

	s.traverser = traversal.NewTraverser(ts, s.resolver, s.lifecycle, components.GetPrioritiser(), traversal.Options{
		MaxScreenSpaceError: opts.MaxScreenSpaceError,
		MaxScreenHeight:     opts.MaxScreenHeight,
		Redundancy:          policy,
	}, m)

	if len(ts.Warnings) > 0 {
		s.emit(Event{Kind: EventUnsupportedExtension, URI: ts.URI, Warnings: warningStrings(ts.Warnings)})
	}
	return s, nil
}

func (s *Streamer) Tileset() *tileset.Tileset {
	return s.tileset
}

// RootBox is the world box of the root tile of the tileset JSON.
func (s *Streamer) RootBox() geometry.Box {
	return s.tileset.Root().Children()[0].BoundingBox()
}

// Events delivers notifications in order. The channel is buffered and lossy: when the consumer
// falls behind, new events are dropped and counted. It is closed by Close.
func (s *Streamer) Events() <-chan Event {
	return s.events
}

// Tick runs one frame of the traversal for camera.
func (s *Streamer) Tick(camera traversal.Camera) (traversal.FrameStats, error) {
	if s.closed {
		return traversal.FrameStats{}, ErrClosed
	}
	if err := camera.Validate(); err != nil {
		return traversal.FrameStats{}, err
	}
	s.logPoolErrors()

	stats := s.traverser.Tick(camera)
	s.publish(stats)
	return stats, nil
}

func (s *Streamer) publish(stats traversal.FrameStats) {
	visible := s.traverser.Visible()
	tiles := make([]TileStatus, 0, visible.Len())
	for _, t := range visible.Tiles() {
		status := TileStatus{
			ID:               t.ID,
			Depth:            t.Depth,
			State:            t.ContentState().String(),
			GeometricError:   t.GeometricError,
			ScreenSpaceError: t.ScreenSpaceError,
			Rendered:         t.ContentState() == tileset.Loaded,
		}
		if t.Content != nil {
			status.URI = t.Content.URI
		}
		tiles = append(tiles, status)
	}

	s.mu.Lock()
	s.stats = stats
	s.tiles = tiles
	s.mu.Unlock()
}

// Stats returns the statistics of the last frame.
func (s *Streamer) Stats() traversal.FrameStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Tiles returns the visible set of the last frame, ordered by tile id.
func (s *Streamer) Tiles() []TileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TileStatus(nil), s.tiles...)
}

func (s *Streamer) logPoolErrors() {
	for {
		select {
		case err := <-s.pool.Errors():
			glog.Warningf("work unit failed: %v", err)
		default:
			return
		}
	}
}

func (s *Streamer) emit(e Event) {
	e.Frame = s.traverser.Frame()
	select {
	case s.events <- e:
	default:
		s.dropped++
		glog.V(2).Infof("event buffer full, dropped %s for tile %d (%d dropped)", e.Kind, e.TileID, s.dropped)
	}
}

// Close cancels every in flight request, disposes every loaded payload and releases the
// collaborators. Results arriving after the workers stop are released as well.
func (s *Streamer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	start := time.Now()

	s.traverser.Dispose()
	s.lifecycle.DisposeAll()
	s.pool.Close()
	s.lifecycle.Drain(s.traverser.Frame() + 1)

	err := s.components.Close()
	close(s.events)
	glog.V(1).Infof("streamer closed in %s", time.Since(start))
	return err
}

func structureURI(t *tileset.Tile) string {
	if t.Subtree != nil {
		return t.Subtree.URI
	}
	if t.Content != nil {
		return t.Content.URI
	}
	return ""
}

func warningStrings(warnings []tileset.Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.String())
	}
	return out
}
