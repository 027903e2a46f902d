package content

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ecopia-map/tiles_streamer/internal/io"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// countingContent records how often it was disposed.
type countingContent struct {
	disposals int
}

func (c *countingContent) Dispose() {
	c.disposals++
}

// fakeLoader hands out countingContent and can fail a number of fetches per uri.
type fakeLoader struct {
	mu        sync.Mutex
	fetches   map[string]int
	failures  map[string]int
	parseErr  bool
	instances []*countingContent
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{fetches: map[string]int{}, failures: map[string]int{}}
}

func (l *fakeLoader) Fetch(ctx context.Context, uri string) (*RawPayload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetches[uri]++
	if l.failures[uri] > 0 {
		l.failures[uri]--
		return nil, &tileset.FetchError{URI: uri, Err: errors.New("timeout")}
	}
	return &RawPayload{URI: uri, Data: []byte("glTF")}, nil
}

func (l *fakeLoader) Instantiate(payload *RawPayload) (tileset.Content, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.parseErr {
		return nil, &tileset.ParseError{URI: payload.URI, Err: errors.New("bad magic")}
	}
	c := &countingContent{}
	l.instances = append(l.instances, c)
	return c, nil
}

type queueProducer struct {
	units []*io.WorkUnit
}

func (q *queueProducer) Submit(unit *io.WorkUnit) error {
	q.units = append(q.units, unit)
	return nil
}

func (q *queueProducer) runAll() {
	for _, unit := range q.units {
		_ = unit.Run(context.Background())
	}
	q.units = nil
}

type saturatedProducer struct{}

func (saturatedProducer) Submit(*io.WorkUnit) error {
	return io.ErrSaturated
}

func geometryTile(t *testing.T) *tileset.Tile {
	t.Helper()
	ts, err := tileset.NewLoader(nil, "").Load([]byte(`{"geometricError": 10, "root": {
		"boundingVolume": {"box": [0,0,0, 1,0,0, 0,1,0, 0,0,1]}, "geometricError": 10,
		"content": {"uri": "a.glb"}}}`), "https://h/tileset.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return ts.Root().Children()[0]
}

func TestLifecycleLoad(t *testing.T) {
	tile := geometryTile(t)
	loader := newFakeLoader()
	work := &queueProducer{}
	var loaded []tileset.Content
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{OnLoaded: func(_ *tileset.Tile, c tileset.Content) {
		loaded = append(loaded, c)
	}}, nil)

	if !l.Load(tile) {
		t.Fatalf("Load() = false, want true")
	}
	if tile.ContentState() != tileset.Loading {
		t.Fatalf("ContentState() = %v, want loading", tile.ContentState())
	}
	work.runAll()
	l.Drain(1)

	if tile.ContentState() != tileset.Loaded {
		t.Errorf("ContentState() = %v, want loaded", tile.ContentState())
	}
	if tile.LoadedContent() == nil || len(loaded) != 1 {
		t.Errorf("content not attached or OnLoaded not called (%d calls)", len(loaded))
	}
	if l.InFlight() != 0 || l.Loaded() != 1 {
		t.Errorf("InFlight() = %d, Loaded() = %d, want 0 and 1", l.InFlight(), l.Loaded())
	}
}

func TestLifecycleLoadIsIdempotent(t *testing.T) {
	tile := geometryTile(t)
	loader := newFakeLoader()
	work := &queueProducer{}
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{}, nil)

	l.Load(tile)
	if l.Load(tile) {
		t.Errorf("second Load() = true while the first is in flight")
	}
	work.runAll()
	l.Drain(1)
	if l.Load(tile) {
		t.Errorf("Load() = true for a loaded tile")
	}
	if got := loader.fetches["https://h/a.glb"]; got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestLifecycleDisposeWhileLoading(t *testing.T) {
	tile := geometryTile(t)
	loader := newFakeLoader()
	work := &queueProducer{}
	var states []tileset.ContentState
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{
		OnLoaded: func(t *tileset.Tile, _ tileset.Content) { states = append(states, t.ContentState()) },
	}, nil)

	l.Load(tile)
	l.Dispose(tile)
	if tile.ContentState() != tileset.CancelRequested {
		t.Fatalf("ContentState() = %v, want cancel-requested", tile.ContentState())
	}

	// the worker still completes the fetch after the cancellation
	work.runAll()
	l.Drain(1)

	if tile.ContentState() != tileset.NotLoading {
		t.Errorf("ContentState() = %v, want not-loading", tile.ContentState())
	}
	if len(states) != 0 {
		t.Errorf("tile passed through loaded: %v", states)
	}
	if tile.LoadedContent() != nil {
		t.Errorf("cancelled content was attached")
	}
	for i, c := range loader.instances {
		if c.disposals > 1 {
			t.Errorf("content %d disposed %d times", i, c.disposals)
		}
	}
	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", l.InFlight())
	}
}

func TestLifecycleCancelledResultIsReleased(t *testing.T) {
	tile := geometryTile(t)
	loader := newFakeLoader()
	work := &queueProducer{}
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{}, nil)

	l.Load(tile)
	// the fetch finishes and instantiates before the dispose arrives
	work.runAll()
	l.Dispose(tile)
	l.Drain(1)

	if len(loader.instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(loader.instances))
	}
	if got := loader.instances[0].disposals; got != 1 {
		t.Errorf("disposals = %d, want 1", got)
	}
	if tile.ContentState() != tileset.NotLoading {
		t.Errorf("ContentState() = %v, want not-loading", tile.ContentState())
	}
}

func TestLifecycleDisposeLoaded(t *testing.T) {
	tile := geometryTile(t)
	loader := newFakeLoader()
	work := &queueProducer{}
	unloaded := 0
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{OnUnloaded: func(*tileset.Tile) { unloaded++ }}, nil)

	l.Load(tile)
	work.runAll()
	l.Drain(1)
	l.Dispose(tile)
	l.Dispose(tile)

	if tile.ContentState() != tileset.NotLoading {
		t.Errorf("ContentState() = %v, want not-loading", tile.ContentState())
	}
	if got := loader.instances[0].disposals; got != 1 {
		t.Errorf("disposals = %d, want 1", got)
	}
	if unloaded != 1 {
		t.Errorf("OnUnloaded called %d times, want 1", unloaded)
	}
}

func TestLifecycleFailures(t *testing.T) {
	type tc struct {
		parseErr    bool
		fetchFails  int
		maxRetries  int
		retryFrames []uint64
		wantState   tileset.ContentState
		wantFetches int
	}
	tests := map[string]tc{
		"fetch error retried on a later frame": {
			fetchFails: 1, maxRetries: 2, retryFrames: []uint64{2}, wantState: tileset.Loaded, wantFetches: 2,
		},
		"no retry in the failing frame": {
			fetchFails: 1, maxRetries: 2, retryFrames: []uint64{1}, wantState: tileset.Failed, wantFetches: 1,
		},
		"retries exhausted": {
			fetchFails: 5, maxRetries: 1, retryFrames: []uint64{2, 3, 4}, wantState: tileset.Failed, wantFetches: 2,
		},
		"parse error": {
			parseErr: true, maxRetries: 0, wantState: tileset.Failed, wantFetches: 1,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tile := geometryTile(t)
			loader := newFakeLoader()
			loader.failures["https://h/a.glb"] = test.fetchFails
			loader.parseErr = test.parseErr
			work := &queueProducer{}
			var failures []error
			l := NewLifecycle(loader, work, RetryPolicy{MaxRetries: test.maxRetries}, Hooks{
				OnFailed: func(_ *tileset.Tile, err error) { failures = append(failures, err) },
			}, nil)

			l.Load(tile)
			work.runAll()
			l.Drain(1)
			if tile.ContentState() != tileset.Failed {
				t.Fatalf("ContentState() = %v after the first attempt, want failed", tile.ContentState())
			}
			if len(failures) != 1 {
				t.Errorf("OnFailed called %d times, want 1", len(failures))
			}
			if test.parseErr && errorKind(failures[0]) != "parse" {
				t.Errorf("errorKind() = %s, want parse", errorKind(failures[0]))
			}

			for _, frame := range test.retryFrames {
				l.Drain(frame)
				l.Load(tile)
				work.runAll()
				l.Drain(frame)
			}
			if tile.ContentState() != test.wantState {
				t.Errorf("ContentState() = %v, want %v", tile.ContentState(), test.wantState)
			}
			if got := loader.fetches["https://h/a.glb"]; got != test.wantFetches {
				t.Errorf("fetches = %d, want %d", got, test.wantFetches)
			}
		})
	}
}

func TestLifecycleSaturatedPool(t *testing.T) {
	tile := geometryTile(t)
	l := NewLifecycle(newFakeLoader(), saturatedProducer{}, RetryPolicy{}, Hooks{}, nil)
	if l.Load(tile) {
		t.Errorf("Load() = true with a saturated pool")
	}
	if tile.ContentState() != tileset.NotLoading {
		t.Errorf("ContentState() = %v, want not-loading", tile.ContentState())
	}
}

func TestLifecycleDisposeAll(t *testing.T) {
	ts, err := tileset.NewLoader(nil, "").Load([]byte(`{"geometricError": 10, "root": {
		"boundingVolume": {"box": [0,0,0, 1,0,0, 0,1,0, 0,0,1]}, "geometricError": 10, "content": {"uri": "a.glb"},
		"children": [{"boundingVolume": {"box": [0,0,0, 1,0,0, 0,1,0, 0,0,1]}, "geometricError": 1, "content": {"uri": "b.glb"}}]}}`),
		"https://h/tileset.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	root := ts.Root().Children()[0]
	child := root.Children()[0]

	loader := newFakeLoader()
	work := &queueProducer{}
	l := NewLifecycle(loader, work, RetryPolicy{}, Hooks{}, nil)
	l.Load(root)
	work.runAll()
	l.Drain(1)
	l.Load(child)

	l.DisposeAll()
	work.runAll()
	l.Drain(2)

	if root.ContentState() != tileset.NotLoading || child.ContentState() != tileset.NotLoading {
		t.Errorf("states = %v, %v, want not-loading", root.ContentState(), child.ContentState())
	}
	for i, c := range loader.instances {
		if c.disposals != 1 {
			t.Errorf("content %d disposed %d times, want 1", i, c.disposals)
		}
	}
}

func TestRawLoaderInstantiate(t *testing.T) {
	tests := map[string]struct {
		data   []byte
		format Format
		ok     bool
	}{
		"b3dm":   {data: []byte("b3dm\x01\x00\x00\x00"), format: FormatB3dm, ok: true},
		"glb":    {data: []byte("glTF\x02\x00\x00\x00"), format: FormatGlb, ok: true},
		"gltf":   {data: []byte("\n {\"asset\": {}}"), format: FormatGltf, ok: true},
		"pnts":   {data: []byte("pnts"), format: FormatPnts, ok: true},
		"binary": {data: []byte{0x00, 0x01}},
	}
	l := NewRawLoader(nil, nil)
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := l.Instantiate(&RawPayload{URI: "x", Data: test.data})
			if !test.ok {
				var parseErr *tileset.ParseError
				if !errors.As(err, &parseErr) {
					t.Errorf("Instantiate() error = %v, want ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Instantiate() error = %v", err)
			}
			raw := c.(*RawContent)
			if raw.Format != test.format {
				t.Errorf("Format = %v, want %v", raw.Format, test.format)
			}
			raw.Dispose()
			if !raw.Disposed() || raw.Size() != 0 {
				t.Errorf("Dispose() did not release the payload")
			}
		})
	}
}
