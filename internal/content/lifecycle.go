package content

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ecopia-map/tiles_streamer/internal/io"
	"github.com/ecopia-map/tiles_streamer/internal/metrics"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/glog"
)

// Hooks surface lifecycle events to callers. Every field is optional and called on the
// traversal goroutine.
type Hooks struct {
	OnLoaded   func(t *tileset.Tile, c tileset.Content)
	OnUnloaded func(t *tileset.Tile)
	OnFailed   func(t *tileset.Tile, err error)
}

// RetryPolicy decides when a Failed tile may be loaded again.
type RetryPolicy struct {
	// MaxRetries bounds reloads after a failure, negative retries forever.
	MaxRetries int
}

func (p RetryPolicy) allows(t *tileset.Tile, frame uint64) bool {
	if frame <= t.FailedFrame {
		return false
	}
	return p.MaxRetries < 0 || t.LoadFailures <= p.MaxRetries
}

type loadTask struct {
	tile      *tileset.Tile
	uri       string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

type loadResult struct {
	task    *loadTask
	content tileset.Content
	err     error
}

// Lifecycle moves tile payloads through NotLoading, Loading, Loaded and back. Fetch and
// instantiate run on the work pool; their results queue up until Drain applies them, so tile
// state is only ever written from the traversal goroutine.
type Lifecycle struct {
	loader  Loader
	work    io.Producer
	retry   RetryPolicy
	hooks   Hooks
	metrics *metrics.Metrics

	// traversal goroutine only
	frame    uint64
	inflight map[*tileset.Tile]*loadTask
	loaded   map[*tileset.Tile]struct{}

	mu          sync.Mutex
	completions []loadResult
}

func NewLifecycle(loader Loader, work io.Producer, retry RetryPolicy, hooks Hooks, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{
		loader:   loader,
		work:     work,
		retry:    retry,
		hooks:    hooks,
		metrics:  m,
		inflight: make(map[*tileset.Tile]*loadTask),
		loaded:   make(map[*tileset.Tile]struct{}),
	}
}

// Load starts loading the geometry of t. It is idempotent: tiles already loading or loaded are
// left alone. It reports whether a fetch was started.
func (l *Lifecycle) Load(t *tileset.Tile) bool {
	if !t.HasGeometry() {
		return false
	}
	switch t.ContentState() {
	case tileset.NotLoading:
	case tileset.Failed:
		if !l.retry.allows(t, l.frame) {
			return false
		}
		t.SetContentState(tileset.NotLoading)
	default:
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &loadTask{tile: t, uri: t.Content.URI, cancel: cancel}
	unit := &io.WorkUnit{Name: "content " + task.uri, Run: func(workerCtx context.Context) error {
		// the pool context ends the load on shutdown, the task context on dispose
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()
		return l.run(ctx, task)
	}}
	if err := l.work.Submit(unit); err != nil {
		cancel()
		glog.V(2).Infof("%s: load deferred: %v", t, err)
		return false
	}

	t.SetContentState(tileset.Loading)
	l.inflight[t] = task
	l.metrics.SetLoadsInFlight(len(l.inflight))
	return true
}

// run executes on a worker.
func (l *Lifecycle) run(ctx context.Context, task *loadTask) error {
	defer task.cancel()

	result := loadResult{task: task}
	payload, err := l.loader.Fetch(ctx, task.uri)
	if err == nil && !task.cancelled.Load() {
		result.content, err = l.loader.Instantiate(payload)
	}
	result.err = err

	l.mu.Lock()
	l.completions = append(l.completions, result)
	l.mu.Unlock()
	return err
}

// Dispose releases the payload of t. An in flight load is cancelled first: the tile moves to
// CancelRequested and reaches NotLoading once the worker acknowledges.
func (l *Lifecycle) Dispose(t *tileset.Tile) {
	switch t.ContentState() {
	case tileset.Loading:
		task := l.inflight[t]
		if task != nil {
			task.cancelled.Store(true)
			task.cancel()
		}
		t.SetContentState(tileset.CancelRequested)
		l.metrics.LoadCancelled()

	case tileset.Loaded:
		t.SetContentState(tileset.Disposing)
		if c := t.DetachContent(); c != nil {
			c.Dispose()
		}
		t.SetContentState(tileset.NotLoading)
		delete(l.loaded, t)
		l.metrics.ContentDisposed()
		if l.hooks.OnUnloaded != nil {
			l.hooks.OnUnloaded(t)
		}
	}
}

// Drain applies finished loads. Results of cancelled loads are released here and never
// installed.
func (l *Lifecycle) Drain(frame uint64) int {
	l.frame = frame

	l.mu.Lock()
	results := l.completions
	l.completions = nil
	l.mu.Unlock()

	for _, r := range results {
		l.complete(r, frame)
	}
	l.metrics.SetLoadsInFlight(len(l.inflight))
	return len(results)
}

func (l *Lifecycle) complete(r loadResult, frame uint64) {
	t := r.task.tile
	delete(l.inflight, t)

	if r.task.cancelled.Load() || t.ContentState() != tileset.Loading {
		if r.content != nil {
			r.content.Dispose()
		}
		if t.ContentState() == tileset.CancelRequested {
			t.SetContentState(tileset.NotLoading)
		}
		return
	}

	if r.err != nil {
		t.LoadFailures++
		t.FailedFrame = frame
		t.SetContentState(tileset.Failed)
		l.metrics.ContentFailed(errorKind(r.err))
		glog.Warningf("loading %s from %s: %v", t, r.task.uri, r.err)
		if l.hooks.OnFailed != nil {
			l.hooks.OnFailed(t, r.err)
		}
		return
	}

	t.LoadFailures = 0
	t.AttachContent(r.content)
	l.loaded[t] = struct{}{}
	l.metrics.ContentLoaded()
	if l.hooks.OnLoaded != nil {
		l.hooks.OnLoaded(t, r.content)
	}
}

func errorKind(err error) string {
	var parseErr *tileset.ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	return "fetch"
}

// InFlight is the number of loads started and not drained yet, cancelled ones included.
func (l *Lifecycle) InFlight() int {
	return len(l.inflight)
}

// Loaded is the number of tiles holding content.
func (l *Lifecycle) Loaded() int {
	return len(l.loaded)
}

// DisposeAll cancels every in flight load and disposes every loaded payload. Results still
// arriving afterwards are released by the next Drain.
func (l *Lifecycle) DisposeAll() {
	for t := range l.inflight {
		l.Dispose(t)
	}
	for t := range l.loaded {
		l.Dispose(t)
	}
}
