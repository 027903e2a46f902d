package implicit

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/ecopia-map/tiles_streamer/internal/io"
	"github.com/ecopia-map/tiles_streamer/internal/metrics"
	"github.com/ecopia-map/tiles_streamer/internal/source"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	// MaxConcurrent bounds resolutions in flight across the tileset, 1 by default.
	MaxConcurrent int64
	// MaxRetries bounds attempts after a failed fetch, negative retries forever.
	MaxRetries int
	Headers    http.Header
}

// Resolver materializes structure the traversal wants to descend into: implicit subtrees and
// nested tilesets. Fetch and decode run on the work pool, the results are applied to the tree by
// Drain on the traversal goroutine.
type Resolver struct {
	source  source.ByteSource
	loader  *tileset.Loader
	work    io.Producer
	gate    *semaphore.Weighted
	metrics *metrics.Metrics
	opts    Options

	// traversal goroutine only
	cache    map[subtreeKey]*Availability
	inflight int

	mu          sync.Mutex
	completions []completion

	// OnFailure and OnWarnings are optional event hooks, called from Drain.
	OnFailure  func(t *tileset.Tile, err error)
	OnWarnings func(uri string, warnings []tileset.Warning)
}

// subtrees are cached per implicit tree and subtree origin
type subtreeKey struct {
	root   *tileset.Tile
	coords tileset.Coordinates
}

type completion struct {
	tile         *tileset.Tile
	key          subtreeKey
	uri          string
	availability *Availability
	document     *tileset.Document
	err          error
}

func NewResolver(src source.ByteSource, loader *tileset.Loader, work io.Producer, opts Options, m *metrics.Metrics) *Resolver {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Resolver{
		source:  src,
		loader:  loader,
		work:    work,
		gate:    semaphore.NewWeighted(opts.MaxConcurrent),
		metrics: m,
		opts:    opts,
		cache:   make(map[subtreeKey]*Availability),
	}
}

// Request asks for the structure below t. It reports whether the children of t can be descended
// into during this frame. A false result means the structure is not there yet, or failed and
// the tile is treated as a leaf for now.
func (r *Resolver) Request(t *tileset.Tile, frame uint64) bool {
	switch t.ChildrenState() {
	case tileset.ChildrenReady:
		return true
	case tileset.ChildrenResolving, tileset.ChildrenMalformed:
		return false
	case tileset.ChildrenResolutionFailed:
		if frame <= t.ResolveFailedFrame {
			return false
		}
		if r.opts.MaxRetries >= 0 && t.ResolveFailures > r.opts.MaxRetries {
			return false
		}
		t.RetryResolution()
	}

	switch {
	case t.Implicit != nil && t.Subtree == nil:
		// inside a subtree that is already decoded, expand in place
		key := subtreeKey{root: t.Implicit.Root, coords: t.Implicit.Settings.SubtreeRoot(t.Implicit.Coords)}
		a, ok := r.cache[key]
		if !ok {
			glog.Warningf("%s: subtree %s is not cached", t, key.coords)
			t.MarkMalformed()
			return false
		}
		t.SetChildren(MaterializeChildren(t, a))
		return true

	case t.Implicit != nil:
		key := subtreeKey{root: t.Implicit.Root, coords: t.Implicit.Coords}
		if a, ok := r.cache[key]; ok {
			ApplySubtree(t, a)
			return true
		}
		r.start(t, "subtree "+t.Subtree.URI, func(ctx context.Context) completion {
			return r.fetchSubtree(ctx, t, key)
		})
		return false

	case t.Content != nil && t.Content.Kind == tileset.ContentNestedTileset:
		r.start(t, "tileset "+t.Content.URI, func(ctx context.Context) completion {
			return r.fetchTileset(ctx, t)
		})
		return false
	}

	// pending without anything to fetch
	t.SetChildren(nil)
	return true
}

// start runs job on the pool if the gate has a free slot. Otherwise the tile stays pending and
// is requested again on a later visit.
func (r *Resolver) start(t *tileset.Tile, name string, job func(ctx context.Context) completion) {
	if !r.gate.TryAcquire(1) {
		return
	}
	t.MarkResolving()

	unit := &io.WorkUnit{Name: name, Run: func(ctx context.Context) error {
		defer r.gate.Release(1)
		c := job(ctx)
		r.push(c)
		return c.err
	}}
	if err := r.work.Submit(unit); err != nil {
		r.gate.Release(1)
		t.MarkPending()
		glog.V(2).Infof("%s: %v", name, err)
		return
	}
	r.inflight++
}

func (r *Resolver) push(c completion) {
	r.mu.Lock()
	r.completions = append(r.completions, c)
	r.mu.Unlock()
}

func (r *Resolver) fetchSubtree(ctx context.Context, t *tileset.Tile, key subtreeKey) completion {
	uri := t.Subtree.URI
	c := completion{tile: t, key: key, uri: uri}
	data, err := r.source.FetchBytes(ctx, uri, r.opts.Headers)
	if err != nil {
		c.err = err
		return c
	}
	fetchBuffer := func(ctx context.Context, bufferURI string) ([]byte, error) {
		return r.source.FetchBytes(ctx, bufferURI, r.opts.Headers)
	}
	c.availability, c.err = Decode(ctx, data, uri, t.Implicit.Settings, fetchBuffer)
	return c
}

func (r *Resolver) fetchTileset(ctx context.Context, t *tileset.Tile) completion {
	uri := t.Content.URI
	c := completion{tile: t, uri: uri}
	data, err := r.source.FetchBytes(ctx, uri, r.opts.Headers)
	if err != nil {
		c.err = err
		return c
	}
	c.document, c.err = tileset.DecodeDocument(data, uri)
	return c
}

// Drain applies finished resolutions to the tree. Call it once per frame on the traversal
// goroutine before walking the tree.
func (r *Resolver) Drain(frame uint64) int {
	r.mu.Lock()
	completions := r.completions
	r.completions = nil
	r.mu.Unlock()

	for _, c := range completions {
		r.inflight--
		r.apply(c, frame)
	}
	return len(completions)
}

func (r *Resolver) apply(c completion, frame uint64) {
	t := c.tile
	if c.err != nil {
		switch {
		case errors.Is(c.err, context.Canceled):
			t.MarkPending()
			return
		case tileset.IsPermanent(c.err):
			t.MarkMalformed()
			r.metrics.Resolution("malformed")
		default:
			t.MarkResolutionFailed(frame)
			r.metrics.Resolution("failed")
		}
		glog.Warningf("resolving %s from %s: %v", t, c.uri, c.err)
		if r.OnFailure != nil {
			r.OnFailure(t, c.err)
		}
		return
	}

	if c.availability != nil {
		r.cache[c.key] = c.availability
		ApplySubtree(t, c.availability)
		r.metrics.Resolution("ok")
		glog.V(2).Infof("%s: subtree %s expanded into %d children", t, c.uri, len(t.Children()))
		return
	}

	warnings, err := r.loader.LoadNested(t.Tileset(), t, c.document, c.uri)
	if err != nil {
		r.metrics.Resolution("malformed")
		glog.Warningf("nested tileset %s: %v", c.uri, err)
		if r.OnFailure != nil {
			r.OnFailure(t, err)
		}
		return
	}
	r.metrics.Resolution("ok")
	if len(warnings) > 0 && r.OnWarnings != nil {
		r.OnWarnings(c.uri, warnings)
	}
}

// InFlight is the number of resolutions submitted and not drained yet.
func (r *Resolver) InFlight() int {
	return r.inflight
}

// CachedSubtrees is the number of decoded subtrees kept for the tileset.
func (r *Resolver) CachedSubtrees() int {
	return len(r.cache)
}
