package traversal

import (
	"fmt"
	"math"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/content"
	"github.com/ecopia-map/tiles_streamer/internal/metrics"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/glog"
)

// RedundancyPolicy decides when a loaded ancestor makes a finer tile redundant.
type RedundancyPolicy string

const (
	// RedundancyCovered waits for the ancestor content to be loaded.
	RedundancyCovered RedundancyPolicy = "covered"
	// RedundancyEager accepts an ancestor that is still loading, which can leave a one frame gap.
	RedundancyEager RedundancyPolicy = "eager"
)

func ParseRedundancyPolicy(value string) (RedundancyPolicy, error) {
	switch RedundancyPolicy(value) {
	case "", RedundancyCovered:
		return RedundancyCovered, nil
	case RedundancyEager:
		return RedundancyEager, nil
	}
	return "", fmt.Errorf("unknown redundancy policy %q", value)
}

func (p RedundancyPolicy) accepts(state tileset.ContentState) bool {
	if p == RedundancyEager {
		return state == tileset.Loaded || state == tileset.Loading
	}
	return state == tileset.Loaded
}

type Options struct {
	MaxScreenSpaceError float64
	// MaxScreenHeight clamps the viewport height used for the error metric, 0 disables it.
	MaxScreenHeight float64
	Redundancy      RedundancyPolicy
}

// StructureResolver materializes children that are not part of the tree yet. *implicit.Resolver
// implements it.
type StructureResolver interface {
	Request(t *tileset.Tile, frame uint64) bool
	Drain(frame uint64) int
	InFlight() int
}

// ContentManager applies load and dispose requests. *content.Lifecycle implements it.
type ContentManager interface {
	content.Executor
	Drain(frame uint64) int
}

// FrameStats describes one tick.
type FrameStats struct {
	Frame         uint64
	Visible       int
	Rendered      int
	Loads         int
	Disposals     int
	InFlight      int
	Resolving     int
	Completed     int
	FrustumCulled int
	// SSECulled counts tiles whose children were skipped because their detail sufficed.
	SSECulled int
	Duration  time.Duration
}

func (s FrameStats) String() string {
	return fmt.Sprintf("frame %d: %d visible (%d rendered), %d loads, %d disposals, %d in flight, %d resolving, culled %d frustum / %d sse, %s",
		s.Frame, s.Visible, s.Rendered, s.Loads, s.Disposals, s.InFlight, s.Resolving, s.FrustumCulled, s.SSECulled, s.Duration)
}

// Traverser walks one tileset per tick. It owns the visible set and is the only writer of tile
// state, so Tick must always be called from the same goroutine.
type Traverser struct {
	tileset     *tileset.Tileset
	resolver    StructureResolver
	content     ContentManager
	prioritiser content.Prioritiser
	opts        Options
	metrics     *metrics.Metrics

	frame   uint64
	visible *VisibleSet
}

// NewTraverser wires the collaborators of a tileset. prioritiser may be nil, requests then go
// straight to the content manager.
func NewTraverser(ts *tileset.Tileset, resolver StructureResolver, cm ContentManager, prioritiser content.Prioritiser, opts Options, m *metrics.Metrics) *Traverser {
	if opts.Redundancy == "" {
		opts.Redundancy = RedundancyCovered
	}
	return &Traverser{
		tileset:     ts,
		resolver:    resolver,
		content:     cm,
		prioritiser: prioritiser,
		opts:        opts,
		metrics:     m,
		visible:     NewVisibleSet(),
	}
}

func (tr *Traverser) Frame() uint64 {
	return tr.frame
}

func (tr *Traverser) Visible() *VisibleSet {
	return tr.visible
}

// tick is the state of one frame.
type tick struct {
	view    view
	stats   *FrameStats
	visible *VisibleSet
}

// Tick applies finished work, evicts what the previous frame showed and is no longer needed,
// then selects the tiles to show for camera.
func (tr *Traverser) Tick(camera Camera) FrameStats {
	start := time.Now()
	tr.frame++
	stats := FrameStats{Frame: tr.frame}

	stats.Completed = tr.resolver.Drain(tr.frame) + tr.content.Drain(tr.frame)

	f := &tick{
		view:    newView(camera, tr.opts.MaxScreenHeight),
		stats:   &stats,
		visible: NewVisibleSet(),
	}

	candidates := tr.evict(f)
	for _, root := range tr.tileset.Root().Children() {
		tr.visit(f, root)
	}
	tr.release(f, candidates)

	if tr.prioritiser != nil {
		loads, disposals := tr.prioritiser.Flush(tr.content)
		stats.Loads += loads
		stats.Disposals += disposals
	}

	tr.visible = f.visible
	stats.Visible = f.visible.Len()
	stats.Rendered = len(f.visible.Rendered())
	stats.InFlight = tr.content.InFlight()
	stats.Resolving = tr.resolver.InFlight()
	stats.Duration = time.Since(start)

	tr.metrics.SetVisible(stats.Visible)
	tr.metrics.ObserveFrame(stats.Duration)
	glog.V(2).Infoln(stats)
	return stats
}

// evict drops tiles of the previous frame that left the frustum or are covered by a loaded
// ancestor. The remaining ones are returned for release once the new selection is known.
func (tr *Traverser) evict(f *tick) []*tileset.Tile {
	var candidates []*tileset.Tile
	for _, t := range tr.visible.Tiles() {
		box := t.BoundingBox()
		if !f.view.visible(box) {
			tr.dispose(f, t)
			continue
		}
		if tr.redundant(f, t) {
			tr.dispose(f, t)
			continue
		}
		candidates = append(candidates, t)
	}
	return candidates
}

func (tr *Traverser) redundant(f *tick, t *tileset.Tile) bool {
	budget := tr.opts.MaxScreenSpaceError
	if f.view.screenSpaceError(t.GeometricError, t.BoundingBox()) >= budget {
		return false
	}
	parent := t.Parent()
	if parent == nil || parent.IsRoot() {
		return false
	}
	if f.view.screenSpaceError(parent.GeometricError, parent.BoundingBox()) >= budget {
		return false
	}
	return t.HasLoadedAncestor(tr.opts.Redundancy.accepts)
}

// visit selects from t down and reports whether everything it selected is settled (loaded or
// failed), which lets a replaced parent go.
func (tr *Traverser) visit(f *tick, t *tileset.Tile) bool {
	box := t.BoundingBox()
	if !f.view.visible(box) {
		f.stats.FrustumCulled++
		return true
	}
	t.LastSeenFrame = tr.frame

	resolved := t.ChildrenState() == tileset.ChildrenReady
	if !resolved {
		resolved = tr.resolver.Request(t, tr.frame)
	}
	if !resolved {
		switch t.ChildrenState() {
		case tileset.ChildrenPending, tileset.ChildrenResolving:
			// the structure shows up once resolved
			return false
		}
		// failed or malformed: a leaf for now
	}

	sse := f.view.screenSpaceError(t.GeometricError, box)
	t.ScreenSpaceError = sse

	if sse < tr.opts.MaxScreenSpaceError {
		if len(t.Children()) > 0 {
			f.stats.SSECulled++
		}
		if t.HasGeometry() {
			tr.selectTile(f, t, sse)
			return settled(t)
		}
		return true
	}

	var children []*tileset.Tile
	if resolved {
		children = t.Children()
	}
	if len(children) == 0 {
		// no finer detail, show what there is
		if t.HasGeometry() {
			tr.selectTile(f, t, sse)
			return settled(t)
		}
		return true
	}

	ready := true
	for _, child := range children {
		if !tr.visit(f, child) {
			ready = false
		}
	}
	if !t.HasGeometry() {
		return ready
	}
	if t.Refine == tileset.RefineModeAdd {
		tr.selectTile(f, t, sse)
		return ready && settled(t)
	}
	if !ready && t.ContentState() == tileset.Loaded {
		// keep showing the parent until its replacement is in
		f.visible.Add(t)
	}
	return ready
}

// release disposes tiles shown last frame that were not selected again. A tile whose ancestor
// was selected instead is kept until that ancestor covers it.
func (tr *Traverser) release(f *tick, candidates []*tileset.Tile) {
	for _, t := range candidates {
		if f.visible.Contains(t) {
			continue
		}
		if t.ContentState() == tileset.Loaded && tr.hasVisibleAncestor(f, t) && !t.HasLoadedAncestor(tr.opts.Redundancy.accepts) {
			f.visible.Add(t)
			continue
		}
		tr.dispose(f, t)
	}
}

func (tr *Traverser) hasVisibleAncestor(f *tick, t *tileset.Tile) bool {
	for p := t.Parent(); p != nil; p = p.Parent() {
		if f.visible.Contains(p) {
			return true
		}
	}
	return false
}

func (tr *Traverser) selectTile(f *tick, t *tileset.Tile, sse float64) {
	f.visible.Add(t)
	if tr.prioritiser != nil {
		tr.prioritiser.RequestLoad(t, priority(sse))
		return
	}
	if tr.content.Load(t) {
		f.stats.Loads++
	}
}

func (tr *Traverser) dispose(f *tick, t *tileset.Tile) {
	if tr.prioritiser != nil {
		tr.prioritiser.RequestDispose(t)
		return
	}
	switch t.ContentState() {
	case tileset.Loading, tileset.Loaded:
		tr.content.Dispose(t)
		f.stats.Disposals++
	}
}

// Dispose cancels or releases the content of every tile this traverser selected.
func (tr *Traverser) Dispose() {
	for _, t := range tr.visible.Tiles() {
		tr.content.Dispose(t)
	}
	tr.visible = NewVisibleSet()
}

func settled(t *tileset.Tile) bool {
	state := t.ContentState()
	return state == tileset.Loaded || state == tileset.Failed
}

// priority favours the tiles missing the most detail, the camera being inside a tile first.
func priority(sse float64) float64 {
	if math.IsInf(sse, 1) {
		return math.MaxFloat64
	}
	return sse
}
