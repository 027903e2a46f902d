package tileset

import (
	"fmt"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
)

// Tile is one node of the spatial tree. Children are owned by their parent, the parent pointer
// is a plain back reference used for ancestor walks. All mutable state is written from the
// traversal goroutine only.
type Tile struct {
	ID    int
	Depth int

	tileset       *Tileset
	parent        *Tile
	children      []*Tile
	childrenState ChildrenState

	GeometricError float64
	Refine         RefineMode

	volume         geometry.BoundingVolume
	transform      mgl64.Mat4
	worldTransform mgl64.Mat4
	worldBox       geometry.Box
	volumeDirty    bool

	// Content is the declared payload, geometry or a nested tileset.
	Content *ContentRef
	// Subtree is set on implicit tiles that start a subtree block which still has to be fetched.
	Subtree  *ContentRef
	Implicit *ImplicitTile

	contentState ContentState
	content      Content
	LoadFailures int
	FailedFrame  uint64

	ResolveFailures    int
	ResolveFailedFrame uint64

	// per frame values written by the traversal
	ScreenSpaceError float64
	LastSeenFrame    uint64
}

func (t *Tile) Parent() *Tile {
	return t.parent
}

func (t *Tile) Children() []*Tile {
	return t.children
}

func (t *Tile) ChildrenState() ChildrenState {
	return t.childrenState
}

func (t *Tile) Tileset() *Tileset {
	return t.tileset
}

// IsRoot is true for the structural root only, which is never rendered.
func (t *Tile) IsRoot() bool {
	return t.parent == nil
}

func (t *Tile) Volume() geometry.BoundingVolume {
	return t.volume
}

// SetVolume replaces the declared volume. The world box is recomputed on the next read.
func (t *Tile) SetVolume(v geometry.BoundingVolume) {
	t.volume = v
	t.volumeDirty = true
}

func (t *Tile) HasGeometry() bool {
	return t.Content != nil && t.Content.Kind == ContentGeometry
}

// NeedsResolution reports structure that exists in the dataset but is not materialized yet.
func (t *Tile) NeedsResolution() bool {
	return t.childrenState == ChildrenPending
}

// BoundingBox returns the world space box of the tile, recomputing it if a transform above it
// changed since the last call.
func (t *Tile) BoundingBox() geometry.Box {
	if t.volumeDirty {
		// the volume was valid when the tile was built, only the transform can have changed
		_ = t.refreshVolume()
	}
	return t.worldBox
}

func (t *Tile) refreshVolume() error {
	if t.parent != nil {
		t.worldTransform = t.parent.currentWorldTransform().Mul4(t.transform)
	} else {
		t.worldTransform = t.transform
	}
	if t.volume == nil {
		t.volumeDirty = false
		return nil
	}
	box, err := t.volume.Cartesian(t.worldTransform, t.tileset.Converter)
	if err != nil {
		return err
	}
	t.worldBox = box
	t.volumeDirty = false
	return nil
}

func (t *Tile) currentWorldTransform() mgl64.Mat4 {
	if t.volumeDirty {
		_ = t.refreshVolume()
	}
	return t.worldTransform
}

func (t *Tile) Transform() mgl64.Mat4 {
	return t.transform
}

// SetTransform replaces the local transform and invalidates the cached volumes of the tile and
// every descendant. They are recomputed the next time they are read.
func (t *Tile) SetTransform(m mgl64.Mat4) {
	t.transform = m
	t.invalidate()
}

func (t *Tile) invalidate() {
	t.volumeDirty = true
	for _, child := range t.children {
		child.invalidate()
	}
}

func (t *Tile) ContentState() ContentState {
	return t.contentState
}

func (t *Tile) SetContentState(state ContentState) {
	t.contentState = state
}

// LoadedContent returns the instantiated payload while the tile is Loaded.
func (t *Tile) LoadedContent() Content {
	return t.content
}

func (t *Tile) AttachContent(c Content) {
	t.content = c
	t.contentState = Loaded
}

// DetachContent hands the payload back to the caller, who is responsible for disposing it.
func (t *Tile) DetachContent() Content {
	c := t.content
	t.content = nil
	return c
}

// HasLoadedAncestor walks up the parent chain looking for a tile whose geometry is in one of
// the accepted states.
func (t *Tile) HasLoadedAncestor(accept func(ContentState) bool) bool {
	for p := t.parent; p != nil; p = p.parent {
		if p.HasGeometry() && accept(p.contentState) {
			return true
		}
	}
	return false
}

// SetChildren installs materialized children and marks the structure as ready.
func (t *Tile) SetChildren(children []*Tile) {
	for _, child := range children {
		child.parent = t
		child.Depth = t.Depth + 1
		child.volumeDirty = true
	}
	t.children = children
	t.childrenState = ChildrenReady
}

// MarkPending flags structure that exists below t but still has to be materialized.
func (t *Tile) MarkPending() {
	t.childrenState = ChildrenPending
}

func (t *Tile) MarkResolving() {
	t.childrenState = ChildrenResolving
}

func (t *Tile) MarkResolutionFailed(frame uint64) {
	t.childrenState = ChildrenResolutionFailed
	t.ResolveFailures++
	t.ResolveFailedFrame = frame
}

// RetryResolution moves a failed resolution back to pending so the next visit requests it again.
func (t *Tile) RetryResolution() {
	if t.childrenState == ChildrenResolutionFailed {
		t.childrenState = ChildrenPending
	}
}

func (t *Tile) MarkMalformed() {
	t.children = nil
	t.childrenState = ChildrenMalformed
}

func (t *Tile) String() string {
	if t.Implicit != nil {
		return fmt.Sprintf("tile#%d(%s)", t.ID, t.Implicit.Coords)
	}
	return fmt.Sprintf("tile#%d", t.ID)
}
