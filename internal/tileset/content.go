package tileset

type ContentKind int

const (
	ContentGeometry ContentKind = iota
	ContentNestedTileset
	ContentSubtree
)

func (k ContentKind) String() string {
	switch k {
	case ContentNestedTileset:
		return "nested-tileset"
	case ContentSubtree:
		return "subtree"
	}
	return "geometry"
}

// ContentRef points at a payload of a tile.
type ContentRef struct {
	URI  string
	Kind ContentKind
}

// Content is an instantiated payload. Dispose releases whatever it holds outside the Go heap
// (GPU buffers, file handles) and is called at most once.
type Content interface {
	Dispose()
}

type ContentState int

const (
	NotLoading ContentState = iota
	Loading
	CancelRequested
	Loaded
	Disposing
	Failed
)

func (s ContentState) String() string {
	switch s {
	case Loading:
		return "loading"
	case CancelRequested:
		return "cancel-requested"
	case Loaded:
		return "loaded"
	case Disposing:
		return "disposing"
	case Failed:
		return "failed"
	}
	return "not-loading"
}

// ChildrenState tells traversal whether the children slice can be trusted.
type ChildrenState int

const (
	// ChildrenReady means the slice is complete, possibly empty for a real leaf.
	ChildrenReady ChildrenState = iota
	// ChildrenPending means structure exists but has not been fetched or materialized.
	ChildrenPending
	ChildrenResolving
	// ChildrenResolutionFailed is retried on a later frame.
	ChildrenResolutionFailed
	// ChildrenMalformed is never retried.
	ChildrenMalformed
)

func (s ChildrenState) String() string {
	switch s {
	case ChildrenPending:
		return "pending"
	case ChildrenResolving:
		return "resolving"
	case ChildrenResolutionFailed:
		return "resolution-failed"
	case ChildrenMalformed:
		return "malformed"
	}
	return "ready"
}
