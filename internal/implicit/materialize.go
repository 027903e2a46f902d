package implicit

import (
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// ApplySubtree installs a decoded subtree on the tile at its root: the tile's own content and
// its children.
func ApplySubtree(t *tileset.Tile, a *Availability) {
	settings := t.Implicit.Settings
	root := tileset.Coordinates{}

	t.Subtree = nil
	if !a.TileAvailable(root) {
		t.SetChildren(nil)
		return
	}
	if a.ContentAvailable(root) {
		if uri := settings.ContentURI(t.Implicit.Coords); uri != "" {
			t.Content = &tileset.ContentRef{URI: uri, Kind: tileset.ContentGeometry}
		}
	}
	t.SetChildren(MaterializeChildren(t, a))
}

// MaterializeChildren allocates the children of t that a marks as available, and nothing else.
// a is the subtree containing t. Children inside the subtree get their content from a, children
// starting a new subtree get a subtree reference and learn their content once it is fetched.
func MaterializeChildren(t *tileset.Tile, a *Availability) []*tileset.Tile {
	it := t.Implicit
	settings := it.Settings
	if !settings.HasLevel(it.Coords.Level + 1) {
		return nil
	}
	subtreeRoot := settings.SubtreeRoot(it.Coords)

	var children []*tileset.Tile
	for i := 0; i < settings.Branching(); i++ {
		coords := it.Coords.Child(i)
		rel := coords.RelativeTo(subtreeRoot)

		if int(rel.Level) < settings.SubtreeLevels {
			if !a.TileAvailable(rel) {
				continue
			}
			child := newChild(t, i, coords)
			if a.ContentAvailable(rel) {
				if uri := settings.ContentURI(coords); uri != "" {
					child.Content = &tileset.ContentRef{URI: uri, Kind: tileset.ContentGeometry}
				}
			}
			if settings.HasLevel(coords.Level + 1) {
				child.MarkPending()
			}
			children = append(children, child)
			continue
		}

		if !a.ChildSubtreeAvailable(rel) {
			continue
		}
		child := newChild(t, i, coords)
		child.Subtree = &tileset.ContentRef{URI: settings.SubtreeURI(coords), Kind: tileset.ContentSubtree}
		child.MarkPending()
		children = append(children, child)
	}
	return children
}

func newChild(parent *tileset.Tile, index int, coords tileset.Coordinates) *tileset.Tile {
	settings := parent.Implicit.Settings
	child := parent.Tileset().NewTile()
	child.SetVolume(parent.Volume().Subdivide(index, settings.IsOctree()))
	child.GeometricError = parent.GeometricError / 2
	child.Refine = settings.Refine
	child.Implicit = &tileset.ImplicitTile{Settings: settings, Coords: coords, Root: parent.Implicit.Root}
	return child
}
