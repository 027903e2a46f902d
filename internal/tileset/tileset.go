// Package tileset holds the spatial tree of a streamed 3D tileset and the loader that builds it
// from tileset JSON.
package tileset

import (
	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

type TilingMethod int

const (
	TilingExplicit TilingMethod = iota
	TilingImplicit
)

func (m TilingMethod) String() string {
	if m == TilingImplicit {
		return "implicit"
	}
	return "explicit"
}

// Tileset owns the tree of one loaded dataset, nested tilesets included.
type Tileset struct {
	ID        uuid.UUID
	URI       string
	Version   string
	Tiling    TilingMethod
	Units     units.Unit
	Converter converters.CoordinateConverter

	ExtensionsUsed []string
	Warnings       []Warning

	root   *Tile
	nextID int
}

func newTileset(uri string, unit units.Unit, converter converters.CoordinateConverter) *Tileset {
	ts := &Tileset{
		ID:        uuid.New(),
		URI:       uri,
		Units:     unit,
		Converter: converter,
	}
	ts.root = ts.NewTile()
	ts.root.childrenState = ChildrenReady
	return ts
}

// Root is the structural root. Its single child is the root tile of the tileset JSON.
func (ts *Tileset) Root() *Tile {
	return ts.root
}

// NewTile allocates a detached tile owned by this tileset.
func (ts *Tileset) NewTile() *Tile {
	ts.nextID++
	return &Tile{
		ID:           ts.nextID,
		tileset:      ts,
		transform:    mgl64.Ident4(),
		volumeDirty:  true,
		contentState: NotLoading,
	}
}

func (ts *Tileset) addWarnings(warnings []Warning) {
	ts.Warnings = append(ts.Warnings, warnings...)
}

// Walk visits every materialized tile depth first, the structural root included. Returning false
// from visit skips the tile's children.
func (ts *Tileset) Walk(visit func(*Tile) bool) {
	var walk func(t *Tile)
	walk = func(t *Tile) {
		if !visit(t) {
			return
		}
		for _, child := range t.children {
			walk(child)
		}
	}
	walk(ts.root)
}

// Count returns the number of materialized tiles, excluding the structural root.
func (ts *Tileset) Count() int {
	n := -1
	ts.Walk(func(*Tile) bool {
		n++
		return true
	})
	return n
}
