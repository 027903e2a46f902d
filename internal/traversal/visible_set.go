package traversal

import (
	"sort"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// VisibleSet holds the tiles selected for display by one traverser.
type VisibleSet struct {
	tiles map[*tileset.Tile]struct{}
}

func NewVisibleSet() *VisibleSet {
	return &VisibleSet{tiles: make(map[*tileset.Tile]struct{})}
}

func (s *VisibleSet) Add(t *tileset.Tile) {
	s.tiles[t] = struct{}{}
}

func (s *VisibleSet) Remove(t *tileset.Tile) {
	delete(s.tiles, t)
}

func (s *VisibleSet) Contains(t *tileset.Tile) bool {
	_, ok := s.tiles[t]
	return ok
}

func (s *VisibleSet) Len() int {
	return len(s.tiles)
}

// Tiles returns the members ordered by tile id.
func (s *VisibleSet) Tiles() []*tileset.Tile {
	tiles := make([]*tileset.Tile, 0, len(s.tiles))
	for t := range s.tiles {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		return tiles[i].ID < tiles[j].ID
	})
	return tiles
}

// Rendered returns the members whose content is loaded.
func (s *VisibleSet) Rendered() []*tileset.Tile {
	var rendered []*tileset.Tile
	for _, t := range s.Tiles() {
		if t.ContentState() == tileset.Loaded {
			rendered = append(rendered, t)
		}
	}
	return rendered
}
