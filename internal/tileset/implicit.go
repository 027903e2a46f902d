package tileset

import (
	"strconv"
	"strings"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
)

type SubdivisionScheme string

const (
	Quadtree SubdivisionScheme = "QUADTREE"
	Octree   SubdivisionScheme = "OCTREE"
)

// ImplicitSettings describe an implicit tree rooted at one explicit tile.
type ImplicitSettings struct {
	Scheme          SubdivisionScheme
	SubtreeLevels   int
	AvailableLevels int
	SubtreeTemplate string
	ContentTemplate string
	// BaseURI is the tileset the templates are relative to.
	BaseURI string

	RootVolume geometry.BoundingVolume
	RootError  float64
	Refine     RefineMode
}

func (s *ImplicitSettings) IsOctree() bool {
	return s.Scheme == Octree
}

// Branching is the number of children per tile, 4 or 8.
func (s *ImplicitSettings) Branching() int {
	if s.IsOctree() {
		return 8
	}
	return 4
}

// Dimensions is the number of morton bits added per level, 2 or 3.
func (s *ImplicitSettings) Dimensions() uint {
	if s.IsOctree() {
		return 3
	}
	return 2
}

func (s *ImplicitSettings) SubtreeURI(c Coordinates) string {
	return s.resolve(expandTemplate(s.SubtreeTemplate, c))
}

// ContentURI is empty when the implicit tiles carry no content.
func (s *ImplicitSettings) ContentURI(c Coordinates) string {
	if s.ContentTemplate == "" {
		return ""
	}
	return s.resolve(expandTemplate(s.ContentTemplate, c))
}

// templates are expanded before resolving, url escaping would mangle the braces
func (s *ImplicitSettings) resolve(ref string) string {
	uri, err := ResolveURI(s.BaseURI, ref)
	if err != nil {
		return ref
	}
	return uri
}

// HasLevel reports whether tiles at level can exist at all.
func (s *ImplicitSettings) HasLevel(level uint32) bool {
	return int(level) < s.AvailableLevels
}

// IsSubtreeRoot reports whether c sits on the first level of a subtree.
func (s *ImplicitSettings) IsSubtreeRoot(c Coordinates) bool {
	return s.SubtreeLevels > 0 && int(c.Level)%s.SubtreeLevels == 0
}

// SubtreeRoot returns the coordinates of the root of the subtree containing c.
func (s *ImplicitSettings) SubtreeRoot(c Coordinates) Coordinates {
	depth := int(c.Level) % s.SubtreeLevels
	for i := 0; i < depth; i++ {
		c = c.Parent()
	}
	return c
}

func expandTemplate(template string, c Coordinates) string {
	return strings.NewReplacer(
		"{level}", strconv.FormatUint(uint64(c.Level), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(c.Y), 10),
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
	).Replace(template)
}

// ImplicitTile links a materialized tile back to its place in the implicit tree.
type ImplicitTile struct {
	Settings *ImplicitSettings
	Coords   Coordinates
	// Root is the explicit tile that declared the implicit tiling. Subtree caches are keyed on it.
	Root *Tile
}

// Coordinates address a tile in an implicit tree. Z stays zero for quadtrees.
type Coordinates struct {
	Level uint32
	X     uint32
	Y     uint32
	Z     uint32
}

// Child returns the coordinates of child index (x bit 0, y bit 1, z bit 2).
func (c Coordinates) Child(index int) Coordinates {
	return Coordinates{
		Level: c.Level + 1,
		X:     c.X<<1 | uint32(index&1),
		Y:     c.Y<<1 | uint32(index>>1&1),
		Z:     c.Z<<1 | uint32(index>>2&1),
	}
}

func (c Coordinates) Parent() Coordinates {
	if c.Level == 0 {
		return c
	}
	return Coordinates{Level: c.Level - 1, X: c.X >> 1, Y: c.Y >> 1, Z: c.Z >> 1}
}

// ChildIndex is the index of c under its parent.
func (c Coordinates) ChildIndex() int {
	return int(c.X&1) | int(c.Y&1)<<1 | int(c.Z&1)<<2
}

// RelativeTo expresses c in the frame of an ancestor, e.g. a subtree root.
func (c Coordinates) RelativeTo(ancestor Coordinates) Coordinates {
	shift := c.Level - ancestor.Level
	return Coordinates{
		Level: shift,
		X:     c.X - ancestor.X<<shift,
		Y:     c.Y - ancestor.Y<<shift,
		Z:     c.Z - ancestor.Z<<shift,
	}
}

// Morton interleaves the coordinate bits, x lowest. octree adds z.
func (c Coordinates) Morton(octree bool) uint64 {
	var index uint64
	dims := uint(2)
	if octree {
		dims = 3
	}
	for bit := uint(0); bit < uint(c.Level); bit++ {
		index |= uint64(c.X>>bit&1) << (bit * dims)
		index |= uint64(c.Y>>bit&1) << (bit*dims + 1)
		if octree {
			index |= uint64(c.Z>>bit&1) << (bit*dims + 2)
		}
	}
	return index
}

func (c Coordinates) String() string {
	return strconv.FormatUint(uint64(c.Level), 10) + "/" +
		strconv.FormatUint(uint64(c.X), 10) + "/" +
		strconv.FormatUint(uint64(c.Y), 10) + "/" +
		strconv.FormatUint(uint64(c.Z), 10)
}
