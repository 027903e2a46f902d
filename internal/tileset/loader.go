package tileset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ecopia-map/tiles_streamer/internal/converters"
	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/goccy/go-json"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

// Loader builds tiles from decoded tileset JSON. Nested tilesets referenced by content are left
// unresolved, their tiles stay pending until the traversal asks for them.
type Loader struct {
	converter converters.CoordinateConverter
	unit      units.Unit
}

func NewLoader(converter converters.CoordinateConverter, unit units.Unit) *Loader {
	if unit == "" {
		unit = units.Meters
	}
	return &Loader{converter: converter, unit: unit}
}

// Load builds a tileset from the bytes of its root JSON.
func (l *Loader) Load(data []byte, uri string) (*Tileset, error) {
	doc, err := DecodeDocument(data, uri)
	if err != nil {
		return nil, err
	}

	ts := newTileset(uri, l.unit, l.converter)
	ts.Version = doc.Asset.Version
	ts.ExtensionsUsed = doc.ExtensionsUsed

	b := &builder{ts: ts, base: uri, unit: l.unit}
	b.checkExtensions(doc)

	root, err := b.build(doc.Root, ts.root, RefineModeReplace)
	if err != nil {
		return nil, fmt.Errorf("root tile of %s: %w", uri, err)
	}
	if doc.GeometricError != nil {
		ts.root.GeometricError = l.unit.ToMeters(*doc.GeometricError)
	} else {
		ts.root.GeometricError = root.GeometricError
		b.warn("", "tileset has no top level geometricError")
	}
	ts.root.children = []*Tile{root}
	if root.Implicit != nil {
		ts.Tiling = TilingImplicit
	}

	ts.addWarnings(b.warnings)
	glog.Infof("loaded tileset %s (%s, version %s): %d tiles, %d warnings",
		uri, ts.Tiling, ts.Version, ts.Count(), len(b.warnings))
	return ts, nil
}

// LoadNested attaches the tileset in doc below parent, whose content referenced it. A malformed
// document marks the parent's structure as permanently broken.
func (l *Loader) LoadNested(ts *Tileset, parent *Tile, doc *Document, uri string) ([]Warning, error) {
	b := &builder{ts: ts, base: uri, unit: l.unit}
	b.checkExtensions(doc)

	root, err := b.build(doc.Root, parent, parent.Refine)
	if err != nil {
		parent.MarkMalformed()
		return b.warnings, fmt.Errorf("root tile of nested tileset %s: %w", uri, err)
	}
	parent.children = []*Tile{root}
	parent.childrenState = ChildrenReady

	ts.addWarnings(b.warnings)
	return b.warnings, nil
}

type builder struct {
	ts       *Tileset
	base     string
	unit     units.Unit
	warnings []Warning
	reported map[string]bool
}

func (b *builder) warn(extension, format string, args ...interface{}) {
	w := Warning{Extension: extension, Message: fmt.Sprintf(format, args...)}
	if b.reported == nil {
		b.reported = map[string]bool{}
	}
	if b.reported[w.String()] {
		return
	}
	b.reported[w.String()] = true
	glog.Warningf("%s: %s", b.base, w)
	b.warnings = append(b.warnings, w)
}

func (b *builder) checkExtensions(doc *Document) {
	for _, name := range doc.ExtensionsRequired {
		if !supportedExtensions[name] {
			b.warn(name, "required extension is not supported, loading best effort")
		}
	}
	for _, name := range doc.ExtensionsUsed {
		if !supportedExtensions[name] {
			b.warn(name, "extension is not supported and will be ignored")
		}
	}
}

// build creates the tile for j and, recursively, its explicit children. Malformed children are
// dropped with a warning, a malformed j is returned as an error.
func (b *builder) build(j *tileJSON, parent *Tile, inherited RefineMode) (*Tile, error) {
	if j.BoundingVolume == nil {
		return nil, malformed("tile has no boundingVolume")
	}
	if j.GeometricError == nil {
		return nil, malformed("tile has no geometricError")
	}
	volume, err := parseVolume(j.BoundingVolume)
	if err != nil {
		return nil, err
	}

	t := b.ts.NewTile()
	t.parent = parent
	t.Depth = parent.Depth + 1
	t.volume = volume
	t.GeometricError = b.unit.ToMeters(*j.GeometricError)

	t.Refine = inherited
	if j.Refine != "" {
		if mode := ParseRefineMode(j.Refine); mode != "" {
			t.Refine = mode
		} else {
			b.warn("", "unknown refine %q, using %s", j.Refine, inherited)
		}
	}

	switch len(j.Transform) {
	case 0:
	case 16:
		var m mgl64.Mat4
		copy(m[:], j.Transform)
		t.transform = m
	default:
		return nil, malformed("transform needs 16 values, got %d", len(j.Transform))
	}

	if err := t.refreshVolume(); err != nil {
		return nil, malformed("bounding volume: %v", err)
	}

	contentURI := b.contentURI(j)
	for name := range j.Extensions {
		if !supportedExtensions[name] {
			b.warn(name, "tile extension is not supported and will be ignored")
		}
	}

	implicitJSON, err := b.implicitTiling(j)
	if err != nil {
		return nil, err
	}
	if implicitJSON != nil {
		settings, err := b.implicitSettings(implicitJSON, t, contentURI)
		if err != nil {
			return nil, err
		}
		t.Implicit = &ImplicitTile{Settings: settings, Root: t}
		t.Subtree = &ContentRef{URI: settings.SubtreeURI(Coordinates{}), Kind: ContentSubtree}
		t.childrenState = ChildrenPending
		if len(j.Children) > 0 {
			b.warn("", "tile with implicit tiling also lists children, ignoring them")
		}
		return t, nil
	}

	if contentURI != "" {
		resolved, err := ResolveURI(b.base, contentURI)
		if err != nil {
			return nil, malformed("content uri %q: %v", contentURI, err)
		}
		if IsTilesetURI(resolved) {
			t.Content = &ContentRef{URI: resolved, Kind: ContentNestedTileset}
			t.childrenState = ChildrenPending
			if len(j.Children) > 0 {
				b.warn("", "tile referencing a nested tileset also lists children, ignoring them")
			}
			return t, nil
		}
		t.Content = &ContentRef{URI: resolved, Kind: ContentGeometry}
	}

	children := make([]*Tile, 0, len(j.Children))
	for i, childJSON := range j.Children {
		if childJSON == nil {
			b.warn("", "child %d of %s is null", i, t)
			continue
		}
		child, err := b.build(childJSON, t, t.Refine)
		if err != nil {
			if !errors.Is(err, ErrMalformedDataset) {
				return nil, err
			}
			b.warn("", "skipping child %d of %s: %v", i, t, err)
			continue
		}
		children = append(children, child)
	}
	t.children = children
	t.childrenState = ChildrenReady
	return t, nil
}

// contentURI returns the raw, unresolved content uri of j, if any.
func (b *builder) contentURI(j *tileJSON) string {
	if j.Content != nil {
		if len(j.Contents) > 0 {
			b.warn("", "tile has both content and contents, using content")
		}
		return j.Content.uri()
	}
	if len(j.Contents) > 0 {
		if len(j.Contents) > 1 {
			b.warn("3DTILES_multiple_contents", "only the first of %d contents is streamed", len(j.Contents))
		}
		return j.Contents[0].uri()
	}
	return ""
}

func (b *builder) implicitTiling(j *tileJSON) (*implicitTilingJSON, error) {
	if j.ImplicitTiling != nil {
		return j.ImplicitTiling, nil
	}
	raw, ok := j.Extensions[implicitTilingExtension]
	if !ok {
		return nil, nil
	}
	var it implicitTilingJSON
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, malformed("%s: %v", implicitTilingExtension, err)
	}
	return &it, nil
}

func (b *builder) implicitSettings(j *implicitTilingJSON, t *Tile, contentURI string) (*ImplicitSettings, error) {
	scheme := SubdivisionScheme(strings.ToUpper(strings.TrimSpace(j.SubdivisionScheme)))
	if scheme != Quadtree && scheme != Octree {
		return nil, malformed("unknown subdivisionScheme %q", j.SubdivisionScheme)
	}
	if j.SubtreeLevels <= 0 {
		return nil, malformed("subtreeLevels must be positive")
	}
	available := j.AvailableLevels
	if available == 0 && j.MaximumLevel != nil {
		available = *j.MaximumLevel + 1
	}
	if available <= 0 {
		return nil, malformed("implicit tiling needs availableLevels")
	}
	if j.Subtrees.URI == "" {
		return nil, malformed("implicit tiling needs a subtrees uri")
	}
	return &ImplicitSettings{
		Scheme:          scheme,
		SubtreeLevels:   j.SubtreeLevels,
		AvailableLevels: available,
		SubtreeTemplate: j.Subtrees.URI,
		ContentTemplate: contentURI,
		BaseURI:         b.base,
		RootVolume:      t.volume,
		RootError:       t.GeometricError,
		Refine:          t.Refine,
	}, nil
}

func parseVolume(j *boundingVolumeJSON) (geometry.BoundingVolume, error) {
	switch {
	case j.Box != nil:
		box, err := geometry.NewBoxFromArray(j.Box)
		if err != nil {
			return nil, malformed("box: %v", err)
		}
		return box, nil
	case j.Region != nil:
		region, err := geometry.NewRegionFromArray(j.Region)
		if err != nil {
			return nil, malformed("region: %v", err)
		}
		return region, nil
	case j.Sphere != nil:
		if len(j.Sphere) != 4 || j.Sphere[3] < 0 {
			return nil, malformed("sphere needs a center and a non negative radius")
		}
		center := r3.Vector{X: j.Sphere[0], Y: j.Sphere[1], Z: j.Sphere[2]}
		return geometry.NewBoxFromSphere(center, j.Sphere[3]), nil
	}
	return nil, malformed("boundingVolume has no box, region or sphere")
}
