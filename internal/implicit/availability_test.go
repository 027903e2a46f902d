package implicit

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ecopia-map/tiles_streamer/internal/geometry"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/geo/r3"
)

// buildSubtree lays out a binary subtree with 8 byte aligned chunks.
func buildSubtree(doc string, bin []byte) []byte {
	jsonBytes := []byte(doc)
	for len(jsonBytes)%8 != 0 {
		jsonBytes = append(jsonBytes, ' ')
	}
	binBytes := append([]byte(nil), bin...)
	for len(binBytes)%8 != 0 {
		binBytes = append(binBytes, 0)
	}

	header := make([]byte, subtreeHeaderSize)
	copy(header, subtreeMagic)
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(jsonBytes)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(binBytes)))

	out := append(header, jsonBytes...)
	return append(out, binBytes...)
}

// root, child 0 and child 3 exist; root and child 3 have content; one child subtree below
// child 3 at (2, 2, 2)
const rootSubtreeJSON = `{
	"buffers": [{"byteLength": 4}],
	"bufferViews": [
		{"buffer": 0, "byteOffset": 0, "byteLength": 1},
		{"buffer": 0, "byteOffset": 1, "byteLength": 1},
		{"buffer": 0, "byteOffset": 2, "byteLength": 2}
	],
	"tileAvailability": {"bitstream": 0, "availableCount": 3},
	"contentAvailability": [{"bitstream": 1, "availableCount": 2}],
	"childSubtreeAvailability": {"bitstream": 2, "availableCount": 1}
}`

var rootSubtreeBin = []byte{0x13, 0x11, 0x00, 0x10}

func quadtreeSettings() *tileset.ImplicitSettings {
	return &tileset.ImplicitSettings{Scheme: tileset.Quadtree, SubtreeLevels: 2, AvailableLevels: 4}
}

func TestDecodeBinarySubtree(t *testing.T) {
	a, err := Decode(context.Background(), buildSubtree(rootSubtreeJSON, rootSubtreeBin), "0.subtree", quadtreeSettings(), nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	type tc struct {
		coords  tileset.Coordinates
		tile    bool
		content bool
	}
	tests := map[string]tc{
		"root":    {coords: tileset.Coordinates{}, tile: true, content: true},
		"child 0": {coords: tileset.Coordinates{Level: 1}, tile: true},
		"child 1": {coords: tileset.Coordinates{Level: 1, X: 1}},
		"child 2": {coords: tileset.Coordinates{Level: 1, Y: 1}},
		"child 3": {coords: tileset.Coordinates{Level: 1, X: 1, Y: 1}, tile: true, content: true},
		"beyond":  {coords: tileset.Coordinates{Level: 2}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if got := a.TileAvailable(test.coords); got != test.tile {
				t.Errorf("TileAvailable() = %v, want %v", got, test.tile)
			}
			if got := a.ContentAvailable(test.coords); got != test.content {
				t.Errorf("ContentAvailable() = %v, want %v", got, test.content)
			}
		})
	}

	if !a.ChildSubtreeAvailable(tileset.Coordinates{Level: 2, X: 2, Y: 2}) {
		t.Errorf("child subtree at 2/2/2 should be available")
	}
	if a.ChildSubtreeAvailable(tileset.Coordinates{Level: 2, X: 3, Y: 2}) {
		t.Errorf("child subtree at 2/3/2 should not be available")
	}
}

func TestDecodeJSONSubtreeConstants(t *testing.T) {
	doc := `{"tileAvailability": {"constant": 1}, "contentAvailability": [{"constant": 0}], "childSubtreeAvailability": {"constant": 1}}`
	a, err := Decode(context.Background(), []byte(doc), "0.json", quadtreeSettings(), nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !a.TileAvailable(tileset.Coordinates{Level: 1, X: 1}) {
		t.Errorf("constant tile availability not honoured")
	}
	if a.ContentAvailable(tileset.Coordinates{}) {
		t.Errorf("constant content availability not honoured")
	}
	if !a.ChildSubtreeAvailable(tileset.Coordinates{Level: 2, X: 3, Y: 3}) {
		t.Errorf("constant child subtree availability not honoured")
	}
}

func TestDecodeLegacyExtensionLayout(t *testing.T) {
	// 3DTILES_implicit_tiling: bufferView instead of bitstream, single content object, no content
	doc := `{
		"buffers": [{"byteLength": 3}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}, {"buffer": 0, "byteOffset": 1, "byteLength": 2}],
		"tileAvailability": {"bufferView": 0},
		"contentAvailability": {"bufferView": 0},
		"childSubtreeAvailability": {"bufferView": 1}
	}`
	a, err := Decode(context.Background(), buildSubtree(doc, []byte{0x03, 0, 0}), "0.subtree", quadtreeSettings(), nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !a.ContentAvailable(tileset.Coordinates{Level: 1}) || a.ContentAvailable(tileset.Coordinates{Level: 1, X: 1}) {
		t.Errorf("content availability does not follow the shared bitstream")
	}
}

func TestDecodeExternalBuffer(t *testing.T) {
	doc := `{
		"buffers": [{"uri": "bits/0.bin", "byteLength": 3}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}, {"buffer": 0, "byteOffset": 1, "byteLength": 2}],
		"tileAvailability": {"bitstream": 0},
		"childSubtreeAvailability": {"bitstream": 1}
	}`
	var fetched string
	fetch := func(ctx context.Context, uri string) ([]byte, error) {
		fetched = uri
		return []byte{0x01, 0xff, 0xff}, nil
	}
	a, err := Decode(context.Background(), []byte(doc), "https://h/subtrees/0.json", quadtreeSettings(), fetch)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if fetched != "https://h/subtrees/bits/0.bin" {
		t.Errorf("fetched %q, want the buffer resolved against the subtree", fetched)
	}
	if !a.TileAvailable(tileset.Coordinates{}) || a.TileAvailable(tileset.Coordinates{Level: 1}) {
		t.Errorf("tile availability does not follow the external buffer")
	}
	if a.ContentAvailable(tileset.Coordinates{}) {
		t.Errorf("missing content availability should mean no content")
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := `{"buffers": [{"byteLength": 1}], "bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}],
		"tileAvailability": {"bitstream": 0}, "childSubtreeAvailability": {"constant": 0}}`

	tests := map[string][]byte{
		"truncated header":   []byte("subt\x01\x00"),
		"bad version":        append([]byte("subt\x02\x00\x00\x00"), make([]byte, 16)...),
		"missing tiles":      []byte(`{"childSubtreeAvailability": {"constant": 0}}`),
		"missing children":   []byte(`{"tileAvailability": {"constant": 1}}`),
		"view out of range":  []byte(`{"tileAvailability": {"bitstream": 3}, "childSubtreeAvailability": {"constant": 0}}`),
		"short bitstream":    buildSubtree(`{"buffers": [{"byteLength": 1}], "bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}], "tileAvailability": {"constant": 1}, "childSubtreeAvailability": {"bitstream": 0}}`, []byte{0xff}),
		"oversized buffer":   buildSubtree(`{"buffers": [{"byteLength": 64}], "bufferViews": [], "tileAvailability": {"constant": 1}, "childSubtreeAvailability": {"constant": 0}}`, []byte{0}),
		"no bitstream":       []byte(`{"tileAvailability": {}, "childSubtreeAvailability": {"constant": 0}}`),
		"no binary chunk":    []byte(valid),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(context.Background(), data, "s.subtree", quadtreeSettings(), nil)
			if !errors.Is(err, tileset.ErrMalformedDataset) {
				t.Errorf("Decode() error = %v, want ErrMalformedDataset", err)
			}
		})
	}
}

func TestMaterializeChildrenTwoOfFour(t *testing.T) {
	ts, err := tileset.NewLoader(nil, "").Load([]byte(`{"geometricError": 64, "root": {
		"boundingVolume": {"box": [0,0,0, 8,0,0, 0,8,0, 0,0,2]}, "geometricError": 64,
		"content": {"uri": "c/{level}/{x}/{y}.glb"},
		"implicitTiling": {"subdivisionScheme": "QUADTREE", "subtreeLevels": 2, "availableLevels": 2,
			"subtrees": {"uri": "{level}.subtree"}}}}`), "tileset.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	root := ts.Root().Children()[0]
	settings := root.Implicit.Settings

	// tiles: root, child 1 (x) and child 2 (y)
	a := NewAvailability(settings, NewBitstream([]byte{0x0d}), NewConstantBitstream(true), NewConstantBitstream(false))
	children := MaterializeChildren(root, a)
	if len(children) != 2 {
		t.Fatalf("MaterializeChildren() created %d tiles, want 2", len(children))
	}

	want := []struct {
		coords tileset.Coordinates
		center r3.Vector
	}{
		{coords: tileset.Coordinates{Level: 1, X: 1}, center: r3.Vector{X: 4, Y: -4}},
		{coords: tileset.Coordinates{Level: 1, Y: 1}, center: r3.Vector{X: -4, Y: 4}},
	}
	for i, child := range children {
		if child.Implicit.Coords != want[i].coords {
			t.Errorf("child %d coords = %v, want %v", i, child.Implicit.Coords, want[i].coords)
		}
		box, ok := child.Volume().(geometry.Box)
		if !ok {
			t.Fatalf("child %d volume is %T", i, child.Volume())
		}
		if box.Center != want[i].center {
			t.Errorf("child %d center = %v, want %v", i, box.Center, want[i].center)
		}
		if got := box.HalfExtents(); got.X != 4 || got.Y != 4 || got.Z != 2 {
			t.Errorf("child %d half extents = %v, want (4, 4, 2)", i, got)
		}
		if child.GeometricError != 32 {
			t.Errorf("child %d geometric error = %v, want 32", i, child.GeometricError)
		}
		if child.Content == nil || child.Content.URI == "" {
			t.Errorf("child %d has no content", i)
		}
		// last available level: real leaves
		if child.ChildrenState() != tileset.ChildrenReady {
			t.Errorf("child %d children state = %v, want ready", i, child.ChildrenState())
		}
	}
}
