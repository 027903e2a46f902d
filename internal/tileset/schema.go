package tileset

import (
	"github.com/goccy/go-json"
)

const implicitTilingExtension = "3DTILES_implicit_tiling"

// extensions the loader understands, anything else is reported as a warning
var supportedExtensions = map[string]bool{
	implicitTilingExtension:     true,
	"3DTILES_multiple_contents": true,
	"3DTILES_content_gltf":      true,
}

// Document is a decoded tileset JSON. It is plain data and can be decoded away from the
// traversal goroutine.
type Document struct {
	Asset              assetJSON       `json:"asset"`
	GeometricError     *float64        `json:"geometricError"`
	Root               *tileJSON       `json:"root"`
	ExtensionsUsed     []string        `json:"extensionsUsed"`
	ExtensionsRequired []string        `json:"extensionsRequired"`
	Properties         json.RawMessage `json:"properties,omitempty"`
}

type assetJSON struct {
	Version        string `json:"version"`
	TilesetVersion string `json:"tilesetVersion,omitempty"`
	GltfUpAxis     string `json:"gltfUpAxis,omitempty"`
}

type boundingVolumeJSON struct {
	Box    []float64 `json:"box,omitempty"`
	Region []float64 `json:"region,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
}

type contentJSON struct {
	URI string `json:"uri"`
	// pre 1.0 tilesets
	URL string `json:"url"`
}

func (c *contentJSON) uri() string {
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

type subtreesJSON struct {
	URI string `json:"uri"`
}

type implicitTilingJSON struct {
	SubdivisionScheme string       `json:"subdivisionScheme"`
	SubtreeLevels     int          `json:"subtreeLevels"`
	AvailableLevels   int          `json:"availableLevels"`
	MaximumLevel      *int         `json:"maximumLevel,omitempty"`
	Subtrees          subtreesJSON `json:"subtrees"`
}

type tileJSON struct {
	BoundingVolume *boundingVolumeJSON `json:"boundingVolume"`
	GeometricError *float64            `json:"geometricError"`
	Refine         string              `json:"refine,omitempty"`
	Content        *contentJSON        `json:"content,omitempty"`
	Contents       []contentJSON       `json:"contents,omitempty"`
	Children       []*tileJSON         `json:"children,omitempty"`
	Transform      []float64           `json:"transform,omitempty"`
	ImplicitTiling *implicitTilingJSON `json:"implicitTiling,omitempty"`

	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`
}

// DecodeDocument parses tileset JSON without building any tiles.
func DecodeDocument(data []byte, uri string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{URI: uri, Err: err}
	}
	if doc.Root == nil {
		return nil, malformed("%s has no root tile", uri)
	}
	return &doc, nil
}
