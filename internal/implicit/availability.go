// Package implicit decodes implicit tiling subtrees and expands them into tiles on demand.
package implicit

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/goccy/go-json"
)

const (
	subtreeMagic      = "subt"
	subtreeHeaderSize = 24
)

// Bitstream is one availability bitset, either a constant or packed bits in little bit order.
type Bitstream struct {
	constant *bool
	bits     []byte
}

func NewConstantBitstream(available bool) Bitstream {
	return Bitstream{constant: &available}
}

func NewBitstream(bits []byte) Bitstream {
	return Bitstream{bits: bits}
}

func (b Bitstream) Get(index uint64) bool {
	if b.constant != nil {
		return *b.constant
	}
	byteIndex := index / 8
	if byteIndex >= uint64(len(b.bits)) {
		return false
	}
	return b.bits[byteIndex]>>(index%8)&1 == 1
}

// Availability is a decoded subtree: which tiles, contents and child subtrees exist within one
// fixed depth block of an implicit tree. Coordinates passed in are relative to the subtree root.
type Availability struct {
	Tiles         Bitstream
	Content       Bitstream
	ChildSubtrees Bitstream

	levels int
	octree bool
}

func NewAvailability(settings *tileset.ImplicitSettings, tiles, content, childSubtrees Bitstream) *Availability {
	return &Availability{
		Tiles:         tiles,
		Content:       content,
		ChildSubtrees: childSubtrees,
		levels:        settings.SubtreeLevels,
		octree:        settings.IsOctree(),
	}
}

func (a *Availability) branching() uint64 {
	if a.octree {
		return 8
	}
	return 4
}

// levelOffset is the number of tiles on the levels above level: (N^level - 1) / (N - 1).
func (a *Availability) levelOffset(level uint32) uint64 {
	n := a.branching()
	total, size := uint64(0), uint64(1)
	for l := uint32(0); l < level; l++ {
		total += size
		size *= n
	}
	return total
}

func (a *Availability) tileIndex(rel tileset.Coordinates) uint64 {
	return a.levelOffset(rel.Level) + rel.Morton(a.octree)
}

func (a *Availability) TileAvailable(rel tileset.Coordinates) bool {
	if int(rel.Level) >= a.levels {
		return false
	}
	return a.Tiles.Get(a.tileIndex(rel))
}

func (a *Availability) ContentAvailable(rel tileset.Coordinates) bool {
	if int(rel.Level) >= a.levels {
		return false
	}
	return a.Content.Get(a.tileIndex(rel))
}

// ChildSubtreeAvailable takes coordinates on the level just below the subtree.
func (a *Availability) ChildSubtreeAvailable(rel tileset.Coordinates) bool {
	if int(rel.Level) != a.levels {
		return false
	}
	return a.ChildSubtrees.Get(rel.Morton(a.octree))
}

// FetchFunc loads external subtree buffers.
type FetchFunc func(ctx context.Context, uri string) ([]byte, error)

type subtreeJSON struct {
	Buffers     []bufferJSON     `json:"buffers"`
	BufferViews []bufferViewJSON `json:"bufferViews"`

	TileAvailability         *availabilityJSON `json:"tileAvailability"`
	ContentAvailability      json.RawMessage   `json:"contentAvailability"`
	ChildSubtreeAvailability *availabilityJSON `json:"childSubtreeAvailability"`
}

type bufferJSON struct {
	URI        string `json:"uri,omitempty"`
	ByteLength int    `json:"byteLength"`
}

type bufferViewJSON struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
}

type availabilityJSON struct {
	Bitstream      *int `json:"bitstream,omitempty"`
	BufferView     *int `json:"bufferView,omitempty"`
	Constant       *int `json:"constant,omitempty"`
	AvailableCount *int `json:"availableCount,omitempty"`
}

func (j *availabilityJSON) view() *int {
	if j.Bitstream != nil {
		return j.Bitstream
	}
	return j.BufferView
}

// Decode reads a subtree in binary ("subt") or JSON form. External buffers are loaded with fetch,
// relative to uri.
func Decode(ctx context.Context, data []byte, uri string, settings *tileset.ImplicitSettings, fetch FetchFunc) (*Availability, error) {
	jsonChunk, binaryChunk, err := splitSubtree(data)
	if err != nil {
		return nil, fmt.Errorf("%w: subtree %s: %v", tileset.ErrMalformedDataset, uri, err)
	}

	var doc subtreeJSON
	if err := json.Unmarshal(jsonChunk, &doc); err != nil {
		return nil, &tileset.ParseError{URI: uri, Err: err}
	}

	buffers, err := loadBuffers(ctx, doc.Buffers, binaryChunk, uri, fetch)
	if err != nil {
		return nil, err
	}
	d := decoder{doc: &doc, buffers: buffers, uri: uri}

	a := &Availability{levels: settings.SubtreeLevels, octree: settings.IsOctree()}
	tileCount := a.levelOffset(uint32(a.levels))
	childCount := a.levelOffset(uint32(a.levels)+1) - tileCount

	if doc.TileAvailability == nil {
		return nil, fmt.Errorf("%w: subtree %s has no tileAvailability", tileset.ErrMalformedDataset, uri)
	}
	if a.Tiles, err = d.bitstream(doc.TileAvailability, tileCount); err != nil {
		return nil, err
	}

	a.Content = NewConstantBitstream(false)
	if content, err := firstContentAvailability(doc.ContentAvailability); err != nil {
		return nil, fmt.Errorf("%w: subtree %s contentAvailability: %v", tileset.ErrMalformedDataset, uri, err)
	} else if content != nil {
		if a.Content, err = d.bitstream(content, tileCount); err != nil {
			return nil, err
		}
	}

	if doc.ChildSubtreeAvailability == nil {
		return nil, fmt.Errorf("%w: subtree %s has no childSubtreeAvailability", tileset.ErrMalformedDataset, uri)
	}
	if a.ChildSubtrees, err = d.bitstream(doc.ChildSubtreeAvailability, childCount); err != nil {
		return nil, err
	}
	return a, nil
}

// splitSubtree returns the JSON and binary chunks of a binary subtree, or the whole input when
// it is a JSON subtree.
func splitSubtree(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 || string(data[:4]) != subtreeMagic {
		return bytes.TrimSpace(data), nil, nil
	}
	if len(data) < subtreeHeaderSize {
		return nil, nil, fmt.Errorf("truncated header, %d bytes", len(data))
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != 1 {
		return nil, nil, fmt.Errorf("unsupported subtree version %d", version)
	}
	jsonLength := binary.LittleEndian.Uint64(data[8:16])
	binaryLength := binary.LittleEndian.Uint64(data[16:24])
	if uint64(len(data)-subtreeHeaderSize) < jsonLength+binaryLength {
		return nil, nil, fmt.Errorf("chunks need %d bytes, have %d", jsonLength+binaryLength, len(data)-subtreeHeaderSize)
	}
	jsonEnd := subtreeHeaderSize + jsonLength
	return bytes.TrimRight(data[subtreeHeaderSize:jsonEnd], " \x00"), data[jsonEnd : jsonEnd+binaryLength], nil
}

func loadBuffers(ctx context.Context, buffers []bufferJSON, binaryChunk []byte, uri string, fetch FetchFunc) ([][]byte, error) {
	loaded := make([][]byte, len(buffers))
	for i, buffer := range buffers {
		if buffer.URI == "" {
			if len(binaryChunk) < buffer.ByteLength {
				return nil, fmt.Errorf("%w: subtree %s buffer %d is longer than the binary chunk", tileset.ErrMalformedDataset, uri, i)
			}
			loaded[i] = binaryChunk
			continue
		}
		if fetch == nil {
			return nil, fmt.Errorf("%w: subtree %s references external buffer %s", tileset.ErrMalformedDataset, uri, buffer.URI)
		}
		bufferURI, err := tileset.ResolveURI(uri, buffer.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: subtree %s buffer uri: %v", tileset.ErrMalformedDataset, uri, err)
		}
		data, err := fetch(ctx, bufferURI)
		if err != nil {
			return nil, err
		}
		if len(data) < buffer.ByteLength {
			return nil, fmt.Errorf("%w: buffer %s has %d bytes, want %d", tileset.ErrMalformedDataset, bufferURI, len(data), buffer.ByteLength)
		}
		loaded[i] = data
	}
	return loaded, nil
}

// firstContentAvailability accepts the array form and the single object of the 1.0 extension.
func firstContentAvailability(raw json.RawMessage) (*availabilityJSON, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []*availabilityJSON
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}
	var single availabilityJSON
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return &single, nil
}

type decoder struct {
	doc     *subtreeJSON
	buffers [][]byte
	uri     string
}

func (d *decoder) bitstream(j *availabilityJSON, count uint64) (Bitstream, error) {
	if j.Constant != nil {
		return NewConstantBitstream(*j.Constant == 1), nil
	}
	view := j.view()
	if view == nil {
		return Bitstream{}, fmt.Errorf("%w: subtree %s availability has neither constant nor bitstream", tileset.ErrMalformedDataset, d.uri)
	}
	if *view < 0 || *view >= len(d.doc.BufferViews) {
		return Bitstream{}, fmt.Errorf("%w: subtree %s bufferView %d out of range", tileset.ErrMalformedDataset, d.uri, *view)
	}
	bv := d.doc.BufferViews[*view]
	if bv.Buffer < 0 || bv.Buffer >= len(d.buffers) {
		return Bitstream{}, fmt.Errorf("%w: subtree %s buffer %d out of range", tileset.ErrMalformedDataset, d.uri, bv.Buffer)
	}
	buffer := d.buffers[bv.Buffer]
	if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset+bv.ByteLength > len(buffer) {
		return Bitstream{}, fmt.Errorf("%w: subtree %s bufferView %d exceeds its buffer", tileset.ErrMalformedDataset, d.uri, *view)
	}
	needed := (count + 7) / 8
	if uint64(bv.ByteLength) < needed {
		return Bitstream{}, fmt.Errorf("%w: subtree %s bitstream has %d bytes, needs %d", tileset.ErrMalformedDataset, d.uri, bv.ByteLength, needed)
	}
	return NewBitstream(buffer[bv.ByteOffset : bv.ByteOffset+bv.ByteLength]), nil
}
