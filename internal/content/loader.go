// Package content owns the load and dispose state machine of tile payloads.
package content

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ecopia-map/tiles_streamer/internal/source"
	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// RawPayload is fetched content that has not been instantiated yet.
type RawPayload struct {
	URI  string
	Data []byte
}

// Loader is the content collaborator. Fetch runs on a worker and may be cancelled through ctx,
// Instantiate turns the bytes into a disposable handle.
type Loader interface {
	Fetch(ctx context.Context, uri string) (*RawPayload, error)
	Instantiate(payload *RawPayload) (tileset.Content, error)
}

type Format string

const (
	FormatB3dm Format = "b3dm"
	FormatI3dm Format = "i3dm"
	FormatPnts Format = "pnts"
	FormatCmpt Format = "cmpt"
	FormatGlb  Format = "glb"
	FormatGltf Format = "gltf"
)

var magics = []struct {
	magic  []byte
	format Format
}{
	{[]byte("b3dm"), FormatB3dm},
	{[]byte("i3dm"), FormatI3dm},
	{[]byte("pnts"), FormatPnts},
	{[]byte("cmpt"), FormatCmpt},
	{[]byte("glTF"), FormatGlb},
}

// SniffFormat identifies a payload by its magic bytes. JSON glTF has no magic and is recognized
// by its leading brace.
func SniffFormat(data []byte) (Format, bool) {
	for _, m := range magics {
		if bytes.HasPrefix(data, m.magic) {
			return m.format, true
		}
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatGltf, true
	}
	return "", false
}

// RawContent keeps the payload bytes as they arrived. Decoding meshes is left to whoever
// consumes the ContentLoaded event.
type RawContent struct {
	URI    string
	Format Format

	mu       sync.Mutex
	data     []byte
	disposed bool
}

func (c *RawContent) Data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *RawContent) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *RawContent) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *RawContent) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.disposed = true
}

// RawLoader fetches content through a byte source and wraps it in RawContent.
type RawLoader struct {
	source  source.ByteSource
	headers http.Header
}

func NewRawLoader(src source.ByteSource, headers http.Header) *RawLoader {
	return &RawLoader{source: src, headers: headers}
}

func (l *RawLoader) Fetch(ctx context.Context, uri string) (*RawPayload, error) {
	data, err := l.source.FetchBytes(ctx, uri, l.headers)
	if err != nil {
		return nil, err
	}
	return &RawPayload{URI: uri, Data: data}, nil
}

func (l *RawLoader) Instantiate(payload *RawPayload) (tileset.Content, error) {
	format, ok := SniffFormat(payload.Data)
	if !ok {
		return nil, &tileset.ParseError{URI: payload.URI, Err: fmt.Errorf("unknown content format (%d bytes)", len(payload.Data))}
	}
	return &RawContent{URI: payload.URI, Format: format, data: payload.Data}, nil
}
