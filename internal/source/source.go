// Package source fetches the bytes of tilesets, subtrees and tile content.
package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/klauspost/compress/gzip"
)

// ByteSource is the transport used for every request of a tileset. Headers are passed through
// unchanged, sources that have no use for them ignore them.
type ByteSource interface {
	FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error)
}

// ByteSourceFunc adapts a function to ByteSource.
type ByteSourceFunc func(ctx context.Context, uri string, headers http.Header) ([]byte, error)

func (f ByteSourceFunc) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	return f(ctx, uri, headers)
}

// Router sends http(s) uris to the HTTP source and everything else to the file source.
type Router struct {
	HTTP ByteSource
	File ByteSource
}

func NewRouter(httpSource, fileSource ByteSource) *Router {
	return &Router{HTTP: httpSource, File: fileSource}
}

func (r *Router) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	if isRemote(uri) {
		return r.HTTP.FetchBytes(ctx, uri, headers)
	}
	return r.File.FetchBytes(ctx, uri, headers)
}

func isRemote(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

var gzipMagic = []byte{0x1f, 0x8b}

// Gunzip transparently inflates gzip payloads. Tilesets served from object stores are often
// stored pre-compressed without a Content-Encoding header.
type Gunzip struct {
	Source ByteSource
}

func (g Gunzip) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	data, err := g.Source.FetchBytes(ctx, uri, headers)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	inflated, err := gunzip(data)
	if err != nil {
		return nil, &tileset.ParseError{URI: uri, Err: err}
	}
	return inflated, nil
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
