package source

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// FileSource reads local paths and file:// uris, relative paths are taken from Root.
type FileSource struct {
	Root string
}

func NewFileSource(root string) *FileSource {
	return &FileSource{Root: root}
}

func (s *FileSource) FetchBytes(ctx context.Context, uri string, _ http.Header) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	path, err := s.path(uri)
	if err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	return data, nil
}

func (s *FileSource) path(uri string) (string, error) {
	p := uri
	if strings.HasPrefix(strings.ToLower(uri), "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", err
		}
		p = u.Path
	} else if i := strings.IndexByte(p, '?'); i >= 0 {
		// query parameters propagated from the tileset uri mean nothing on disk
		p = p[:i]
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) && s.Root != "" {
		p = filepath.Join(s.Root, p)
	}
	return p, nil
}
