package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

type HTTPSource struct {
	client *http.Client
	// Headers are sent with every request, per request headers take precedence.
	Headers http.Header
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *HTTPSource) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	for key, values := range s.Headers {
		req.Header[key] = values
	}
	for key, values := range headers {
		req.Header[key] = values
	}

	requestID := uuid.NewString()
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &tileset.FetchError{URI: uri, Err: fmt.Errorf("status %s", resp.Status)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tileset.FetchError{URI: uri, Err: err}
	}
	// net/http only inflates gzip it asked for itself
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") && !resp.Uncompressed {
		if data, err = gunzip(data); err != nil {
			return nil, &tileset.ParseError{URI: uri, Err: err}
		}
	}
	glog.V(3).Infof("[%s] GET %s: %d bytes in %v", requestID, uri, len(data), time.Since(start))
	return data, nil
}
