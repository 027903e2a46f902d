package source

import (
	"context"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Dedup collapses concurrent fetches of the same uri into one request. Callers share the result
// and must not modify the returned slice.
type Dedup struct {
	Source ByteSource
	group  singleflight.Group
}

func NewDedup(source ByteSource) *Dedup {
	return &Dedup{Source: source}
}

// FetchBytes waits for the shared fetch or for ctx, whichever ends first. The shared fetch does
// not inherit the cancellation of whoever started it, so one caller giving up leaves the others
// waiting on the same uri unaffected.
func (d *Dedup) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	ch := d.group.DoChan(uri, func() (interface{}, error) {
		return d.Source.FetchBytes(context.WithoutCancel(ctx), uri, headers)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
