package pkg

import (
	"context"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/ecopia-map/tiles_streamer/internal/traversal"
	"github.com/ecopia-map/tiles_streamer/tools"
	"github.com/golang/glog"
)

// RunStream flies a camera in on the root tile over opts.Frames ticks, then keeps ticking the
// last camera until no request is in flight, for at most another opts.Frames ticks.
func RunStream(ctx context.Context, s *Streamer, opts *config.StreamOptions) (traversal.FrameStats, error) {
	box := s.RootBox()
	var stats traversal.FrameStats
	var err error

	for i := 0; i < opts.Frames; i++ {
		if stats, err = s.Tick(FlyIn(box, opts.Distance, i, opts.Frames)); err != nil {
			return stats, err
		}
		tools.LogOutput(stats.String())
		if err := pause(ctx, opts.FrameDelay); err != nil {
			return stats, err
		}
	}

	last := FlyIn(box, opts.Distance, opts.Frames-1, opts.Frames)
	for i := 0; i < opts.Frames && (stats.InFlight > 0 || stats.Resolving > 0); i++ {
		if stats, err = s.Tick(last); err != nil {
			return stats, err
		}
		glog.V(1).Infoln("settling", stats.String())
		if err := pause(ctx, opts.FrameDelay); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
