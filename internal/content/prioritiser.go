package content

import (
	"sort"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// Executor carries out load and dispose requests. *Lifecycle implements it.
type Executor interface {
	Load(t *tileset.Tile) bool
	Dispose(t *tileset.Tile)
	InFlight() int
}

// Prioritiser receives the requests of one frame instead of the executor and decides what runs.
// Requests are idempotent. Flush is called once at the end of the frame.
type Prioritiser interface {
	// RequestLoad asks for t to be loaded or kept. Larger priorities are more urgent.
	RequestLoad(t *tileset.Tile, priority float64)
	RequestDispose(t *tileset.Tile)
	// Flush hands the accepted requests to exec and forgets the rest. Loads that are not
	// issued are requested again by the traversal on the next frame if still wanted.
	Flush(exec Executor) (loads, disposals int)
}

type loadRequest struct {
	tile     *tileset.Tile
	priority float64
}

// RatePrioritiser issues every dispose and the most urgent loads, bounded by a token bucket and
// by the number of loads already in flight.
type RatePrioritiser struct {
	limiter     *rate.Limiter
	maxInFlight int

	loads    map[*tileset.Tile]float64
	disposes map[*tileset.Tile]struct{}
}

// NewRatePrioritiser allows loadsPerSecond new loads with bursts of burst, and never more than
// maxInFlight loads at once. A non positive rate is unlimited.
func NewRatePrioritiser(loadsPerSecond float64, burst, maxInFlight int) *RatePrioritiser {
	limit := rate.Limit(loadsPerSecond)
	if loadsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RatePrioritiser{
		limiter:     rate.NewLimiter(limit, burst),
		maxInFlight: maxInFlight,
		loads:       make(map[*tileset.Tile]float64),
		disposes:    make(map[*tileset.Tile]struct{}),
	}
}

func (p *RatePrioritiser) RequestLoad(t *tileset.Tile, priority float64) {
	delete(p.disposes, t)
	if current, ok := p.loads[t]; !ok || priority > current {
		p.loads[t] = priority
	}
}

func (p *RatePrioritiser) RequestDispose(t *tileset.Tile) {
	delete(p.loads, t)
	p.disposes[t] = struct{}{}
}

func (p *RatePrioritiser) Flush(exec Executor) (loads, disposals int) {
	for t := range p.disposes {
		// nothing to release for tiles that never loaded or failed
		if state := t.ContentState(); state != tileset.Loading && state != tileset.Loaded {
			continue
		}
		exec.Dispose(t)
		disposals++
	}

	queue := make([]loadRequest, 0, len(p.loads))
	for t, priority := range p.loads {
		queue = append(queue, loadRequest{tile: t, priority: priority})
	}
	sort.Slice(queue, func(i, j int) bool {
		if queue[i].priority != queue[j].priority {
			return queue[i].priority > queue[j].priority
		}
		return queue[i].tile.ID < queue[j].tile.ID
	})

	for _, r := range queue {
		// already loading or loaded tiles cost nothing
		if state := r.tile.ContentState(); state != tileset.NotLoading && state != tileset.Failed {
			continue
		}
		if p.maxInFlight > 0 && exec.InFlight() >= p.maxInFlight {
			break
		}
		if !p.limiter.Allow() {
			break
		}
		if exec.Load(r.tile) {
			loads++
		}
	}
	if deferred := len(queue) - loads; deferred > 0 {
		glog.V(3).Infof("prioritiser issued %d loads, %d not issued this frame", loads, deferred)
	}

	p.loads = make(map[*tileset.Tile]float64)
	p.disposes = make(map[*tileset.Tile]struct{})
	return loads, disposals
}
