package pkg

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Server ticks a streamer with an orbiting camera and exposes its state over http:
// /status, /tiles, /metrics and the /events websocket.
type Server struct {
	streamer *Streamer
	opts     *config.ServeOptions
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

func NewServer(s *Streamer, opts *config.ServeOptions, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		streamer: s,
		opts:     opts,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subscribers: make(map[chan Event]struct{}),
	}
}

func (srv *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/status", srv.status)
	r.GET("/tiles", srv.tiles)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{})))
	r.GET("/events", srv.events)
	return r
}

// Run serves http and ticks the streamer until ctx is done or either of them fails. The
// streamer is only ticked from the loop started here.
func (srv *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    srv.opts.Address,
		Handler: srv.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("serving on %s", srv.opts.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		srv.broadcast(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.tickLoop(ctx)
	})
	return g.Wait()
}

func (srv *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / srv.opts.FrameRate))
	defer ticker.Stop()

	box := srv.streamer.RootBox()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			angle := 0.0
			if srv.opts.Orbit > 0 {
				angle = 2 * math.Pi * now.Sub(start).Seconds() / srv.opts.Orbit.Seconds()
			}
			stats, err := srv.streamer.Tick(Orbit(box, srv.opts.Distance, angle))
			if err != nil {
				return err
			}
			glog.V(2).Infoln(stats.String())
		}
	}
}

func (srv *Server) status(c *gin.Context) {
	ts := srv.streamer.Tileset()
	stats := srv.streamer.Stats()
	c.JSON(http.StatusOK, gin.H{
		"tileset":        ts.URI,
		"id":             ts.ID.String(),
		"frame":          stats.Frame,
		"visible":        stats.Visible,
		"rendered":       stats.Rendered,
		"loads":          stats.Loads,
		"disposals":      stats.Disposals,
		"in_flight":      stats.InFlight,
		"resolving":      stats.Resolving,
		"frustum_culled": stats.FrustumCulled,
		"sse_culled":     stats.SSECulled,
		"duration":       stats.Duration.String(),
	})
}

func (srv *Server) tiles(c *gin.Context) {
	c.JSON(http.StatusOK, srv.streamer.Tiles())
}

func (srv *Server) events(c *gin.Context) {
	conn, err := srv.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Warningf("events upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := srv.subscribe()
	defer srv.unsubscribe(ch)

	// the read side only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					glog.V(1).Infof("events client: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (srv *Server) subscribe() chan Event {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if srv.closed {
		close(ch)
		return ch
	}
	srv.subscribers[ch] = struct{}{}
	return ch
}

func (srv *Server) unsubscribe(ch chan Event) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.subscribers[ch]; ok {
		delete(srv.subscribers, ch)
		close(ch)
	}
}

func (srv *Server) subscriberCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.subscribers)
}

// broadcast copies streamer events to every websocket subscriber. Slow subscribers miss events.
func (srv *Server) broadcast(ctx context.Context) {
	defer srv.closeSubscribers()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-srv.streamer.Events():
			if !ok {
				return
			}
			srv.fanout(e)
		}
	}
}

func (srv *Server) fanout(e Event) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for ch := range srv.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (srv *Server) closeSubscribers() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.closed = true
	for ch := range srv.subscribers {
		close(ch)
	}
	srv.subscribers = make(map[chan Event]struct{})
}
