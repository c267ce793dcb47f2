// Package viewport keeps the live map source in step with the cluster index:
// it re-queries on index changes right away and on viewport settle events
// after a quiet period.
package viewport

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"web/featuremap/cluster"
	"web/featuremap/debounce"
	"web/featuremap/logger"
	"web/featuremap/metrics"
)

type Viewport struct {
	BBox cluster.BBox `json:"bbox"`
	Zoom float64      `json:"zoom"`
}

// Default is used until the map reports its first viewport.
var Default = Viewport{BBox: cluster.WorldBBox, Zoom: 5}

// QueryZoom rounds to the nearest integer zoom, halves up.
func (v Viewport) QueryZoom() float64 { return math.Floor(v.Zoom + 0.5) }

type Index interface {
	GetClusters(bbox cluster.BBox, zoom float64) []cluster.ClusterNode
}

// Sink is the map surface's named live data source.
type Sink interface {
	SetData(ctx context.Context, source string, fc *geojson.FeatureCollection) error
}

type SinkFunc func(ctx context.Context, source string, fc *geojson.FeatureCollection) error

func (f SinkFunc) SetData(ctx context.Context, source string, fc *geojson.FeatureCollection) error {
	return f(ctx, source, fc)
}

type State int

const (
	Uninitialized State = iota
	Ready
	Synced
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Synced:
		return "synced"
	}
	return "uninitialized"
}

type Options struct {
	Source   string
	Debounce time.Duration
	// PushTimeout bounds a single SetData call. Zero means no bound.
	PushTimeout time.Duration
	Logger      *slog.Logger
	AfterFunc   debounce.AfterFunc
}

type Controller struct {
	mu      sync.Mutex
	index   Index
	sink    Sink
	current Viewport
	state   State
	gen     uint64

	// queryMu serializes query+push so results reach the sink in order.
	queryMu sync.Mutex

	opts   Options
	settle *debounce.Debouncer[Viewport]
	log    *slog.Logger
}

func NewController(sink Sink, opts Options) *Controller {
	if opts.Source == "" {
		opts.Source = "feature-points"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	c := &Controller{sink: sink, current: Default, opts: opts, log: log}

	var dopts []debounce.Option
	if opts.AfterFunc != nil {
		dopts = append(dopts, debounce.WithAfterFunc(opts.AfterFunc))
	}
	c.settle = debounce.New(opts.Debounce, c.query, dopts...)
	return c
}

// SetIndex swaps the index. A non-nil index is queried against the current
// viewport immediately; nil returns the controller to Uninitialized.
func (c *Controller) SetIndex(idx Index) {
	c.mu.Lock()
	c.index = idx
	c.gen++
	if idx == nil {
		c.state = Uninitialized
		c.mu.Unlock()
		return
	}
	c.state = Ready
	v := c.current
	c.mu.Unlock()

	c.query(v)
}

// OnSettle records the viewport and schedules a re-query. Bursts within the
// quiet period collapse into one query using the last viewport.
func (c *Controller) OnSettle(v Viewport) {
	c.mu.Lock()
	c.current = v
	c.mu.Unlock()
	c.settle.Trigger(v)
}

// Resync re-queries the current viewport without waiting.
func (c *Controller) Resync() {
	c.mu.Lock()
	v := c.current
	c.mu.Unlock()
	c.query(v)
}

func (c *Controller) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels a pending settle query.
func (c *Controller) Close() {
	c.settle.Close()
}

// query never returns an error: failures are logged and counted, and the
// display keeps its previous data until the next settle.
func (c *Controller) query(v Viewport) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	c.mu.Lock()
	idx, sink, gen := c.index, c.sink, c.gen
	c.mu.Unlock()
	if idx == nil || sink == nil {
		c.log.Debug("viewport_query_skipped", "has_index", idx != nil, "has_sink", sink != nil)
		return
	}

	start := time.Now()
	fc, err := c.run(idx, sink, v)
	if err != nil {
		metrics.ClusterQueryErrorsTotal.Inc()
		c.log.Warn("cluster_query_error", "err", err, "bbox", v.BBox, "zoom", v.Zoom)
		return
	}
	metrics.ClusterQueriesTotal.Inc()
	c.log.Debug("cluster_query", "bbox", v.BBox, "zoom", v.QueryZoom(), "nodes", len(fc.Features), "duration_ms", time.Since(start).Milliseconds())

	c.mu.Lock()
	if c.gen == gen {
		c.state = Synced
	}
	c.mu.Unlock()
}

func (c *Controller) run(idx Index, sink Sink, v Viewport) (fc *geojson.FeatureCollection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	fc = cluster.FeatureCollection(idx.GetClusters(v.BBox, v.QueryZoom()))

	ctx := context.Background()
	if c.opts.PushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PushTimeout)
		defer cancel()
	}
	if err := sink.SetData(ctx, c.opts.Source, fc); err != nil {
		return nil, fmt.Errorf("push to %s: %w", c.opts.Source, err)
	}
	return fc, nil
}
