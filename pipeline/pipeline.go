// Package pipeline owns the loaded feature set and everything derived from
// it. Each fetch cycle builds a new State and swaps it in whole; readers get
// an immutable snapshot.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"web/featuremap/analytics"
	"web/featuremap/cluster"
	"web/featuremap/debounce"
	"web/featuremap/feature"
	"web/featuremap/live"
	"web/featuremap/logger"
	"web/featuremap/metrics"
	"web/featuremap/search"
	"web/featuremap/viewport"
)

var (
	ErrNotLoaded       = errors.New("no features loaded")
	ErrFeatureNotFound = errors.New("feature not found")
	ErrClosed          = errors.New("pipeline closed")
)

// Source drains the upstream feed.
type Source interface {
	FetchAll(ctx context.Context, startURL string) ([]feature.RawRecord, error)
}

// Publisher pushes side-channel messages (camera, selection) to the map.
type Publisher interface {
	Publish(ctx context.Context, msg live.Message) error
}

// State is one consistent view of the data. Never modified after it is
// published.
type State struct {
	Collection *feature.Collection
	Index      *cluster.Supercluster
	Search     *search.Index
	Query      string
	Filtered   []feature.Feature
	Summary    analytics.Summary
}

type Status struct {
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	Total     int        `json:"total"`
	Filtered  int        `json:"filtered"`
	Query     string     `json:"query"`
	Selected  bool       `json:"selected"`
	CycleID   string     `json:"cycleId,omitempty"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
	Viewport  string     `json:"viewport"`
}

type Options struct {
	URL        string
	Normalizer feature.Normalizer
	Cluster    cluster.SuperclusterOptions
	Analytics  analytics.Options
	// SearchDebounce is the quiet period before a typed query is applied.
	SearchDebounce time.Duration
	Viewport       viewport.Options
	Sink           viewport.Sink
	Publisher      Publisher
	AfterFunc      debounce.AfterFunc
	Logger         *slog.Logger
}

type Pipeline struct {
	source Source
	opts   Options
	log    *slog.Logger

	mu        sync.RWMutex
	state     *State
	loading   bool
	lastErr   string
	selection *Selection
	closed    bool

	// updateMu orders writers; readers only take mu.
	updateMu sync.Mutex
	group    singleflight.Group
	// ctx scopes fetch cycles; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	viewport *viewport.Controller
	search   *debounce.Debouncer[string]
}

func New(source Source, opts Options) *Pipeline {
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = 300 * time.Millisecond
	}
	if opts.Analytics.DateKeys == nil {
		opts.Analytics = analytics.DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	if opts.Viewport.Logger == nil {
		opts.Viewport.Logger = log
	}
	if opts.Viewport.AfterFunc == nil {
		opts.Viewport.AfterFunc = opts.AfterFunc
	}
	if opts.Cluster.Logger == nil {
		opts.Cluster.Logger = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		ctx:      ctx,
		cancel:   cancel,
		source:   source,
		opts:     opts,
		log:      log,
		state:    &State{},
		viewport: viewport.NewController(opts.Sink, opts.Viewport),
	}
	var dopts []debounce.Option
	if opts.AfterFunc != nil {
		dopts = append(dopts, debounce.WithAfterFunc(opts.AfterFunc))
	}
	p.search = debounce.New(opts.SearchDebounce, func(q string) { p.ApplyQuery(q) }, dopts...)
	return p
}

// Refresh runs one fetch cycle. Concurrent calls share the cycle in flight.
// The cycle runs on the pipeline's own context, so ctx only bounds how long
// this caller waits; only Close cancels the fetch. On failure the previously
// loaded state is kept and the error is recorded for Status.
func (p *Pipeline) Refresh(ctx context.Context) error {
	ch := p.group.DoChan("refresh", func() (interface{}, error) {
		return nil, p.refresh(p.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.loading = true
	p.lastErr = ""
	p.mu.Unlock()

	start := time.Now()
	p.log.Info("fetch_cycle_start", "url", p.opts.URL)
	raws, err := p.source.FetchAll(ctx, p.opts.URL)
	if err != nil {
		metrics.FetchCyclesTotal.WithLabelValues("error").Inc()
		p.log.Error("fetch_cycle_error", "err", err, "duration_ms", time.Since(start).Milliseconds())
		p.mu.Lock()
		p.loading = false
		closed := p.closed
		if !closed {
			p.lastErr = err.Error()
		}
		p.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return err
	}

	features := p.opts.Normalizer.NormalizeAll(raws)
	coll := feature.NewCollection(features)

	buildStart := time.Now()
	idx := cluster.NewSupercluster(p.opts.Cluster)
	idx.Load(features)
	metrics.IndexBuildsTotal.Inc()
	metrics.IndexBuildDurationMs.Observe(float64(time.Since(buildStart).Milliseconds()))

	p.updateMu.Lock()
	p.mu.Lock()
	query, closed := p.state.Query, p.closed
	if closed {
		p.loading = false
	}
	p.mu.Unlock()
	if closed {
		p.updateMu.Unlock()
		metrics.FetchCyclesTotal.WithLabelValues("discarded").Inc()
		p.log.Info("fetch_cycle_discarded", "items", len(features))
		return ErrClosed
	}

	next := derive(&State{Collection: coll, Index: idx, Search: search.NewIndex(features)}, query, p.opts.Analytics)

	p.mu.Lock()
	p.state = next
	p.loading = false
	p.lastErr = ""
	p.mu.Unlock()
	p.updateMu.Unlock()

	metrics.FetchCyclesTotal.WithLabelValues("ok").Inc()
	metrics.FeaturesLoaded.Set(float64(len(features)))
	p.log.Info("fetch_cycle_done",
		"cycle", coll.ID.String(),
		"raw", len(raws),
		"features", len(features),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	p.viewport.SetIndex(idx)
	return nil
}

// derive fills the query-dependent fields of a new state.
func derive(base *State, query string, opts analytics.Options) *State {
	next := *base
	next.Query = query
	if next.Search != nil {
		next.Filtered = next.Search.Filter(query)
	}
	next.Summary = analytics.Summarize(next.Filtered, opts)
	return &next
}

// Records is a Source serving a fixed set of records, for the fetch CLI and
// tests.
type Records []feature.RawRecord

func (r Records) FetchAll(ctx context.Context, startURL string) ([]feature.RawRecord, error) {
	return r, ctx.Err()
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() *State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		Loading:  p.loading,
		Error:    p.lastErr,
		Total:    p.state.Collection.Len(),
		Filtered: len(p.state.Filtered),
		Query:    p.state.Query,
		Selected: p.selection != nil,
		Viewport: p.viewport.State().String(),
	}
	if c := p.state.Collection; c != nil {
		st.CycleID = c.ID.String()
		fetched := c.FetchedAt
		st.FetchedAt = &fetched
	}
	return st
}

// CycleID identifies the loaded collection. uuid.Nil before the first load.
func (p *Pipeline) CycleID() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state.Collection == nil {
		return uuid.Nil
	}
	return p.state.Collection.ID
}

// SetQuery schedules a query change after the search quiet period.
func (p *Pipeline) SetQuery(query string) {
	p.search.Trigger(query)
}

// ApplyQuery filters the loaded set and recomputes the summary now,
// dropping any query still waiting in the debouncer.
func (p *Pipeline) ApplyQuery(query string) {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	p.mu.RLock()
	cur, closed := p.state, p.closed
	p.mu.RUnlock()
	if closed {
		return
	}
	next := derive(cur, query, p.opts.Analytics)

	p.mu.Lock()
	p.state = next
	p.mu.Unlock()
	p.log.Debug("query_applied", "query", query, "filtered", len(next.Filtered))
}

// OnSettle forwards a viewport settle event to the controller.
func (p *Pipeline) OnSettle(v viewport.Viewport) {
	p.viewport.OnSettle(v)
}

func (p *Pipeline) Viewport() *viewport.Controller { return p.viewport }

// Close stops the debouncers and cancels a fetch cycle still in flight. Its
// result, if any arrives, is discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.search.Close()
	p.viewport.Close()
}
