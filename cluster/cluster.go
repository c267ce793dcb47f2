// Package cluster is a hierarchical point clustering index: one KD tree per
// zoom level, built bottom-up from the canonical features, answering
// bbox+zoom queries with a mix of aggregate and single-point nodes.
package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"web/featuremap/feature"
	"web/featuremap/logger"
)

var ErrClusterNotFound = errors.New("no cluster with the specified id")

// ClusterNode is one element of a query result: either an aggregate of
// Count > 1 features, or a single feature.
type ClusterNode struct {
	// ID is the cluster id for aggregates and the feature index for single
	// points.
	ID    int
	X, Y  float64 // lng, lat
	Count int
	// Feature is set for single points only.
	Feature *feature.Feature
	Metrics map[string]float64
}

func (c ClusterNode) IsCluster() bool { return c.Feature == nil }

// Supercluster implements the clustering algorithm
type Supercluster struct {
	Trees    []*KDTree // Trees[z] holds the points and clusters visible at zoom z
	Features []feature.Feature
	Pool     *MetricsPool
	Options  SuperclusterOptions
	log      *slog.Logger
}

type SuperclusterOptions struct {
	MinZoom   int
	MaxZoom   int
	MinPoints int
	Radius    float64
	NodeSize  int
	Extent    int
	// Metrics lists numeric property keys summed into every aggregate.
	Metrics []string
	Log     bool
	Logger  *slog.Logger
}

// maxZoomLimit keeps zoom+1 inside the five low bits of a cluster id.
const maxZoomLimit = 30

// NewSupercluster creates a new clustering instance with the specified options.
// It validates and sets default values for the options if not provided.
func NewSupercluster(options SuperclusterOptions) *Supercluster {
	if options.MinZoom < 0 {
		options.MinZoom = 0
	}
	if options.MaxZoom <= 0 {
		options.MaxZoom = 16
	}
	if options.NodeSize <= 0 {
		options.NodeSize = 64
	}
	if options.Extent <= 0 {
		options.Extent = 512
	}
	if options.Radius <= 0 {
		options.Radius = 60
	}
	if options.MinPoints <= 0 {
		options.MinPoints = 2
	}

	if options.MaxZoom > maxZoomLimit {
		options.MaxZoom = maxZoomLimit
	}
	if options.MinZoom > options.MaxZoom {
		options.MinZoom = options.MaxZoom
	}

	log := options.Logger
	if log == nil {
		log = logger.L()
	}
	return &Supercluster{Options: options, log: log}
}

// Load builds the index over features. It is meant to be called once per
// collection; a loaded index is never modified and is safe for concurrent
// queries.
func (sc *Supercluster) Load(features []feature.Feature) {
	start := time.Now()
	sc.Features = features
	sc.Pool = NewMetricsPool()

	points := make([]KDPoint, len(features))
	for i, f := range features {
		p := projectFast(f.Lon(), f.Lat())
		points[i] = KDPoint{
			X:         p[0],
			Y:         p[1],
			ID:        i,
			NumPoints: 1,
			Zoom:      unvisited,
			ParentID:  noParent,
			MetricIdx: sc.featureMetrics(f),
		}
	}

	sc.Trees = make([]*KDTree, sc.Options.MaxZoom+2)
	sc.Trees[sc.Options.MaxZoom+1] = NewKDTree(points, sc.Options.NodeSize)
	for z := sc.Options.MaxZoom; z >= sc.Options.MinZoom; z-- {
		sc.Trees[z] = NewKDTree(sc.cluster(sc.Trees[z+1], z), sc.Options.NodeSize)
		if sc.Options.Log {
			sc.log.Info("cluster_zoom_built", "zoom", z, "nodes", len(sc.Trees[z].Points))
		}
	}

	if sc.Options.Log {
		sc.log.Info("cluster_loaded", "points", len(features), "duration_ms", time.Since(start).Milliseconds())
	}
}

func (sc *Supercluster) featureMetrics(f feature.Feature) int32 {
	if len(sc.Options.Metrics) == 0 {
		return noMetrics
	}
	m := make(map[string]float64, len(sc.Options.Metrics))
	for _, k := range sc.Options.Metrics {
		if v, ok := feature.Number(f.Properties[k]); ok {
			m[k] = v
		}
	}
	return int32(sc.Pool.Add(m))
}

// cluster merges the points of tree (zoom+1) into the point set for zoom.
func (sc *Supercluster) cluster(tree *KDTree, zoom int) []KDPoint {
	r := sc.Options.Radius / (float64(sc.Options.Extent) * math.Pow(2, float64(zoom)))
	data := tree.Points
	next := make([]KDPoint, 0, len(data))

	for i := range data {
		if data[i].Zoom <= zoom {
			continue
		}
		data[i].Zoom = zoom

		p := data[i]
		neighbors := tree.Within(p.X, p.Y, r)

		numPoints := p.NumPoints
		for _, n := range neighbors {
			if data[n].Zoom > zoom {
				numPoints += data[n].NumPoints
			}
		}

		if numPoints > p.NumPoints && numPoints >= sc.Options.MinPoints {
			wx := p.X * float64(p.NumPoints)
			wy := p.Y * float64(p.NumPoints)
			id := (i << 5) + (zoom + 1) + len(sc.Features)

			var sums map[string]float64
			if p.MetricIdx != noMetrics {
				sums = addMetrics(nil, sc.Pool.Get(uint32(p.MetricIdx)))
			}

			for _, n := range neighbors {
				if data[n].Zoom <= zoom {
					continue
				}
				data[n].Zoom = zoom
				w := float64(data[n].NumPoints)
				wx += data[n].X * w
				wy += data[n].Y * w
				data[n].ParentID = id
				if data[n].MetricIdx != noMetrics {
					sums = addMetrics(sums, sc.Pool.Get(uint32(data[n].MetricIdx)))
				}
			}
			data[i].ParentID = id

			metricIdx := noMetrics
			if sums != nil {
				metricIdx = int32(sc.Pool.Add(sums))
			}
			next = append(next, KDPoint{
				X:         wx / float64(numPoints),
				Y:         wy / float64(numPoints),
				ID:        id,
				NumPoints: numPoints,
				Zoom:      unvisited,
				ParentID:  noParent,
				MetricIdx: metricIdx,
			})
			continue
		}

		next = append(next, data[i])
		if numPoints > 1 {
			for _, n := range neighbors {
				if data[n].Zoom <= zoom {
					continue
				}
				data[n].Zoom = zoom
				next = append(next, data[n])
			}
		}
	}
	return next
}

func addMetrics(dst, src map[string]float64) map[string]float64 {
	if dst == nil {
		dst = make(map[string]float64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// BBox is [west, south, east, north] in degrees.
type BBox [4]float64

var WorldBBox = BBox{-180, -90, 180, 90}

// GetClusters returns the nodes visible inside bbox at zoom. Zoom is floored
// and clamped to the index range; callers wanting round-to-nearest round
// first. A bbox crossing the antimeridian is split in two.
func (sc *Supercluster) GetClusters(bbox BBox, zoom float64) []ClusterNode {
	if len(sc.Trees) == 0 {
		return nil
	}
	minLng := math.Mod(math.Mod(bbox[0]+180, 360)+360, 360) - 180
	minLat := math.Max(-90, math.Min(90, bbox[1]))
	maxLng := 180.0
	if bbox[2] != 180 {
		maxLng = math.Mod(math.Mod(bbox[2]+180, 360)+360, 360) - 180
	}
	maxLat := math.Max(-90, math.Min(90, bbox[3]))

	if bbox[2]-bbox[0] >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := sc.GetClusters(BBox{minLng, minLat, 180, maxLat}, zoom)
		west := sc.GetClusters(BBox{-180, minLat, maxLng, maxLat}, zoom)
		return append(east, west...)
	}

	tree := sc.Trees[sc.limitZoom(zoom)]
	if tree == nil {
		return nil
	}
	lo := projectFast(minLng, maxLat)
	hi := projectFast(maxLng, minLat)
	ids := tree.Range(lo[0], lo[1], hi[0], hi[1])

	out := make([]ClusterNode, 0, len(ids))
	for _, i := range ids {
		out = append(out, sc.node(tree.Points[i]))
	}
	if sc.Options.Log {
		sc.log.Info("cluster_query", "zoom", zoom, "bbox", bbox, "nodes", len(out))
	}
	return out
}

func (sc *Supercluster) node(p KDPoint) ClusterNode {
	var metrics map[string]float64
	if p.MetricIdx != noMetrics {
		metrics = sc.Pool.Get(uint32(p.MetricIdx))
	}
	if p.NumPoints > 1 {
		ll := unprojectFast(p.X, p.Y)
		return ClusterNode{ID: p.ID, X: ll[0], Y: ll[1], Count: p.NumPoints, Metrics: metrics}
	}
	f := &sc.Features[p.ID]
	return ClusterNode{ID: p.ID, X: f.Lon(), Y: f.Lat(), Count: 1, Feature: f, Metrics: metrics}
}

func (sc *Supercluster) limitZoom(z float64) int {
	zi := int(math.Floor(z))
	if math.IsNaN(z) || zi < sc.Options.MinZoom {
		return sc.Options.MinZoom
	}
	if zi > sc.Options.MaxZoom+1 {
		return sc.Options.MaxZoom + 1
	}
	return zi
}

func (sc *Supercluster) originZoom(clusterID int) int {
	return (clusterID - len(sc.Features)) % 32
}

func (sc *Supercluster) originIdx(clusterID int) int {
	return (clusterID - len(sc.Features)) >> 5
}

// GetChildren returns the nodes one zoom level below a cluster.
func (sc *Supercluster) GetChildren(clusterID int) ([]ClusterNode, error) {
	if clusterID < len(sc.Features) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	originZoom := sc.originZoom(clusterID)
	originIdx := sc.originIdx(clusterID)
	if originZoom < 1 || originZoom >= len(sc.Trees) || sc.Trees[originZoom] == nil {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	tree := sc.Trees[originZoom]
	if originIdx >= len(tree.Points) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}

	r := sc.Options.Radius / (float64(sc.Options.Extent) * math.Pow(2, float64(originZoom-1)))
	origin := tree.Points[originIdx]

	var children []ClusterNode
	for _, i := range tree.Within(origin.X, origin.Y, r) {
		if tree.Points[i].ParentID == clusterID {
			children = append(children, sc.node(tree.Points[i]))
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	return children, nil
}

// GetLeaves pages through the single features under a cluster. A limit of
// zero means 10; a negative limit returns everything after offset.
func (sc *Supercluster) GetLeaves(clusterID, limit, offset int) ([]feature.Feature, error) {
	if limit == 0 {
		limit = 10
	}
	var leaves []feature.Feature
	if _, err := sc.appendLeaves(&leaves, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (sc *Supercluster) appendLeaves(out *[]feature.Feature, clusterID, limit, offset, skipped int) (int, error) {
	children, err := sc.GetChildren(clusterID)
	if err != nil {
		return skipped, err
	}
	for _, c := range children {
		if c.IsCluster() {
			if skipped+c.Count <= offset {
				skipped += c.Count
			} else if skipped, err = sc.appendLeaves(out, c.ID, limit, offset, skipped); err != nil {
				return skipped, err
			}
		} else if skipped < offset {
			skipped++
		} else {
			*out = append(*out, *c.Feature)
		}
		if limit > 0 && len(*out) == limit {
			break
		}
	}
	return skipped, nil
}

// GetClusterExpansionZoom is the zoom at which a cluster splits into more
// than one node.
func (sc *Supercluster) GetClusterExpansionZoom(clusterID int) (int, error) {
	zoom := sc.originZoom(clusterID) - 1
	for zoom <= sc.Options.MaxZoom {
		children, err := sc.GetChildren(clusterID)
		if err != nil {
			return 0, err
		}
		zoom++
		if len(children) != 1 {
			break
		}
		if !children[0].IsCluster() {
			break
		}
		clusterID = children[0].ID
	}
	return zoom, nil
}

// projectFast maps lng/lat into the unit square (web mercator, y down).
func projectFast(lng, lat float64) [2]float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		y = 0
	} else if y > 1 {
		y = 1
	}
	return [2]float64{lng/360 + 0.5, y}
}

// unprojectFast is the inverse of projectFast.
func unprojectFast(x, y float64) [2]float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return [2]float64{(x - 0.5) * 360, 360*math.Atan(math.Exp(y2))/math.Pi - 90}
}

type MetricsPool struct {
	Metrics []map[string]float64
	Lookup  map[string]int // For deduplication
	mu      sync.RWMutex   // Protect concurrent access
}

func NewMetricsPool() *MetricsPool {
	return &MetricsPool{
		Metrics: make([]map[string]float64, 0),
		Lookup:  make(map[string]int),
	}
}

// Add inserts metrics into the pool and returns the index
func (mp *MetricsPool) Add(metrics map[string]float64) uint32 {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := metricsKey(metrics)
	if idx, exists := mp.Lookup[key]; exists {
		return uint32(idx)
	}

	idx := len(mp.Metrics)
	metricsCopy := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		metricsCopy[k] = v
	}

	mp.Metrics = append(mp.Metrics, metricsCopy)
	mp.Lookup[key] = idx

	return uint32(idx)
}

// Get retrieves metrics by index
func (mp *MetricsPool) Get(idx uint32) map[string]float64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if int(idx) >= len(mp.Metrics) {
		return nil
	}
	return mp.Metrics[idx]
}

func metricsKey(metrics map[string]float64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%g;", k, metrics[k])
	}
	return b.String()
}
