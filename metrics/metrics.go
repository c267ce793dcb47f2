// Package metrics holds the prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedPagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_feed_pages_total",
		Help: "Total number of upstream pages fetched",
	})
	FeedItemsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_feed_items_total",
		Help: "Total number of raw records received from upstream",
	})
	FeedFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_feed_fail_total",
		Help: "Total number of failed page requests",
	})
	FeedPageDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "featuremap_feed_page_duration_ms",
		Help:    "Upstream page request duration in milliseconds",
		Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 5000, 20000},
	})
	FetchCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "featuremap_fetch_cycles_total",
		Help: "Fetch cycles by outcome",
	}, []string{"outcome"})
	FeaturesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "featuremap_features_loaded",
		Help: "Number of canonical features in the current collection",
	})
	IndexBuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_index_builds_total",
		Help: "Total number of cluster index builds",
	})
	IndexBuildDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "featuremap_index_build_duration_ms",
		Help:    "Cluster index build duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})
	ClusterQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_cluster_queries_total",
		Help: "Total number of viewport cluster queries",
	})
	ClusterQueryErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "featuremap_cluster_query_errors_total",
		Help: "Cluster query or display push failures",
	})
	LivePushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "featuremap_live_pushes_total",
		Help: "Messages pushed to live clients by type",
	}, []string{"type"})
	LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "featuremap_live_clients",
		Help: "Connected websocket clients",
	})
)

func init() {
	prometheus.MustRegister(FeedPagesTotal)
	prometheus.MustRegister(FeedItemsTotal)
	prometheus.MustRegister(FeedFailTotal)
	prometheus.MustRegister(FeedPageDurationMs)
	prometheus.MustRegister(FetchCyclesTotal)
	prometheus.MustRegister(FeaturesLoaded)
	prometheus.MustRegister(IndexBuildsTotal)
	prometheus.MustRegister(IndexBuildDurationMs)
	prometheus.MustRegister(ClusterQueriesTotal)
	prometheus.MustRegister(ClusterQueryErrorsTotal)
	prometheus.MustRegister(LivePushesTotal)
	prometheus.MustRegister(LiveClients)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
