package cluster

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/featuremap/feature"
)

// ToGeoJSON runs GetClusters and converts the result.
func (sc *Supercluster) ToGeoJSON(bbox BBox, zoom float64) *geojson.FeatureCollection {
	return FeatureCollection(sc.GetClusters(bbox, zoom))
}

// FeatureCollection converts query nodes to GeoJSON. Single points come out
// as their original feature; aggregates carry cluster, cluster_id,
// point_count, point_count_abbreviated and one sum_<key> per rolled-up metric.
func FeatureCollection(nodes []ClusterNode) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(nodes))
	for _, n := range nodes {
		if !n.IsCluster() {
			fc.Append(n.Feature.GeoJSON())
			continue
		}
		gf := geojson.NewFeature(orb.Point{n.X, n.Y})
		gf.ID = n.ID
		gf.Properties["cluster"] = true
		gf.Properties["cluster_id"] = n.ID
		gf.Properties["point_count"] = n.Count
		gf.Properties["point_count_abbreviated"] = Abbreviate(n.Count)
		for k, v := range n.Metrics {
			gf.Properties["sum_"+k] = v
		}
		fc.Append(gf)
	}
	return fc
}

// Abbreviate shortens large point counts for map labels: 1234 -> "1.2k",
// 15300 -> "15k". Counts below 1000 stay numeric.
func Abbreviate(count int) interface{} {
	switch {
	case count >= 10000:
		return fmt.Sprintf("%dk", int(math.Round(float64(count)/1000)))
	case count >= 1000:
		return fmt.Sprintf("%sk", feature.Stringify(math.Round(float64(count)/100)/10))
	}
	return count
}

type ViewSummary struct {
	TotalPoints     int                    `json:"totalPoints"`
	NumClusters     int                    `json:"numClusters"`
	NumSinglePoints int                    `json:"numSinglePoints"`
	MetricsSummary  map[string]MetricStats `json:"metricsSummary"`
}

type MetricStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
}

// CalculateViewSummary totals a query result. Metric min and max are taken
// over nodes; the average is per underlying feature.
func CalculateViewSummary(nodes []ClusterNode) ViewSummary {
	summary := ViewSummary{MetricsSummary: make(map[string]MetricStats)}
	if len(nodes) == 0 {
		return summary
	}

	seen := make(map[string]bool)
	for _, n := range nodes {
		if n.IsCluster() {
			summary.NumClusters++
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += n.Count

		for name, value := range n.Metrics {
			stats := summary.MetricsSummary[name]
			if !seen[name] {
				stats.Min, stats.Max = value, value
				seen[name] = true
			} else {
				stats.Min = math.Min(stats.Min, value)
				stats.Max = math.Max(stats.Max, value)
			}
			stats.Sum += value
			summary.MetricsSummary[name] = stats
		}
	}

	for name, stats := range summary.MetricsSummary {
		stats.Average = stats.Sum / float64(summary.TotalPoints)
		summary.MetricsSummary[name] = stats
	}
	return summary
}

// GenerateTestFeatures scatters n features uniformly over bounds (lng on X,
// lat on Y). The same seed always yields the same features.
func GenerateTestFeatures(n int, bounds KDBounds, seed int64) []feature.Feature {
	r := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	categories := []string{"A", "B", "C"}

	out := make([]feature.Feature, n)
	for i := 0; i < n; i++ {
		x := bounds.MinX + r.Float64()*(bounds.MaxX-bounds.MinX)
		y := bounds.MinY + r.Float64()*(bounds.MaxY-bounds.MinY)
		out[i] = feature.Feature{
			ID:          fmt.Sprintf("test-%d", i+1),
			Coordinates: orb.Point{x, y},
			Properties: map[string]interface{}{
				"category":  categories[r.Intn(len(categories))],
				"value":     math.Round(r.Float64()*10000) / 100,
				"sales":     math.Round(r.Float64() * 1000),
				"customers": float64(r.Intn(100)),
				"date":      base.Add(time.Duration(r.Intn(30*24)) * time.Hour).Format(time.RFC3339),
			},
			Keys: []string{"category", "value", "sales", "customers", "date"},
			Kind: feature.LatLonFlat,
		}
	}
	return out
}
