package cluster

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"web/featuremap/logger"
)

var usBounds = KDBounds{MinX: -125.0, MinY: 25.0, MaxX: -65.0, MaxY: 49.0}

func benchmarkLoad(b *testing.B, numPoints int) {
	features := GenerateTestFeatures(numPoints, usBounds, 42)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sc := NewSupercluster(SuperclusterOptions{Radius: 60, MaxZoom: 16, Logger: logger.Discard()})
		sc.Load(features)
	}

	b.StopTimer()
	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
	b.ReportMetric(allocMB/float64(b.N), "MB/op")
}

// benchmarkClustering queries a loaded index the way a viewport settle does
func benchmarkClustering(b *testing.B, numPoints int, zoom int) {
	sc := NewSupercluster(SuperclusterOptions{Radius: 60, MaxZoom: 16, Logger: logger.Discard()})
	sc.Load(GenerateTestFeatures(numPoints, usBounds, 42))
	bbox := BBox{-110, 30, -80, 45}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sc.GetClusters(bbox, float64(zoom))
	}
}

func BenchmarkLoadSmall(b *testing.B)  { benchmarkLoad(b, 1000) }
func BenchmarkLoadMedium(b *testing.B) { benchmarkLoad(b, 10000) }
func BenchmarkLoadLarge(b *testing.B)  { benchmarkLoad(b, 100000) }

func BenchmarkClusteringSmall_LowZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 2)
}

func BenchmarkClusteringSmall_MidZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 8)
}

func BenchmarkClusteringSmall_HighZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 14)
}

func BenchmarkClusteringMedium_LowZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 2)
}

func BenchmarkClusteringMedium_MidZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 8)
}

func BenchmarkClusteringMedium_HighZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 14)
}

func BenchmarkClusteringLarge_LowZoom(b *testing.B) {
	benchmarkClustering(b, 100000, 2)
}

func BenchmarkClusteringLarge_MidZoom(b *testing.B) {
	benchmarkClustering(b, 100000, 8)
}

func BenchmarkClusteringLarge_HighZoom(b *testing.B) {
	benchmarkClustering(b, 100000, 14)
}

// TestProfileClustering prints build and query timings per size and zoom
func TestProfileClustering(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping profile test in short mode")
	}

	pointCounts := []int{1000, 10000, 100000}
	zoomLevels := []int{2, 8, 14}

	fmt.Println("Starting clustering profiling...")
	fmt.Println("=================================")

	for _, numPoints := range pointCounts {
		features := GenerateTestFeatures(numPoints, usBounds, 42)

		start := time.Now()
		sc := NewSupercluster(SuperclusterOptions{Radius: 60, MaxZoom: 16, Logger: logger.Discard()})
		sc.Load(features)
		loadDuration := time.Since(start)
		fmt.Printf("%d points: load %v\n", numPoints, loadDuration)

		for _, zoom := range zoomLevels {
			start := time.Now()
			nodes := sc.GetClusters(BBox{-125, 25, -65, 49}, float64(zoom))
			fmt.Printf("  zoom %2d: %6d nodes in %v\n", zoom, len(nodes), time.Since(start))
		}
		fmt.Println()
	}
}
