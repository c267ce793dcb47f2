package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/featuremap/cluster"
	"web/featuremap/logger"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numPoints   = flag.Int("points", 100000, "number of points to generate")
	zoomLevel   = flag.Int("zoom", 8, "zoom level to profile")
	radius      = flag.Float64("radius", 60, "cluster radius")
	testall     = flag.Bool("testall", false, "test all configurations")
)

// Continental US, the same area the benchmarks use.
var usBounds = cluster.KDBounds{MinX: -125.0, MinY: 25.0, MaxX: -65.0, MaxY: 49.0}

type result struct {
	build, query time.Duration
	nodes        int
	allocMB      float64
	gcRuns       uint32
}

func profile(numPoints, zoom int) result {
	features := cluster.GenerateTestFeatures(numPoints, usBounds, 42)
	sc := cluster.NewSupercluster(cluster.SuperclusterOptions{
		MaxZoom: 16,
		Radius:  *radius,
		Metrics: []string{"value"},
		Logger:  logger.Discard(),
	})

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	start := time.Now()
	sc.Load(features)
	build := time.Since(start)

	start = time.Now()
	nodes := sc.GetClusters(cluster.BBox{usBounds.MinX, usBounds.MinY, usBounds.MaxX, usBounds.MaxY}, float64(zoom))
	query := time.Since(start)

	runtime.ReadMemStats(&after)
	return result{
		build:   build,
		query:   query,
		nodes:   len(nodes),
		allocMB: float64(after.TotalAlloc-before.TotalAlloc) / 1024 / 1024,
		gcRuns:  after.NumGC - before.NumGC,
	}
}

func runSingleProfile(numPoints, zoom int) {
	fmt.Printf("Profiling with %d points at zoom level %d\n", numPoints, zoom)
	r := profile(numPoints, zoom)
	fmt.Printf("Index built in %v\n", r.build)
	fmt.Printf("Query returned %d nodes in %v\n", r.nodes, r.query)
	fmt.Printf("Memory allocated: %.2f MB\n", r.allocMB)
}

func runProfileBattery() {
	pointCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{2, 5, 8, 12, 15}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-6s | %-15s | %-15s | %-8s | %-11s | %-7s\n",
		"Points", "Zoom", "Build", "Query", "Nodes", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "--------------------------------------------------------------------------------")

	for _, points := range pointCounts {
		for _, zoom := range zoomLevels {
			r := profile(points, zoom)
			fmt.Printf("%-10d | %-6d | %-15s | %-15s | %-8d | %-11.2f | %-7d\n",
				points, zoom, r.build, r.query, r.nodes, r.allocMB, r.gcRuns)
		}
		fmt.Printf("%s\n", "--------------------------------------------------------------------------------")
	}
}

// startCPUProfile begins CPU profiling into path. The returned func stops
// it and closes the file.
func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}

// writeHeapProfile dumps the heap profile to path, after a GC when gc is set
// so the numbers are current.
func writeHeapProfile(path string, gc bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if gc {
		runtime.GC()
	}
	return pprof.Lookup("heap").WriteTo(f, 0)
}

func main() {
	flag.Parse()
	log := logger.Setup()

	if *cpuprofile != "" {
		stop, err := startCPUProfile(*cpuprofile)
		if err != nil {
			log.Error("cpu_profile_failed", "path", *cpuprofile, "err", err)
			os.Exit(1)
		}
		defer stop()
		log.Info("cpu_profile_started", "path", *cpuprofile)
	}

	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numPoints, *zoomLevel)
	}

	if *memprofile != "" {
		if err := writeHeapProfile(*memprofile, true); err != nil {
			log.Error("mem_profile_failed", "path", *memprofile, "err", err)
		}
	}
	if *heapprofile != "" {
		if err := writeHeapProfile(*heapprofile, false); err != nil {
			log.Error("heap_profile_failed", "path", *heapprofile, "err", err)
		}
	}
}
