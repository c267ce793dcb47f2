// Command fetch drains the configured feed once and prints what the map
// would show: counts, the analytics summary and the first list rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"web/featuremap/config"
	"web/featuremap/feature"
	"web/featuremap/feed"
	"web/featuremap/logger"
	"web/featuremap/pipeline"
)

func main() {
	cfg := config.Load()

	url := flag.String("url", cfg.APIURL, "feed base URL (FEED_API_URL)")
	key := flag.String("key", cfg.APIKey, "api key (FEED_API_KEY)")
	timeout := flag.Duration("timeout", cfg.FetchTimeout, "per-page timeout")
	maxPages := flag.Int("max-pages", cfg.MaxPages, "abort after this many pages, 0 for no limit")
	query := flag.String("query", "", "filter applied before summarising")
	rows := flag.Int("rows", 10, "list rows to print")
	out := flag.String("out", "", "write the collection as zstd GeoJSON to this file")
	flag.Parse()

	log := logger.Setup()
	cfg.APIURL, cfg.APIKey = *url, *key
	start, err := cfg.FeedURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fetcher := feed.New(feed.Options{Timeout: *timeout, MaxPages: *maxPages, Logger: log}, nil)
	p := pipeline.New(fetcher, pipeline.Options{
		URL:        start,
		Normalizer: feature.Normalizer{AcceptZeroLatLon: cfg.AcceptZeroCoords},
		Logger:     log,
	})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := p.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
		os.Exit(1)
	}
	if *query != "" {
		p.ApplyQuery(*query)
	}

	st := p.Status()
	fmt.Printf("cycle %s: %d features, %d after filter\n", st.CycleID, st.Total, st.Filtered)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(p.Snapshot().Summary)

	list, _ := p.Rows(0, *rows)
	for _, r := range list {
		fmt.Printf("%-24s %-22s %s\n", r.Title, r.Coords, r.Summary)
	}

	if *out != "" {
		if err := writeExport(*out, p.Snapshot().Collection); err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *out)
	}
}

func writeExport(path string, coll *feature.Collection) error {
	body, err := coll.GeoJSON().MarshalJSON()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
