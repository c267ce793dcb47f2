package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"web/featuremap/analytics"
	"web/featuremap/api"
	"web/featuremap/cluster"
	"web/featuremap/config"
	"web/featuremap/feature"
	"web/featuremap/feed"
	"web/featuremap/live"
	"web/featuremap/logger"
	"web/featuremap/pipeline"
	"web/featuremap/runner"
	"web/featuremap/viewport"
)

func main() {
	cfg := config.Load()
	log := logger.Setup()

	feedURL, err := cfg.FeedURL()
	if err != nil {
		log.Warn("feed_not_configured", "err", err)
	}

	fetcher := feed.New(feed.Options{
		Timeout:  cfg.FetchTimeout,
		MaxPages: cfg.MaxPages,
		Logger:   log,
	}, nil)

	hub := live.NewHub(live.Options{Logger: log})

	summary := analytics.DefaultOptions()
	summary.DateKeys = cfg.DateKeys

	p := pipeline.New(fetcher, pipeline.Options{
		URL:        feedURL,
		Normalizer: feature.Normalizer{AcceptZeroLatLon: cfg.AcceptZeroCoords},
		Cluster: cluster.SuperclusterOptions{
			Radius:  cfg.ClusterRadius,
			MaxZoom: cfg.ClusterMaxZoom,
		},
		Analytics:      summary,
		SearchDebounce: cfg.SearchDebounce,
		Viewport: viewport.Options{
			Source:   cfg.SourceName,
			Debounce: cfg.ViewportDebounce,
		},
		Sink:      hub,
		Publisher: hub,
		Logger:    log,
	})
	hub.SetHandler(api.EventHandler(p, log))

	server := api.NewServer(p, hub, api.Options{
		StylePath:  cfg.MapStylePath,
		SourceName: cfg.SourceName,
		Logger:     log,
	})

	refresher, err := runner.NewRefreshRunner(p, cfg.RefreshCron, log)
	if err != nil {
		log.Error("invalid_refresh_schedule", "spec", cfg.RefreshCron, "err", err)
		os.Exit(1)
	}

	if feedURL != "" {
		go func() {
			if err := refresher.RunOnce(context.Background()); err != nil {
				log.Error("initial_load_failed", "err", err)
			}
		}()
		refresher.Start()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("server_start", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_error", "err", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("server_shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := refresher.Stop(ctx); err != nil {
		log.Warn("refresh_stop_timeout", "err", err)
	}
	p.Close()
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server_shutdown_error", "err", err)
	}
	log.Info("server_stopped")
}
