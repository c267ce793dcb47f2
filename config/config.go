// Package config reads runtime settings from .env and the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"web/featuremap/feed"
)

type Config struct {
	APIURL       string
	APIKey       string
	FetchTimeout time.Duration
	MaxPages     int
	RefreshCron  string

	Addr         string
	MapStylePath string
	SourceName   string

	ClusterRadius  float64
	ClusterMaxZoom int

	SearchDebounce   time.Duration
	ViewportDebounce time.Duration

	AcceptZeroCoords bool
	DateKeys         []string
}

// Load reads .env (if present) and then the environment. Missing or
// malformed values fall back to defaults.
func Load() Config {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		APIURL:           os.Getenv("FEED_API_URL"),
		APIKey:           os.Getenv("FEED_API_KEY"),
		FetchTimeout:     envDuration("FEED_TIMEOUT", 20*time.Second),
		MaxPages:         envInt("FEED_MAX_PAGES", 0),
		RefreshCron:      os.Getenv("FEED_REFRESH_CRON"),
		Addr:             envString("ADDR", ":8000"),
		MapStylePath:     os.Getenv("MAP_STYLE_PATH"),
		SourceName:       envString("MAP_SOURCE_NAME", "feature-points"),
		ClusterRadius:    envFloat("CLUSTER_RADIUS", 60),
		ClusterMaxZoom:   envInt("CLUSTER_MAX_ZOOM", 16),
		SearchDebounce:   envDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		ViewportDebounce: envDuration("VIEWPORT_DEBOUNCE", 300*time.Millisecond),
		AcceptZeroCoords: os.Getenv("NORMALIZE_ZERO_COORDS") == "true",
		DateKeys:         envList("SUMMARY_DATE_KEYS", []string{"date", "created_at", "timestamp"}),
	}
}

// FeedURL is the first page of the upstream feed: the base URL with the
// api_key query parameter attached.
func (c Config) FeedURL() (string, error) {
	if c.APIURL == "" {
		return "", errors.New("FEED_API_URL is not set")
	}
	return feed.BuildURL(c.APIURL, c.APIKey)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
