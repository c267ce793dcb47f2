package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"FEED_API_URL", "FEED_API_KEY", "FEED_TIMEOUT", "FEED_MAX_PAGES", "ADDR",
		"CLUSTER_RADIUS", "CLUSTER_MAX_ZOOM", "SEARCH_DEBOUNCE", "VIEWPORT_DEBOUNCE", "SUMMARY_DATE_KEYS",
		"NORMALIZE_ZERO_COORDS", "MAP_SOURCE_NAME"} {
		t.Setenv(k, "")
	}
	c := FromEnv()

	if c.FetchTimeout != 20*time.Second {
		t.Errorf("expected 20s timeout, got %v", c.FetchTimeout)
	}
	if c.MaxPages != 0 {
		t.Errorf("expected unbounded pages, got %d", c.MaxPages)
	}
	if c.Addr != ":8000" {
		t.Errorf("expected :8000, got %s", c.Addr)
	}
	if c.ClusterRadius != 60 || c.ClusterMaxZoom != 16 {
		t.Errorf("unexpected cluster config %v/%d", c.ClusterRadius, c.ClusterMaxZoom)
	}
	if c.SearchDebounce != 300*time.Millisecond || c.ViewportDebounce != 300*time.Millisecond {
		t.Errorf("unexpected debounce %v/%v", c.SearchDebounce, c.ViewportDebounce)
	}
	if len(c.DateKeys) != 3 || c.DateKeys[0] != "date" {
		t.Errorf("unexpected date keys %v", c.DateKeys)
	}
	if c.AcceptZeroCoords {
		t.Error("zero coordinates should keep the legacy behaviour by default")
	}
	if c.SourceName != "feature-points" {
		t.Errorf("unexpected source name %q", c.SourceName)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FEED_TIMEOUT", "5s")
	t.Setenv("FEED_MAX_PAGES", "12")
	t.Setenv("SUMMARY_DATE_KEYS", " when , ,day")
	t.Setenv("NORMALIZE_ZERO_COORDS", "true")
	t.Setenv("CLUSTER_RADIUS", "-3")

	c := FromEnv()
	if c.FetchTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", c.FetchTimeout)
	}
	if c.MaxPages != 12 {
		t.Errorf("expected 12, got %d", c.MaxPages)
	}
	if len(c.DateKeys) != 2 || c.DateKeys[0] != "when" || c.DateKeys[1] != "day" {
		t.Errorf("unexpected keys %v", c.DateKeys)
	}
	if !c.AcceptZeroCoords {
		t.Error("expected zero coordinates to be accepted")
	}
	if c.ClusterRadius != 60 {
		t.Errorf("negative radius should fall back to default, got %v", c.ClusterRadius)
	}
}

func TestFeedURL(t *testing.T) {
	c := Config{APIURL: "https://example.com/items?limit=1000", APIKey: "s3cret"}
	u, err := c.FeedURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != "https://example.com/items?api_key=s3cret&limit=1000" {
		t.Errorf("unexpected url %s", u)
	}

	if _, err := (Config{}).FeedURL(); err == nil {
		t.Error("expected error for missing base url")
	}
}
