package api

import (
	"encoding/json"
	"fmt"
	"os"
)

// Style is a maplibre style document. Kept as a generic map so a file
// provided through MAP_STYLE_PATH passes through untouched.
type Style map[string]interface{}

// DefaultStyle is an OSM raster base map plus the cluster layers bound to
// the live source.
func DefaultStyle(source string) Style {
	return Style{
		"version": 8,
		"glyphs":  "https://demotiles.maplibre.org/font/{fontstack}/{range}.pbf",
		"sources": map[string]interface{}{
			"openmaptiles": map[string]interface{}{
				"type":        "raster",
				"tiles":       []string{"https://tile.openstreetmap.org/{z}/{x}/{y}.png"},
				"tileSize":    256,
				"attribution": "© OpenStreetMap contributors",
			},
			source: map[string]interface{}{
				"type":    "geojson",
				"data":    map[string]interface{}{"type": "FeatureCollection", "features": []interface{}{}},
				"cluster": false,
			},
		},
		"layers": append([]interface{}{
			map[string]interface{}{
				"id":    "background",
				"type":  "background",
				"paint": map[string]interface{}{"background-color": "#e0e0e0"},
			},
			map[string]interface{}{
				"id":     "osm-tiles",
				"type":   "raster",
				"source": "openmaptiles",
			},
		}, clusterLayers(source)...),
	}
}

func clusterLayers(source string) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"id":     "clusters",
			"type":   "circle",
			"source": source,
			"paint": map[string]interface{}{
				"circle-radius":  []interface{}{"step", []interface{}{"get", "point_count"}, 8, 10, 12, 50, 20},
				"circle-color":   []interface{}{"case", []interface{}{">", []interface{}{"get", "point_count"}, 50}, "#e11d48", "#06b6d4"},
				"circle-opacity": 0.9,
			},
		},
		map[string]interface{}{
			"id":     "cluster-count",
			"type":   "symbol",
			"source": source,
			"layout": map[string]interface{}{
				"text-field": []interface{}{"coalesce", []interface{}{"get", "point_count"}, ""},
				"text-size":  12,
			},
			"paint": map[string]interface{}{"text-color": "#ffffff"},
		},
		map[string]interface{}{
			"id":     "unclustered-point",
			"type":   "circle",
			"source": source,
			"filter": []interface{}{"!", []interface{}{"has", "point_count"}},
			"paint":  map[string]interface{}{"circle-radius": 6, "circle-color": "#2563eb"},
		},
	}
}

// LoadStyle reads a style document from path.
func LoadStyle(path string) (Style, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style: %w", err)
	}
	var s Style
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse style %s: %w", path, err)
	}
	return s, nil
}
