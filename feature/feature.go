// Package feature holds the canonical point representation every other
// component consumes, and the normalizer that produces it from raw feed
// records.
package feature

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a canonical point. It is created once per raw record and never
// mutated afterwards; a new fetch cycle replaces the whole collection.
type Feature struct {
	ID          string
	Coordinates orb.Point
	Properties  map[string]interface{}
	// Keys is the property order as received upstream. Search text and
	// category selection depend on it.
	Keys []string
	Kind Kind
}

func (f Feature) GeometryType() string { return "Point" }

func (f Feature) Lon() float64 { return f.Coordinates.X() }
func (f Feature) Lat() float64 { return f.Coordinates.Y() }

// OrderedKeys returns the property keys in upstream order. Keys present in
// Properties but unknown to Keys are appended sorted.
func (f Feature) OrderedKeys() []string {
	out := make([]string, 0, len(f.Properties))
	seen := make(map[string]bool, len(f.Properties))
	for _, k := range f.Keys {
		if _, ok := f.Properties[k]; ok && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	if len(out) == len(f.Properties) {
		return out
	}
	var rest []string
	for k := range f.Properties {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// GeoJSON converts the feature to an orb GeoJSON point feature.
func (f Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Coordinates)
	gf.ID = f.ID
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	return gf
}

func (f Feature) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.GeoJSON())
}

// Collection is the output of one fetch cycle.
type Collection struct {
	ID        uuid.UUID
	Features  []Feature
	FetchedAt time.Time
}

func NewCollection(features []Feature) *Collection {
	return &Collection{
		ID:        uuid.New(),
		Features:  features,
		FetchedAt: time.Now(),
	}
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// Find returns the feature with the given id.
func (c *Collection) Find(id string) (Feature, bool) {
	if c == nil {
		return Feature{}, false
	}
	for _, f := range c.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// GeoJSON returns the whole collection as a FeatureCollection.
func (c *Collection) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if c == nil {
		return fc
	}
	for _, f := range c.Features {
		fc.Append(f.GeoJSON())
	}
	return fc
}
