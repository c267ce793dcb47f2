package feature

import (
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Kind is the shape a raw record was recognised as.
type Kind uint8

const (
	Opaque Kind = iota
	AlreadyCanonical
	GeometryBearing
	LatLonFlat
)

func (k Kind) String() string {
	switch k {
	case AlreadyCanonical:
		return "canonical"
	case GeometryBearing:
		return "geometry"
	case LatLonFlat:
		return "latlon"
	}
	return "opaque"
}

// Classify picks the first matching shape in priority order. With
// acceptZero unset, a lat or lon of 0 counts as absent, so a record sitting
// on the equator or the prime meridian falls through to Opaque.
func Classify(r RawRecord, acceptZero bool) Kind {
	if r.Fields == nil {
		return Opaque
	}
	if t, ok := r.Fields["type"].(string); ok && t == "Feature" {
		return AlreadyCanonical
	}
	if Truthy(r.Fields["geometry"]) {
		return GeometryBearing
	}
	if _, _, ok := latLon(r.Fields, acceptZero); ok {
		return LatLonFlat
	}
	return Opaque
}

func latLon(fields map[string]interface{}, acceptZero bool) (lat, lon float64, ok bool) {
	latV, lonV := fields["lat"], fields["lon"]
	if !acceptZero && (!Truthy(latV) || !Truthy(lonV)) {
		return 0, 0, false
	}
	lat, okLat := Number(latV)
	lon, okLon := Number(lonV)
	return lat, lon, okLat && okLon
}

// Normalizer maps raw records to canonical features. It never fails: any
// record it cannot place lands at [0,0].
type Normalizer struct {
	AcceptZeroLatLon bool
	// NewID overrides the random id source.
	NewID func() string
}

func (n Normalizer) Normalize(r RawRecord) Feature {
	kind := Classify(r, n.AcceptZeroLatLon)
	f := Feature{Kind: kind}

	switch kind {
	case AlreadyCanonical, GeometryBearing:
		if props, ok := r.Fields["properties"].(map[string]interface{}); ok {
			f.Properties = props
			f.Keys = r.PropertyKeys
		}
		f.Coordinates = n.geometryPoint(r)
	case LatLonFlat:
		lat, lon, _ := latLon(r.Fields, n.AcceptZeroLatLon)
		f.Coordinates = orb.Point{lon, lat}
		f.Properties = r.Fields
		f.Keys = r.Keys
	default:
		if r.Fields != nil {
			f.Properties = r.Fields
			f.Keys = r.Keys
		} else if r.Value != nil {
			f.Properties = map[string]interface{}{"value": r.Value}
			f.Keys = []string{"value"}
		}
	}
	if f.Properties == nil {
		f.Properties = map[string]interface{}{}
	}
	f.ID = n.id(r)
	return f
}

// NormalizeAll normalizes a fetch cycle. Colliding ids get a "-2", "-3"...
// suffix so ids stay unique within the collection.
func (n Normalizer) NormalizeAll(records []RawRecord) []Feature {
	out := make([]Feature, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		f := n.Normalize(r)
		if seen[f.ID] {
			base := f.ID
			for s := 2; ; s++ {
				candidate := base + "-" + strconv.Itoa(s)
				if !seen[candidate] {
					f.ID = candidate
					break
				}
			}
		}
		seen[f.ID] = true
		out[i] = f
	}
	return out
}

func (n Normalizer) geometryPoint(r RawRecord) orb.Point {
	if p, ok := reducePoint(r.Geometry); ok {
		return p
	}
	if lat, lon, ok := latLon(r.Fields, n.AcceptZeroLatLon); ok {
		return orb.Point{lon, lat}
	}
	return orb.Point{0, 0}
}

// reducePoint turns any GeoJSON geometry into one representative point:
// points as is, everything else the centre of its bound.
func reducePoint(raw json.RawMessage) (orb.Point, bool) {
	if len(raw) == 0 {
		return orb.Point{}, false
	}
	g := &geojson.Geometry{}
	if err := json.Unmarshal(raw, g); err != nil {
		return orb.Point{}, false
	}
	geom := g.Geometry()
	switch t := geom.(type) {
	case nil:
		return orb.Point{}, false
	case orb.Point:
		return t, true
	case orb.Collection:
		if len(t) == 0 {
			return orb.Point{}, false
		}
	case orb.MultiPoint:
		if len(t) == 0 {
			return orb.Point{}, false
		}
	}
	return geom.Bound().Center(), true
}

func (n Normalizer) id(r RawRecord) string {
	if r.Fields != nil {
		if Truthy(r.Fields["id"]) {
			return Stringify(r.Fields["id"])
		}
		if props, ok := r.Fields["properties"].(map[string]interface{}); ok && Truthy(props["id"]) {
			return Stringify(props["id"])
		}
	}
	if n.NewID != nil {
		if id := n.NewID(); id != "" {
			return id
		}
	}
	return RandomID()
}

// RandomID returns a short base-36 token.
func RandomID() string {
	u := uuid.New()
	return strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
}
