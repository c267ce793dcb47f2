// Package search narrows a feature set by free-text substring match over the
// serialized properties of each feature.
package search

import (
	"bytes"
	"encoding/json"
	"strings"

	"web/featuremap/feature"
)

// Filter returns the features whose serialized properties contain query,
// ignoring case. An empty query returns features itself.
func Filter(features []feature.Feature, query string) []feature.Feature {
	if query == "" {
		return features
	}
	q := strings.ToLower(query)
	out := make([]feature.Feature, 0, len(features))
	for _, f := range features {
		if strings.Contains(Text(f), q) {
			out = append(out, f)
		}
	}
	return out
}

// Index caches the lowered search text of a collection so repeated queries
// against the same feature set skip serialization.
type Index struct {
	features []feature.Feature
	texts    []string
}

func NewIndex(features []feature.Feature) *Index {
	ix := &Index{features: features, texts: make([]string, len(features))}
	for i, f := range features {
		ix.texts[i] = Text(f)
	}
	return ix
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.features)
}

func (ix *Index) Filter(query string) []feature.Feature {
	if ix == nil {
		return nil
	}
	if query == "" {
		return ix.features
	}
	q := strings.ToLower(query)
	out := make([]feature.Feature, 0, len(ix.features))
	for i, t := range ix.texts {
		if strings.Contains(t, q) {
			out = append(out, ix.features[i])
		}
	}
	return out
}

// Text is the lowered compact JSON of the feature's properties with the
// top-level keys in upstream order.
func Text(f feature.Feature) string {
	return strings.ToLower(string(Serialize(f)))
}

// Serialize writes properties as compact JSON. Nested objects come out with
// sorted keys.
func Serialize(f feature.Feature) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	first := true
	for _, k := range f.OrderedKeys() {
		start := buf.Len()
		if !first {
			buf.WriteByte(',')
		}
		if err := enc.Encode(k); err != nil {
			buf.Truncate(start)
			continue
		}
		trimNewline(&buf)
		buf.WriteByte(':')
		if err := enc.Encode(f.Properties[k]); err != nil {
			// values JSON cannot represent are skipped
			buf.Truncate(start)
			continue
		}
		trimNewline(&buf)
		first = false
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func trimNewline(buf *bytes.Buffer) {
	if b := buf.Bytes(); len(b) > 0 && b[len(b)-1] == '\n' {
		buf.Truncate(len(b) - 1)
	}
}
