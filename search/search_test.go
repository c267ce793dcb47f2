package search

import (
	"encoding/json"
	"testing"

	"web/featuremap/feature"
)

func features(t *testing.T) []feature.Feature {
	t.Helper()
	var raw []feature.RawRecord
	err := json.Unmarshal([]byte(`[
		{"id":"1","name":"Central Park","city":"New York","lat":40.7,"lon":-73.9},
		{"id":"2","name":"Hyde Park","city":"London","lat":51.5,"lon":-0.16},
		{"id":"3","name":"Wat Arun","city":"Bangkok","tags":{"kind":"<Temple>"},"lat":13.7,"lon":100.5},
		{"id":"4","properties":{"note":"ABC-123"}}
	]`), &raw)
	if err != nil {
		t.Fatal(err)
	}
	return feature.Normalizer{}.NormalizeAll(raw)
}

func TestFilterEmptyQueryIsIdentity(t *testing.T) {
	fs := features(t)
	out := Filter(fs, "")
	if len(out) != len(fs) || &out[0] != &fs[0] {
		t.Error("expected the same slice back for an empty query")
	}
	ix := NewIndex(fs)
	out = ix.Filter("")
	if len(out) != len(fs) || &out[0] != &fs[0] {
		t.Error("expected the same slice back from the index for an empty query")
	}
}

func TestFilterCaseInsensitive(t *testing.T) {
	fs := features(t)
	upper := Filter(fs, "PARK")
	lower := Filter(fs, "park")
	if len(upper) != 2 || len(lower) != 2 {
		t.Fatalf("expected 2 parks, got %d and %d", len(upper), len(lower))
	}
	for i := range upper {
		if upper[i].ID != lower[i].ID {
			t.Errorf("results differ at %d: %s vs %s", i, upper[i].ID, lower[i].ID)
		}
	}
}

func TestFilterMatchesSerializedForm(t *testing.T) {
	fs := features(t)
	ix := NewIndex(fs)

	cases := []struct {
		query string
		ids   []string
	}{
		{`"city":"london"`, []string{"2"}},
		{"<temple>", []string{"3"}},
		{"abc-123", []string{"4"}},
		{`"lat":13.7`, []string{"3"}},
		{"nowhere", nil},
	}
	for _, tc := range cases {
		got := ix.Filter(tc.query)
		plain := Filter(fs, tc.query)
		if len(got) != len(tc.ids) || len(plain) != len(tc.ids) {
			t.Errorf("%q: expected %v, got %d (index) and %d (plain)", tc.query, tc.ids, len(got), len(plain))
			continue
		}
		for i, id := range tc.ids {
			if got[i].ID != id {
				t.Errorf("%q: expected %s at %d, got %s", tc.query, id, i, got[i].ID)
			}
		}
	}
}

func TestSerializeKeepsKeyOrder(t *testing.T) {
	fs := features(t)
	got := string(Serialize(fs[0]))
	expected := `{"id":"1","name":"Central Park","city":"New York","lat":40.7,"lon":-73.9}`
	if got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
