package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// RawRecord is one schema-less item from the upstream feed.
type RawRecord struct {
	// Fields is nil when the item was not a JSON object; Value then holds it.
	Fields map[string]interface{}
	Value  interface{}

	Keys         []string
	PropertyKeys []string
	Geometry     json.RawMessage
}

// RawFromMap builds a record from an already decoded object. Key order is
// taken from keys when given, otherwise sorted.
func RawFromMap(fields map[string]interface{}, keys ...string) RawRecord {
	if len(keys) == 0 {
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	r := RawRecord{Fields: fields, Keys: keys}
	if props, ok := fields["properties"].(map[string]interface{}); ok {
		for k := range props {
			r.PropertyKeys = append(r.PropertyKeys, k)
		}
		sort.Strings(r.PropertyKeys)
	}
	if g, ok := fields["geometry"]; ok && g != nil {
		if b, err := json.Marshal(g); err == nil {
			r.Geometry = b
		}
	}
	return r
}

func (r *RawRecord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = RawRecord{Value: v}
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	out := RawRecord{Fields: fields}

	var props json.RawMessage
	keys, err := walkObject(data, func(key string, raw json.RawMessage) {
		switch key {
		case "geometry":
			out.Geometry = raw
		case "properties":
			props = raw
		}
	})
	if err != nil {
		return err
	}
	out.Keys = keys

	if _, ok := fields["properties"].(map[string]interface{}); ok {
		out.PropertyKeys, err = walkObject(props, nil)
		if err != nil {
			return err
		}
	}
	*r = out
	return nil
}

func (r RawRecord) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return json.Marshal(r.Value)
	}
	return json.Marshal(r.Fields)
}

// walkObject returns the member names of a JSON object in document order,
// first occurrence only, calling fn with the raw value of each member.
func walkObject(data []byte, fn func(key string, raw json.RawMessage)) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if fn != nil {
			fn(key, raw)
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}
