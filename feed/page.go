package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"web/featuremap/feature"
)

// Page is one decoded upstream response.
type Page struct {
	Items []feature.RawRecord
	// Next is the continuation link as found in the body, unresolved. Empty
	// means this is the last page.
	Next  string
	Shape string
}

const (
	ShapeItems    = "items"
	ShapeFeatures = "features"
	ShapeArray    = "array"
	ShapeOther    = "other"
	ShapeEmpty    = "empty"
)

// DecodePage understands {items:[...]}, {features:[...]} and a bare array.
// A bare array, an empty body or null is always terminal. For objects the
// continuation is links.next, then next; anything else stops pagination.
func DecodePage(body []byte) (Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Page{Shape: ShapeEmpty}, nil
	}

	switch body[0] {
	case '[':
		var items []feature.RawRecord
		if err := json.Unmarshal(body, &items); err != nil {
			return Page{}, fmt.Errorf("decode array page: %w", err)
		}
		return Page{Items: items, Shape: ShapeArray}, nil
	case '{':
	default:
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return Page{}, fmt.Errorf("decode page: %w", err)
		}
		return Page{Shape: ShapeOther}, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}

	page := Page{Shape: ShapeOther}
	var list json.RawMessage
	switch {
	case truthy(members["items"]):
		list, page.Shape = members["items"], ShapeItems
	case truthy(members["features"]):
		list, page.Shape = members["features"], ShapeFeatures
	}
	if len(list) > 0 && list[0] == '[' {
		if err := json.Unmarshal(list, &page.Items); err != nil {
			return Page{}, fmt.Errorf("decode %s: %w", page.Shape, err)
		}
	}

	if raw, ok := members["links"]; ok {
		var links map[string]json.RawMessage
		if json.Unmarshal(raw, &links) == nil {
			page.Next = link(links["next"])
		}
	}
	if page.Next == "" {
		page.Next = link(members["next"])
	}
	return page, nil
}

func link(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v.(type) {
	case []interface{}, map[string]interface{}:
		return true
	}
	return feature.Truthy(v)
}

// BuildURL attaches the static credential as the api_key query parameter.
func BuildURL(base, apiKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("api_key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func resolve(current, next string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
