// Package analytics derives the chart data shown next to the map: a per-day
// count series and a small categorical breakdown.
package analytics

import (
	"sort"
	"unicode/utf16"

	"web/featuremap/feature"
)

const (
	Unknown = "unknown"
	None    = "(none)"
	Other   = "(other)"
)

type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CategoryCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type Summary struct {
	ByDate     []DateCount     `json:"byDate"`
	ByCategory []CategoryCount `json:"byCategory"`
}

type Options struct {
	// DateKeys are tried in order; the first present value is used.
	DateKeys []string
	// CategoryLimit caps the breakdown. Default 6.
	CategoryLimit int
	// FoldOther keeps CategoryLimit-1 values and folds the rest into a
	// single "(other)" entry so the counts still add up.
	FoldOther bool
	// MaxCategoryLen is the longest string (in UTF-16 units) that can name a
	// category. Default 30.
	MaxCategoryLen int
}

func DefaultOptions() Options {
	return Options{
		DateKeys:       []string{"date", "created_at", "timestamp"},
		CategoryLimit:  6,
		FoldOther:      true,
		MaxCategoryLen: 30,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.DateKeys) == 0 {
		o.DateKeys = d.DateKeys
	}
	if o.CategoryLimit <= 0 {
		o.CategoryLimit = d.CategoryLimit
	}
	if o.MaxCategoryLen <= 0 {
		o.MaxCategoryLen = d.MaxCategoryLen
	}
	return o
}

func Summarize(features []feature.Feature, opts Options) Summary {
	return Summary{
		ByDate:     SummarizeByDate(features, opts),
		ByCategory: SummarizeByCategory(features, opts),
	}
}

// SummarizeByDate buckets features by calendar day (UTC). Missing or
// unparseable dates count under "unknown", which always sorts last.
func SummarizeByDate(features []feature.Feature, opts Options) []DateCount {
	opts = opts.withDefaults()
	counts := make(map[string]int)
	for _, f := range features {
		counts[dayOf(f.Properties, opts.DateKeys)]++
	}

	out := make([]DateCount, 0, len(counts))
	for d, c := range counts {
		out = append(out, DateCount{Date: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Date, out[j].Date
		if a == Unknown || b == Unknown {
			return b == Unknown && a != Unknown
		}
		return a < b
	})
	return out
}

func dayOf(props map[string]interface{}, keys []string) string {
	for _, k := range keys {
		v := props[k]
		if !feature.Truthy(v) {
			continue
		}
		if t, ok := ParseDate(v); ok {
			return t.UTC().Format("2006-01-02")
		}
		return Unknown
	}
	return Unknown
}

// SummarizeByCategory counts, per feature, the value of its first short
// string property (falling back to its first property). Values keep their
// first-seen order; this is not ranked by frequency.
func SummarizeByCategory(features []feature.Feature, opts Options) []CategoryCount {
	opts = opts.withDefaults()
	var order []string
	counts := make(map[string]int)
	for _, f := range features {
		name := categoryOf(f, opts.MaxCategoryLen)
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}

	limit := opts.CategoryLimit
	if len(order) <= limit || !opts.FoldOther {
		if len(order) > limit {
			order = order[:limit]
		}
		out := make([]CategoryCount, len(order))
		for i, name := range order {
			out[i] = CategoryCount{Name: name, Value: counts[name]}
		}
		return out
	}

	out := make([]CategoryCount, 0, limit)
	rest := 0
	for i, name := range order {
		if i < limit-1 {
			out = append(out, CategoryCount{Name: name, Value: counts[name]})
			continue
		}
		rest += counts[name]
	}
	return append(out, CategoryCount{Name: Other, Value: rest})
}

func categoryOf(f feature.Feature, maxLen int) string {
	keys := f.OrderedKeys()
	key := ""
	for _, k := range keys {
		if s, ok := f.Properties[k].(string); ok && len(utf16.Encode([]rune(s))) <= maxLen {
			key = k
			break
		}
	}
	if key == "" && len(keys) > 0 {
		key = keys[0]
	}
	v, ok := f.Properties[key]
	if !ok || v == nil {
		return None
	}
	return feature.Stringify(v)
}
