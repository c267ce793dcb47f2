package analytics

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseDate accepts date strings in whatever format dateparse recognises and
// numbers as epoch milliseconds. Strings without a zone are read as UTC.
func ParseDate(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case float64:
		return fromMillis(t)
	case int64:
		return fromMillis(float64(t))
	case int:
		return fromMillis(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromMillis(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// 8.64e15 ms is the largest instant a browser Date can hold.
func fromMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > 8.64e15 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}
