package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"web/featuremap/feature"
)

// Row is one entry of the detail list.
type Row struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Coords  string `json:"coords"`
}

const summaryProps = 3

// Rows returns a window of the filtered set and the filtered total.
func (p *Pipeline) Rows(offset, limit int) ([]Row, int) {
	filtered := p.Snapshot().Filtered
	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Row{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	rows := make([]Row, 0, end-offset)
	for i := offset; i < end; i++ {
		rows = append(rows, NewRow(filtered[i], i))
	}
	return rows, total
}

// NewRow builds the list entry for the feature at position i.
func NewRow(f feature.Feature, i int) Row {
	return Row{
		ID:      f.ID,
		Title:   rowTitle(f, i),
		Summary: rowSummary(f),
		Coords:  rowCoords(f),
	}
}

func rowTitle(f feature.Feature, i int) string {
	for _, k := range []string{"name", "title", "id"} {
		if v := f.Properties[k]; feature.Truthy(v) {
			return feature.Stringify(v)
		}
	}
	return "Item " + strconv.Itoa(i+1)
}

func rowSummary(f feature.Feature) string {
	keys := f.OrderedKeys()
	if len(keys) > summaryProps {
		keys = keys[:summaryProps]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + feature.Stringify(f.Properties[k])
	}
	return strings.Join(parts, " • ")
}

func rowCoords(f feature.Feature) string {
	lat, lon := f.Lat(), f.Lon()
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return "—"
	}
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}
