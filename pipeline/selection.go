package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"web/featuremap/feature"
	"web/featuremap/live"
)

// SelectZoom is the camera zoom used when a list row is selected.
const SelectZoom = 14

// Selection is at most one selected feature or one set of raw properties
// from a map click. It is replaced, never cleared.
type Selection struct {
	Feature    *feature.Feature       `json:"feature,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type CameraCommand struct {
	Center [2]float64 `json:"center"` // lon, lat
	Zoom   float64    `json:"zoom"`
}

// Render formats the selection for the detail view. Payloads that JSON
// cannot encode fall back to %v.
func (s Selection) Render() string {
	var v interface{} = s.Properties
	if s.Feature != nil {
		v = s.Feature.Properties
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// SelectFeature selects a loaded feature by id and returns the camera
// command that centers the map on it. Both are published to live clients.
func (p *Pipeline) SelectFeature(ctx context.Context, id string) (CameraCommand, error) {
	p.mu.Lock()
	coll := p.state.Collection
	if coll == nil {
		p.mu.Unlock()
		return CameraCommand{}, ErrNotLoaded
	}
	f, ok := coll.Find(id)
	if !ok {
		p.mu.Unlock()
		return CameraCommand{}, fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}
	sel := &Selection{Feature: &f}
	p.selection = sel
	p.mu.Unlock()

	cmd := CameraCommand{Center: [2]float64{f.Lon(), f.Lat()}, Zoom: SelectZoom}
	p.publish(ctx, live.Message{Type: live.TypeCamera, Data: cmd})
	p.publish(ctx, live.Message{Type: live.TypeSelection, Data: sel})
	return cmd, nil
}

// SelectProperties records the properties of a clicked map point.
func (p *Pipeline) SelectProperties(ctx context.Context, props map[string]interface{}) {
	sel := &Selection{Properties: props}
	p.mu.Lock()
	p.selection = sel
	p.mu.Unlock()
	p.publish(ctx, live.Message{Type: live.TypeSelection, Data: sel})
}

// Selection returns the current selection, if any.
func (p *Pipeline) Selection() (Selection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.selection == nil {
		return Selection{}, false
	}
	return *p.selection, true
}

func (p *Pipeline) publish(ctx context.Context, msg live.Message) {
	if p.opts.Publisher == nil {
		return
	}
	if err := p.opts.Publisher.Publish(ctx, msg); err != nil {
		p.log.Warn("publish_error", "type", msg.Type, "err", err)
	}
}
