package api

import (
	"context"
	"log/slog"

	"web/featuremap/cluster"
	"web/featuremap/live"
	"web/featuremap/logger"
	"web/featuremap/pipeline"
	"web/featuremap/viewport"
)

// EventHandler routes websocket events into the pipeline.
func EventHandler(p *pipeline.Pipeline, log *slog.Logger) live.EventHandler {
	if log == nil {
		log = logger.L()
	}
	return live.HandlerFunc(func(ctx context.Context, ev live.Event) {
		switch ev.Type {
		case "settle":
			if len(ev.BBox) != 4 {
				log.Debug("live_event_invalid", "type", ev.Type, "bbox", ev.BBox)
				return
			}
			p.OnSettle(viewport.Viewport{
				BBox: cluster.BBox{ev.BBox[0], ev.BBox[1], ev.BBox[2], ev.BBox[3]},
				Zoom: ev.Zoom,
			})
		case "select":
			if _, err := p.SelectFeature(ctx, ev.ID); err != nil {
				log.Debug("live_select_failed", "id", ev.ID, "err", err)
			}
		case "click":
			p.SelectProperties(ctx, ev.Properties)
		case "search":
			p.SetQuery(ev.Query)
		default:
			log.Debug("live_event_unknown", "type", ev.Type)
		}
	})
}
