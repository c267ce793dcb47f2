// Package api is the gin HTTP surface over the pipeline.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"web/featuremap/live"
	"web/featuremap/logger"
	"web/featuremap/metrics"
	"web/featuremap/pipeline"
)

type Options struct {
	// StylePath points at a style document to serve instead of the
	// built-in one.
	StylePath string
	// SourceName is the live source the cluster layers draw from.
	SourceName string
	Logger     *slog.Logger
}

type Server struct {
	pipeline *pipeline.Pipeline
	hub      *live.Hub
	style    Style
	log      *slog.Logger
}

// NewServer wires the handlers. A style file that cannot be read falls back
// to the built-in style.
func NewServer(p *pipeline.Pipeline, hub *live.Hub, opts Options) *Server {
	if opts.SourceName == "" {
		opts.SourceName = "feature-points"
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	s := &Server{pipeline: p, hub: hub, log: log, style: DefaultStyle(opts.SourceName)}
	if opts.StylePath != "" {
		style, err := LoadStyle(opts.StylePath)
		if err != nil {
			log.Warn("style_load_failed", "path", opts.StylePath, "err", err)
		} else {
			s.style = style
		}
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.AccessMiddleware(s.log), cors())

	api := r.Group("/api")
	api.GET("/status", s.status)
	api.POST("/refresh", s.refresh)

	api.GET("/clusters", s.clusters)
	api.GET("/clusters/metadata", s.clusterMetadata)
	api.GET("/clusters/:id/children", s.clusterChildren)
	api.GET("/clusters/:id/leaves", s.clusterLeaves)
	api.GET("/clusters/:id/expansion-zoom", s.clusterExpansionZoom)

	api.GET("/features", s.features)
	api.GET("/features/:id", s.featureByID)
	api.GET("/summary", s.summary)

	api.POST("/search", s.search)
	api.POST("/viewport", s.settle)
	api.GET("/selection", s.selection)
	api.POST("/selection", s.selectFeature)

	api.GET("/export", s.export)
	api.GET("/style", func(c *gin.Context) { c.JSON(http.StatusOK, s.style) })

	if s.hub != nil {
		r.GET("/ws", s.hub.ServeWS)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
