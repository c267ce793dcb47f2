package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"web/featuremap/cluster"
	"web/featuremap/feed"
	"web/featuremap/pipeline"
	"web/featuremap/viewport"
)

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Status())
}

func (s *Server) refresh(c *gin.Context) {
	err := s.pipeline.Refresh(c.Request.Context())
	var fe *feed.FetchError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, s.pipeline.Status())
	case errors.Is(err, pipeline.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &fe):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// viewFromQuery reads zoom and the north/south/east/west bounds.
func viewFromQuery(c *gin.Context) (viewport.Viewport, error) {
	var v viewport.Viewport
	zoom, err := strconv.ParseFloat(c.Query("zoom"), 64)
	if err != nil {
		return v, errors.New("Invalid zoom parameter")
	}
	bounds := make(map[string]float64, 4)
	for _, name := range []string{"north", "south", "east", "west"} {
		f, err := strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			return v, fmt.Errorf("Invalid %s parameter", name)
		}
		bounds[name] = f
	}
	v.Zoom = zoom
	v.BBox = cluster.BBox{bounds["west"], bounds["south"], bounds["east"], bounds["north"]}
	return v, nil
}

// index writes 503 and returns nil when nothing is loaded yet.
func (s *Server) index(c *gin.Context) *cluster.Supercluster {
	idx := s.pipeline.Snapshot().Index
	if idx == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": pipeline.ErrNotLoaded.Error()})
		return nil
	}
	return idx
}

func (s *Server) clusters(c *gin.Context) {
	v, err := viewFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	idx := s.index(c)
	if idx == nil {
		return
	}
	c.JSON(http.StatusOK, idx.ToGeoJSON(v.BBox, v.QueryZoom()))
}

func (s *Server) clusterMetadata(c *gin.Context) {
	v, err := viewFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	idx := s.index(c)
	if idx == nil {
		return
	}
	c.JSON(http.StatusOK, cluster.CalculateViewSummary(idx.GetClusters(v.BBox, v.QueryZoom())))
}

func clusterID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cluster id"})
		return 0, false
	}
	return id, true
}

func clusterError(c *gin.Context, err error) {
	if errors.Is(err, cluster.ErrClusterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) clusterChildren(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}
	idx := s.index(c)
	if idx == nil {
		return
	}
	children, err := idx.GetChildren(id)
	if err != nil {
		clusterError(c, err)
		return
	}
	c.JSON(http.StatusOK, cluster.FeatureCollection(children))
}

func (s *Server) clusterLeaves(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
		return
	}
	idx := s.index(c)
	if idx == nil {
		return
	}
	leaves, err := idx.GetLeaves(id, limit, offset)
	if err != nil {
		clusterError(c, err)
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, f := range leaves {
		fc.Append(f.GeoJSON())
	}
	c.JSON(http.StatusOK, fc)
}

func (s *Server) clusterExpansionZoom(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}
	idx := s.index(c)
	if idx == nil {
		return
	}
	zoom, err := idx.GetClusterExpansionZoom(id)
	if err != nil {
		clusterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"zoom": zoom})
}

func (s *Server) features(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	rows, total := s.pipeline.Rows(offset, limit)
	c.JSON(http.StatusOK, gin.H{"rows": rows, "total": total, "offset": offset})
}

func (s *Server) featureByID(c *gin.Context) {
	f, ok := s.pipeline.Snapshot().Collection.Find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": pipeline.ErrFeatureNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, f.GeoJSON())
}

func (s *Server) summary(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Snapshot().Summary)
}

func (s *Server) search(c *gin.Context) {
	var req struct {
		Query     string `json:"query"`
		Immediate bool   `json:"immediate"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Immediate {
		s.pipeline.ApplyQuery(req.Query)
		c.JSON(http.StatusOK, s.pipeline.Status())
		return
	}
	s.pipeline.SetQuery(req.Query)
	c.JSON(http.StatusAccepted, gin.H{"query": req.Query})
}

func (s *Server) settle(c *gin.Context) {
	var req struct {
		BBox []float64 `json:"bbox"`
		Zoom *float64  `json:"zoom"`
	}
	if err := c.BindJSON(&req); err != nil || len(req.BBox) != 4 || req.Zoom == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bbox must be [west, south, east, north] and zoom is required"})
		return
	}
	v := viewport.Viewport{BBox: cluster.BBox{req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3]}, Zoom: *req.Zoom}
	s.pipeline.OnSettle(v)
	c.JSON(http.StatusAccepted, v)
}

func (s *Server) selection(c *gin.Context) {
	sel, ok := s.pipeline.Selection()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"selected": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": true, "selection": sel, "rendered": sel.Render()})
}

func (s *Server) selectFeature(c *gin.Context) {
	var req struct {
		ID         string                 `json:"id"`
		Properties map[string]interface{} `json:"properties"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.ID == "" {
		if req.Properties == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id or properties required"})
			return
		}
		s.pipeline.SelectProperties(c.Request.Context(), req.Properties)
		c.JSON(http.StatusOK, gin.H{"selected": true})
		return
	}

	cmd, err := s.pipeline.SelectFeature(c.Request.Context(), req.ID)
	switch {
	case errors.Is(err, pipeline.ErrNotLoaded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrFeatureNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"camera": cmd})
	}
}

// export streams the loaded collection as zstd compressed GeoJSON.
func (s *Server) export(c *gin.Context) {
	coll := s.pipeline.Snapshot().Collection
	if coll == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": pipeline.ErrNotLoaded.Error()})
		return
	}
	body, err := coll.GeoJSON().MarshalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="features-%s.geojson.zst"`, coll.ID.String()[:8]))
	c.Status(http.StatusOK)

	enc, err := zstd.NewWriter(c.Writer, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		s.log.Error("export_encoder_error", "err", err)
		return
	}
	if _, err := enc.Write(body); err != nil {
		s.log.Warn("export_write_error", "err", err)
		enc.Close()
		return
	}
	if err := enc.Close(); err != nil {
		s.log.Warn("export_write_error", "err", err)
	}
}
