package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"web/featuremap/debounce"
	"web/featuremap/feature"
	"web/featuremap/feed"
	"web/featuremap/live"
	"web/featuremap/logger"
	"web/featuremap/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func records() pipeline.Records {
	return pipeline.Records{
		feature.RawFromMap(map[string]interface{}{"id": "a", "name": "Alpha", "lat": 13.5, "lon": 100.5, "date": "2024-03-01"}, "id", "name", "lat", "lon", "date"),
		feature.RawFromMap(map[string]interface{}{"id": "b", "name": "Bravo", "lat": 14.0, "lon": 101.0, "date": "2024-03-02"}, "id", "name", "lat", "lon", "date"),
		feature.RawFromMap(map[string]interface{}{"id": "c", "name": "Charlie", "lat": 15.0, "lon": 99.0}, "id", "name", "lat", "lon"),
	}
}

type failingSource struct{}

func (failingSource) FetchAll(ctx context.Context, u string) ([]feature.RawRecord, error) {
	return nil, &feed.FetchError{URL: u, Page: 2, StatusCode: http.StatusInternalServerError, Err: fmt.Errorf("unexpected status")}
}

func newServer(t *testing.T, src pipeline.Source, load bool) (*Server, *pipeline.Pipeline) {
	t.Helper()
	p := pipeline.New(src, pipeline.Options{
		URL:       "http://feed.test/items",
		Logger:    logger.Discard(),
		AfterFunc: debounce.NewManualClock().AfterFunc,
	})
	t.Cleanup(p.Close)
	if load {
		if err := p.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return NewServer(p, nil, Options{Logger: logger.Discard()}), p
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

const worldView = "zoom=0&north=85&south=-85&east=180&west=-180"

func TestNotLoaded(t *testing.T) {
	s, _ := newServer(t, records(), false)

	if w := do(t, s, http.MethodGet, "/api/clusters?"+worldView, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("clusters before load = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/export", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("export before load = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/selection", map[string]string{"id": "a"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("select before load = %d", w.Code)
	}

	w := do(t, s, http.MethodPost, "/api/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", w.Code, w.Body.String())
	}
	var st pipeline.Status
	decode(t, w, &st)
	if st.Total != 3 {
		t.Errorf("total = %d", st.Total)
	}
}

func TestRefreshFailure(t *testing.T) {
	s, _ := newServer(t, failingSource{}, false)
	w := do(t, s, http.MethodPost, "/api/refresh", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("refresh = %d", w.Code)
	}

	var st pipeline.Status
	decode(t, do(t, s, http.MethodGet, "/api/status", nil), &st)
	if st.Error == "" || st.Loading {
		t.Errorf("status = %+v", st)
	}
}

func TestClusters(t *testing.T) {
	s, _ := newServer(t, records(), true)

	w := do(t, s, http.MethodGet, "/api/clusters?"+worldView, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clusters = %d %s", w.Code, w.Body.String())
	}
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("want one aggregate at zoom 0, got %d", len(fc.Features))
	}
	props := fc.Features[0].Properties
	if props["cluster"] != true || props["point_count"] != float64(3) {
		t.Fatalf("properties = %v", props)
	}
	id := int(props["cluster_id"].(float64))

	w = do(t, s, http.MethodGet, fmt.Sprintf("/api/clusters/%d/leaves?limit=-1", id), nil)
	leaves, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil || len(leaves.Features) != 3 {
		t.Fatalf("leaves = %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodGet, fmt.Sprintf("/api/clusters/%d/children", id), nil)
	if w.Code != http.StatusOK {
		t.Errorf("children = %d", w.Code)
	}

	w = do(t, s, http.MethodGet, fmt.Sprintf("/api/clusters/%d/expansion-zoom", id), nil)
	var ez struct{ Zoom int }
	decode(t, w, &ez)
	if ez.Zoom < 1 {
		t.Errorf("expansion zoom = %d", ez.Zoom)
	}

	if w := do(t, s, http.MethodGet, "/api/clusters/99999/children", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown cluster = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/clusters/abc/children", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/clusters/metadata?"+worldView, nil)
	var summary struct {
		TotalPoints int `json:"totalPoints"`
		NumClusters int `json:"numClusters"`
	}
	decode(t, w, &summary)
	if summary.TotalPoints != 3 || summary.NumClusters != 1 {
		t.Errorf("metadata = %+v", summary)
	}
}

func TestClustersBadParams(t *testing.T) {
	s, _ := newServer(t, records(), true)
	w := do(t, s, http.MethodGet, "/api/clusters?zoom=3&north=x&south=0&east=0&west=0", nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Invalid north parameter") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
	w = do(t, s, http.MethodGet, "/api/clusters?north=1", nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Invalid zoom parameter") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestFeaturesAndSearch(t *testing.T) {
	s, _ := newServer(t, records(), true)

	var page struct {
		Rows  []pipeline.Row `json:"rows"`
		Total int            `json:"total"`
	}
	decode(t, do(t, s, http.MethodGet, "/api/features?limit=2", nil), &page)
	if page.Total != 3 || len(page.Rows) != 2 || page.Rows[0].Title != "Alpha" {
		t.Fatalf("page = %+v", page)
	}

	if w := do(t, s, http.MethodGet, "/api/features/b", nil); w.Code != http.StatusOK {
		t.Errorf("feature b = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/features/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing feature = %d", w.Code)
	}

	w := do(t, s, http.MethodPost, "/api/search", map[string]interface{}{"query": "CHAR", "immediate": true})
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	decode(t, do(t, s, http.MethodGet, "/api/features", nil), &page)
	if page.Total != 1 || page.Rows[0].ID != "c" {
		t.Errorf("filtered page = %+v", page)
	}

	var summary struct {
		ByDate []struct {
			Date  string `json:"date"`
			Count int    `json:"count"`
		} `json:"byDate"`
	}
	decode(t, do(t, s, http.MethodGet, "/api/summary", nil), &summary)
	if len(summary.ByDate) != 1 || summary.ByDate[0].Date != "unknown" {
		t.Errorf("summary = %+v", summary)
	}

	if w := do(t, s, http.MethodPost, "/api/search", map[string]interface{}{"query": "x"}); w.Code != http.StatusAccepted {
		t.Errorf("debounced search = %d", w.Code)
	}
}

func TestViewportAndSelection(t *testing.T) {
	s, p := newServer(t, records(), true)

	if w := do(t, s, http.MethodPost, "/api/viewport", map[string]interface{}{"bbox": []float64{1, 2}, "zoom": 3}); w.Code != http.StatusBadRequest {
		t.Errorf("short bbox = %d", w.Code)
	}
	w := do(t, s, http.MethodPost, "/api/viewport", map[string]interface{}{"bbox": []float64{90, 10, 110, 20}, "zoom": 6.6})
	if w.Code != http.StatusAccepted {
		t.Fatalf("viewport = %d", w.Code)
	}
	if v := p.Viewport().Viewport(); v.Zoom != 6.6 || v.BBox[2] != 110 {
		t.Errorf("viewport not recorded: %+v", v)
	}

	var none struct{ Selected bool }
	decode(t, do(t, s, http.MethodGet, "/api/selection", nil), &none)
	if none.Selected {
		t.Error("nothing selected yet")
	}

	w = do(t, s, http.MethodPost, "/api/selection", map[string]string{"id": "a"})
	var resp struct {
		Camera pipeline.CameraCommand `json:"camera"`
	}
	decode(t, w, &resp)
	if resp.Camera.Center != [2]float64{100.5, 13.5} || resp.Camera.Zoom != 14 {
		t.Errorf("camera = %+v", resp.Camera)
	}
	if w := do(t, s, http.MethodPost, "/api/selection", map[string]string{"id": "zzz"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/selection", nil)
	if !strings.Contains(w.Body.String(), `"selected":true`) || !strings.Contains(w.Body.String(), "Alpha") {
		t.Errorf("selection = %s", w.Body.String())
	}
}

func TestExport(t *testing.T) {
	s, _ := newServer(t, records(), true)
	w := do(t, s, http.MethodGet, "/api/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".geojson.zst") {
		t.Errorf("disposition = %q", w.Header().Get("Content-Disposition"))
	}
	dec, err := zstd.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 3 {
		t.Errorf("exported %d features", len(fc.Features))
	}
}

func TestStyle(t *testing.T) {
	s, _ := newServer(t, records(), false)
	w := do(t, s, http.MethodGet, "/api/style", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"feature-points"`) || !strings.Contains(w.Body.String(), "#e11d48") {
		t.Errorf("style = %s", w.Body.String())
	}

	path := filepath.Join(t.TempDir(), "style.json")
	if err := os.WriteFile(path, []byte(`{"version":8,"name":"custom"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p := pipeline.New(records(), pipeline.Options{Logger: logger.Discard()})
	defer p.Close()
	custom := NewServer(p, nil, Options{StylePath: path, Logger: logger.Discard()})
	w = do(t, custom, http.MethodGet, "/api/style", nil)
	if !strings.Contains(w.Body.String(), `"custom"`) {
		t.Errorf("custom style = %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newServer(t, records(), false)
	w := do(t, s, http.MethodOptions, "/api/status", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
}

func TestEventHandler(t *testing.T) {
	clock := debounce.NewManualClock()
	p := pipeline.New(records(), pipeline.Options{Logger: logger.Discard(), AfterFunc: clock.AfterFunc})
	defer p.Close()
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := EventHandler(p, logger.Discard())
	ctx := context.Background()

	h.HandleEvent(ctx, live.Event{Type: "settle", BBox: []float64{-10, -10, 10, 10}, Zoom: 4})
	if v := p.Viewport().Viewport(); v.Zoom != 4 {
		t.Errorf("settle not forwarded: %+v", v)
	}

	h.HandleEvent(ctx, live.Event{Type: "search", Query: "bravo"})
	clock.Advance(301 * time.Millisecond)
	if q := p.Snapshot().Query; q != "bravo" {
		t.Errorf("query = %q", q)
	}

	h.HandleEvent(ctx, live.Event{Type: "select", ID: "c"})
	if sel, ok := p.Selection(); !ok || sel.Feature.ID != "c" {
		t.Errorf("selection = %+v", sel)
	}
	h.HandleEvent(ctx, live.Event{Type: "click", Properties: map[string]interface{}{"k": "v"}})
	if sel, _ := p.Selection(); sel.Properties["k"] != "v" {
		t.Errorf("click selection = %+v", sel)
	}
	h.HandleEvent(ctx, live.Event{Type: "bogus"})
}
