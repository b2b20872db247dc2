package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fence-api/internal/cache"
	"fence-api/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps() Deps {
	cm := cache.NewManager(nil, config.CacheConfig{
		LocalMaxEntries: 100,
		MaxPayloadBytes: 1 << 20,
	})
	return Deps{Cache: cm}
}

func doGet(t *testing.T, mux *http.ServeMux, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestZoomStrategyEndpoint(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, body := doGet(t, mux, "/api/zoom/strategy?zoom=14")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(14), data["zoom"])
	strategies := data["strategies"].(map[string]any)
	fences := strategies["fences"].(map[string]any)
	assert.Equal(t, true, fences["load_data"])
	assert.Equal(t, "always_load", fences["reason"])
}

func TestZoomLayersList(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, body := doGet(t, mux, "/api/zoom/layers")
	require.Equal(t, http.StatusOK, rec.Code)
	layers := body["data"].(map[string]any)["layers"].(map[string]any)
	assert.Len(t, layers, 13)
	roads := layers["roads"].(map[string]any)
	assert.Equal(t, float64(7), roads["min_zoom"])
}

func TestZoomLayerDetail(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, body := doGet(t, mux, "/api/zoom/layers/buildings?zoom=5")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "buildings", data["layer"])
	strategy := data["strategy"].(map[string]any)
	assert.Equal(t, false, strategy["load_data"])
	assert.Equal(t, "zoom_too_low", strategy["reason"])
}

func TestZoomLayerUnknown(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, _ := doGet(t, mux, "/api/zoom/layers/volcanoes")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheStatsEndpoint(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, body := doGet(t, mux, "/api/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["shared_up"])
	assert.Equal(t, float64(0), data["local_entries"])
}

func TestHealthDegradedWithoutDatabase(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, body := doGet(t, mux, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["database"])
}

func TestGeocodeRequiresAddress(t *testing.T) {
	mux := BuildRoutes(testDeps())
	rec, _ := doGet(t, mux, "/api/geocode")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseBBox(t *testing.T) {
	bb := parseBBox("116.30,39.85,116.50,39.95")
	require.NotNil(t, bb)
	assert.Equal(t, [4]float64{116.30, 39.85, 116.50, 39.95}, *bb)

	assert.Nil(t, parseBBox(""))
	assert.Nil(t, parseBBox("1,2,3"))
	assert.Nil(t, parseBBox("a,b,c,d"))
}
