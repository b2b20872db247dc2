package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fence-api/internal/layers"
	"fence-api/internal/zoom"
)

func registerLayerRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /api/layers/{layer}", func(w http.ResponseWriter, r *http.Request) {
		req := layers.Request{
			Layer: r.PathValue("layer"),
			Zoom:  queryInt(r, "zoom", 10),
			BBox:  parseBBox(r.URL.Query().Get("bbox")),
			Limit: queryInt(r, "limit", 0),
		}
		res, err := d.Layers.Layer(r.Context(), req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "图层数据获取成功")
	})

	mux.HandleFunc("GET /api/zoom/strategy", func(w http.ResponseWriter, r *http.Request) {
		z := queryInt(r, "zoom", 10)
		ok(w, map[string]any{
			"zoom":               z,
			"strategies":         zoom.ResolveAll(z),
			"level_descriptions": zoom.LevelDescriptions,
		}, "缩放策略获取成功")
	})

	mux.HandleFunc("GET /api/zoom/layers", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		for _, name := range zoom.Layers() {
			s, _ := zoom.Lookup(name)
			out[name] = map[string]any{
				"min_zoom":    s.MinZoom,
				"max_zoom":    s.MaxZoom,
				"always_load": s.AlwaysLoad,
				"limits":      s.Limits,
				"description": s.Description,
			}
		}
		ok(w, map[string]any{"layers": out}, "图层配置获取成功")
	})

	mux.HandleFunc("GET /api/zoom/layers/{layer}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("layer")
		s, found := zoom.Lookup(name)
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "layer not configured"})
			return
		}
		out := map[string]any{
			"layer":       name,
			"min_zoom":    s.MinZoom,
			"max_zoom":    s.MaxZoom,
			"always_load": s.AlwaysLoad,
			"limits":      s.Limits,
			"description": s.Description,
		}
		if z := r.URL.Query().Get("zoom"); z != "" {
			if n, err := strconv.Atoi(z); err == nil {
				out["strategy"] = zoom.Resolve(name, n)
			}
		}
		ok(w, out, "图层策略获取成功")
	})

	mux.HandleFunc("GET /api/geocode", func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "address required"})
			return
		}
		res, err := d.Geocode.Forward(r.Context(), address)
		if err != nil {
			fail(w, err)
			return
		}
		if res == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "address not found"})
			return
		}
		ok(w, res, "地理编码成功")
	})

	mux.HandleFunc("GET /api/geocode/reverse", func(w http.ResponseWriter, r *http.Request) {
		lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if errLat != nil || errLng != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "lat and lng required"})
			return
		}
		res, err := d.Geocode.Reverse(r.Context(), lat, lng)
		if err != nil {
			fail(w, err)
			return
		}
		if res == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "location not found"})
			return
		}
		ok(w, res, "逆地理编码成功")
	})

	mux.HandleFunc("GET /api/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		ok(w, d.Cache.Stats(r.Context()), "缓存统计获取成功")
	})

	mux.HandleFunc("POST /api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		d.Cache.InvalidateAll(r.Context())
		ok(w, nil, "缓存已清理")
	})

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbUp := d.Pools.Healthy(ctx)
		status := http.StatusOK
		if !dbUp {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"status":   map[bool]string{true: "ok", false: "degraded"}[dbUp],
			"database": dbUp,
			"cache":    d.Cache.Stats(ctx).SharedUp,
		})
	})
}
