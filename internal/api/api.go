// 包 api：集中注册 HTTP API 路由，解耦主入口
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fence-api/internal/cache"
	"fence-api/internal/dbpool"
	"fence-api/internal/fence"
	"fence-api/internal/geocode"
	"fence-api/internal/geometry"
	"fence-api/internal/layers"
	"fence-api/internal/logger"
)

// Deps：路由需要的全部服务
type Deps struct {
	Fences  *fence.Manager
	Layers  *layers.Service
	Geocode *geocode.Client
	Cache   *cache.Manager
	Pools   *dbpool.Pools
}

// BuildRoutes：独立 ServeMux，便于在主入口挂中间件
func BuildRoutes(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerFenceRoutes(mux, d)
	registerLayerRoutes(mux, d)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ok：成功响应统一带 success 与 message
func ok(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// fail：错误按类别映射 HTTP 状态码
func fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fence.ErrInvalidName),
		errors.Is(err, fence.ErrInsufficientInputs),
		errors.Is(err, fence.ErrTooManyInputs),
		errors.Is(err, fence.ErrMergeFailed),
		errors.Is(err, fence.ErrSplitFailed),
		errors.Is(err, geometry.ErrInvalidGeometry),
		errors.Is(err, geometry.ErrMalformedGeometry):
		status = http.StatusBadRequest
	case errors.Is(err, dbpool.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.L().Error("api_internal_error", "err", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	v := strings.ToLower(r.URL.Query().Get(name))
	return v == "1" || v == "true" || v == "yes"
}

func queryInt64Ptr(r *http.Request, name string) *int64 {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

// parseBBox：west,south,east,north
func parseBBox(s string) *[4]float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil
	}
	var box [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		box[i] = v
	}
	return &box
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
