package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"fence-api/internal/fence"
	"fence-api/internal/geometry"
	"fence-api/internal/store"
)

func registerFenceRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("POST /api/fences", func(w http.ResponseWriter, r *http.Request) {
		var req fence.CreateRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := d.Fences.Create(r.Context(), req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏创建成功")
	})

	mux.HandleFunc("GET /api/fences", func(w http.ResponseWriter, r *http.Request) {
		f := store.ListFilter{
			Status:  r.URL.Query().Get("fence_status"),
			Type:    r.URL.Query().Get("fence_type"),
			GroupID: queryInt64Ptr(r, "group_id"),
			OwnerID: queryInt64Ptr(r, "owner_id"),
			BBox:    parseBBox(r.URL.Query().Get("bbox")),
			Limit:   queryInt(r, "limit", 100),
			Offset:  queryInt(r, "offset", 0),
		}
		fences, total, err := d.Fences.List(r.Context(), f)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{
			"fences":         fences,
			"total_count":    total,
			"returned_count": len(fences),
			"limit":          f.Limit,
			"offset":         f.Offset,
		}, "围栏列表获取成功")
	})

	// 固定路径要先于 {id} 通配注册
	mux.HandleFunc("GET /api/fences/statistics/summary", func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Fences.Statistics(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏统计获取成功")
	})

	mux.HandleFunc("GET /api/fences/export/geojson", func(w http.ResponseWriter, r *http.Request) {
		var ids []int64
		if raw := r.URL.Query().Get("fence_ids"); raw != "" {
			for _, p := range strings.Split(raw, ",") {
				if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
					ids = append(ids, id)
				}
			}
		}
		include := true
		if r.URL.Query().Get("include_properties") != "" {
			include = queryBool(r, "include_properties")
		}
		fc, err := d.Fences.Export(r.Context(), ids, include)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{"geojson": fc, "fence_count": len(fc.Features)}, "围栏导出成功")
	})

	mux.HandleFunc("POST /api/fences/import/geojson", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			GeoJSON    json.RawMessage `json:"geojson"`
			OperatorID *int64          `json:"operator_id"`
		}
		if err := decodeBody(r, &body); err != nil || len(body.GeoJSON) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "geojson field required"})
			return
		}
		res, err := d.Fences.Import(r.Context(), body.GeoJSON, body.OperatorID)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏导入完成")
	})

	mux.HandleFunc("POST /api/fences/merge", func(w http.ResponseWriter, r *http.Request) {
		var req fence.MergeRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := d.Fences.Merge(r.Context(), req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏合并成功")
	})

	mux.HandleFunc("POST /api/fences/split", func(w http.ResponseWriter, r *http.Request) {
		var req fence.SplitRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := d.Fences.Split(r.Context(), req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏切割成功")
	})

	mux.HandleFunc("POST /api/fences/validate-geometry", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Geometry json.RawMessage `json:"geometry"`
		}
		if err := decodeBody(r, &body); err != nil || len(body.Geometry) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "geometry field required"})
			return
		}
		isValid := false
		var reason string
		poly, err := geometry.Decode(body.Geometry)
		if err == nil {
			_, err = d.Fences.Codec().Validate(poly)
		}
		if err != nil {
			reason = err.Error()
		} else {
			isValid = true
		}
		ok(w, map[string]any{"is_valid": isValid, "reason": reason}, "几何验证完成")
	})

	mux.HandleFunc("POST /api/fences/check-overlaps", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Geometry       json.RawMessage `json:"geometry"`
			ExcludeFenceID *int64          `json:"exclude_fence_id"`
		}
		if err := decodeBody(r, &body); err != nil || len(body.Geometry) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "geometry field required"})
			return
		}
		res, err := d.Fences.CheckOverlaps(r.Context(), body.Geometry, body.ExcludeFenceID)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "重叠检查完成")
	})

	mux.HandleFunc("GET /api/fences/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		res, err := d.Fences.Get(r.Context(), id,
			queryBool(r, "include_overlaps"), queryBool(r, "include_layer_analysis"))
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏详情获取成功")
	})

	mux.HandleFunc("PUT /api/fences/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		var req fence.UpdateRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		res, err := d.Fences.Update(r.Context(), id, req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, res, "围栏更新成功")
	})

	mux.HandleFunc("DELETE /api/fences/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		name, err := d.Fences.Delete(r.Context(), id, queryInt64Ptr(r, "operator_id"))
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{"fence_id": id, "fence_name": name}, "围栏删除成功")
	})

	mux.HandleFunc("GET /api/fences/{id}/overlaps", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		overlaps, err := d.Fences.Detect(r.Context(), id)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{
			"fence_id":      id,
			"overlaps":      overlaps,
			"overlap_count": len(overlaps),
		}, "重叠检测完成")
	})

	mux.HandleFunc("GET /api/fences/{id}/layer-analysis", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		var layerTypes []string
		if raw := r.URL.Query().Get("layer_types"); raw != "" {
			layerTypes = strings.Split(raw, ",")
		}
		analysis, err := d.Fences.LayerAnalysis(r.Context(), id, layerTypes)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{"fence_id": id, "layer_analysis": analysis}, "围栏图层分析完成")
	})

	mux.HandleFunc("GET /api/fences/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		id, valid := pathID(r, "id")
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid fence id"})
			return
		}
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		history, total, err := d.Fences.History(r.Context(), id, limit, offset)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{
			"fence_id":       id,
			"history":        history,
			"total_count":    total,
			"returned_count": len(history),
			"limit":          limit,
			"offset":         offset,
		}, "围栏历史获取成功")
	})

	mux.HandleFunc("GET /api/fence-groups/", func(w http.ResponseWriter, r *http.Request) {
		groups, err := d.Fences.Groups(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{"groups": groups, "total_count": len(groups)}, "围栏组列表获取成功")
	})

	mux.HandleFunc("POST /api/fence-groups/", func(w http.ResponseWriter, r *http.Request) {
		var req fence.CreateGroupRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		id, err := d.Fences.CreateGroup(r.Context(), req)
		if err != nil {
			fail(w, err)
			return
		}
		ok(w, map[string]any{"group_id": id, "group_name": req.GroupName}, "围栏组创建成功")
	})
}
