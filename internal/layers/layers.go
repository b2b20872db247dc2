// 包 layers：按缩放策略出图层数据的查询管道
// 背景：解析策略 → 查缓存 → 副本查询（库内拼 GeoJSON）→ 清洗 → 回填缓存
package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fence-api/internal/cache"
	"fence-api/internal/dbpool"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
	"fence-api/internal/zoom"
)

// source：图层对应的物理表与属性投影
type source struct {
	table   string
	geomCol string
	props   string
	filter  string
	orderBy string
}

// 图层到物理表的映射
// 约束：buildings 等类目共用合并表，靠 fclass 过滤；围栏走业务表
var sources = map[string]source{
	"fences": {
		table:   "electronic_fences",
		geomCol: "fence_geometry",
		props: `'id', id, 'fence_name', fence_name, 'fence_type', fence_type,
			'fence_color', fence_color, 'fence_opacity', fence_opacity,
			'fence_status', fence_status`,
		filter:  "fence_status = 'active'",
		orderBy: "id",
	},
	"buildings": {
		table:   "merged_osm_features",
		geomCol: "geom",
		props:   mergedProps,
		filter: `(fclass IN ('building','buildings','house','residential','apartments',
			'commercial','industrial','office','retail','warehouse','hospital',
			'school','university','hotel','public') OR geometry_type = 'MultiPolygon')`,
		orderBy: namedFirst,
	},
	"land_polygons": {
		table:   "land_polygons",
		geomCol: "geom",
		props:   `'gid', gid, 'type', 'land_polygon'`,
		orderBy: "gid",
	},
	"roads": {
		table:   "osm_roads",
		geomCol: "geom",
		props:   `'gid', gid, 'name', COALESCE(name, ''), 'fclass', COALESCE(fclass, '')`,
		orderBy: namedFirst0,
	},
	"water": {
		table:   "osm_water_areas",
		geomCol: "geom",
		props:   `'gid', gid, 'name', COALESCE(name, ''), 'fclass', COALESCE(fclass, '')`,
		orderBy: namedFirst0,
	},
	"railways": {
		table:   "osm_railways",
		geomCol: "geom",
		props:   `'gid', gid, 'name', COALESCE(name, ''), 'fclass', COALESCE(fclass, '')`,
		orderBy: namedFirst0,
	},
	"landuse": {
		table:   "osm_landuse",
		geomCol: "geom",
		props:   `'gid', gid, 'name', COALESCE(name, ''), 'fclass', COALESCE(fclass, '')`,
		orderBy: namedFirst0,
	},
	"pois": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%pois%'",
		orderBy: namedFirst,
	},
	"traffic": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%traffic%'",
		orderBy: namedFirst,
	},
	"worship": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%worship%'",
		orderBy: namedFirst,
	},
	"transport": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%transport%'",
		orderBy: namedFirst,
	},
	"places": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%places%'",
		orderBy: namedFirst,
	},
	"natural": {
		table: "merged_osm_features", geomCol: "geom", props: mergedProps,
		filter:  "source_table LIKE '%natural%'",
		orderBy: namedFirst,
	},
}

const mergedProps = `'id', id, 'osm_id', COALESCE(osm_id, ''), 'name', COALESCE(name, ''),
	'fclass', COALESCE(fclass, ''), 'type', COALESCE(type, ''),
	'source_table', COALESCE(source_table, '')`

const namedFirst = "CASE WHEN name IS NOT NULL AND name != '' THEN 1 ELSE 2 END, id"
const namedFirst0 = "CASE WHEN name IS NOT NULL AND name != '' THEN 1 ELSE 2 END, gid"

// Service：图层查询服务
type Service struct {
	pools         *dbpool.Pools
	cm            *cache.Manager
	slowThreshold time.Duration
}

func New(pools *dbpool.Pools, cm *cache.Manager, slowThreshold time.Duration) *Service {
	return &Service{pools: pools, cm: cm, slowThreshold: slowThreshold}
}

// Request：一次图层查询
type Request struct {
	Layer string
	Zoom  int
	// west, south, east, north
	BBox  *[4]float64
	Limit int
}

// Result：FeatureCollection + 策略元信息
type Result struct {
	GeoJSON json.RawMessage `json:"geojson"`
	Policy  zoom.Policy     `json:"strategy"`
	Cached  bool            `json:"cached"`
}

var emptyCollection = json.RawMessage(`{"type":"FeatureCollection","features":[]}`)

// Layer：执行查询管道
// 约束：策略不放行时直接返回空集合与原因，不查库不写缓存
func (s *Service) Layer(ctx context.Context, req Request) (*Result, error) {
	policy := zoom.Resolve(req.Layer, req.Zoom)
	if !policy.LoadData {
		return &Result{GeoJSON: emptyCollection, Policy: policy}, nil
	}
	src, ok := sources[req.Layer]
	if !ok {
		return &Result{GeoJSON: emptyCollection, Policy: zoom.Policy{Reason: "layer_not_configured"}}, nil
	}

	params := map[string]string{
		"zoom": fmt.Sprintf("%d", req.Zoom),
	}
	if req.BBox != nil {
		params["bbox"] = fmt.Sprintf("%f,%f,%f,%f", req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3])
	}
	key := cache.Key(req.Layer, params)
	if payload, ok := s.cm.Get(ctx, key); ok {
		return &Result{GeoJSON: payload, Policy: policy, Cached: true}, nil
	}

	raw, err := s.query(ctx, src, req, policy)
	if err != nil {
		return nil, err
	}
	cleaned := cleanFeatures(raw)
	s.cm.Set(ctx, req.Layer, key, cleaned)
	return &Result{GeoJSON: cleaned, Policy: policy}, nil
}

func (s *Service) query(ctx context.Context, src source, req Request, policy zoom.Policy) (json.RawMessage, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}

	geomField := src.geomCol
	if policy.SimplifyTolerance > 0 {
		// 容差从米折算为度
		geomField = fmt.Sprintf("ST_Simplify(%s, %f)", src.geomCol, policy.SimplifyTolerance/111320.0)
	}

	cond := fmt.Sprintf(`%s IS NOT NULL AND ST_IsValid(%s)`, src.geomCol, src.geomCol)
	if src.filter != "" {
		cond += " AND " + src.filter
	}
	args := []any{}
	if req.BBox != nil {
		cond += fmt.Sprintf(" AND %s && ST_MakeEnvelope($1, $2, $3, $4, 4326)", src.geomCol)
		args = append(args, req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3])
	}

	limit := policy.MaxFeatures
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}

	q := fmt.Sprintf(`
		SELECT jsonb_build_object(
			'type', 'FeatureCollection',
			'features', COALESCE(jsonb_agg(
				jsonb_build_object(
					'type', 'Feature',
					'geometry', ST_AsGeoJSON(%s)::jsonb,
					'properties', jsonb_build_object(%s)
				)
			), '[]'::jsonb)
		)
		FROM (
			SELECT * FROM %s
			WHERE %s
			ORDER BY %s
			LIMIT %d
		) sub`,
		geomField, src.props, src.table, cond, src.orderBy, limit)

	start := time.Now()
	var payload []byte
	err = db.QueryRowContext(ctx, q, args...).Scan(&payload)
	elapsed := time.Since(start)
	if elapsed > s.slowThreshold {
		metrics.SlowQueriesTotal.WithLabelValues(req.Layer).Inc()
		logger.L().Warn("layer_query_slow", "layer", req.Layer, "zoom", req.Zoom,
			"duration_ms", elapsed.Milliseconds())
	}
	if err != nil {
		return nil, fmt.Errorf("query layer %s: %w", req.Layer, err)
	}
	logger.L().Debug("layer_query_done", "layer", req.Layer, "zoom", req.Zoom,
		"bytes", len(payload), "duration_ms", elapsed.Milliseconds())
	return payload, nil
}

// cleanFeatures：剔除几何为空的要素
// 背景：库内 ST_Simplify 偶尔把小图形简化成空几何，直接透传会让前端渲染报错；
// 清洗失败时原样返回
func cleanFeatures(raw json.RawMessage) json.RawMessage {
	var fc struct {
		Type     string                     `json:"type"`
		Features []map[string]json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(raw, &fc); err != nil || fc.Type != "FeatureCollection" {
		return raw
	}

	kept := make([]map[string]json.RawMessage, 0, len(fc.Features))
	for _, f := range fc.Features {
		geom, ok := f["geometry"]
		if !ok || !validGeom(geom) {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == len(fc.Features) {
		return raw
	}
	out, err := json.Marshal(map[string]any{"type": "FeatureCollection", "features": kept})
	if err != nil {
		return raw
	}
	return out
}

func validGeom(geom json.RawMessage) bool {
	s := string(geom)
	if s == "" || s == "null" || s == `"null"` || s == "{}" || s == `""` {
		return false
	}
	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(geom, &g); err != nil {
		return false
	}
	return g.Type != "" && len(g.Coordinates) > 0
}

// Layers：所有可查询图层名
func Layers() []string { return zoom.Layers() }
