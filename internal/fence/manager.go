package fence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"fence-api/internal/cache"
	"fence-api/internal/config"
	"fence-api/internal/geometry"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
	"fence-api/internal/store"
)

// Storage：服务层需要的数据访问面
type Storage interface {
	Create(ctx context.Context, p store.CreateParams) (int64, error)
	List(ctx context.Context, f store.ListFilter) ([]*store.Fence, int, error)
	Get(ctx context.Context, id int64) (*store.Fence, error)
	Update(ctx context.Context, id int64, p store.UpdateParams) (*store.Fence, error)
	SoftDelete(ctx context.Context, id int64) (string, error)
	Exists(ctx context.Context, id int64) (bool, error)
	DetectOverlaps(ctx context.Context, fenceID int64) ([]store.Overlap, error)
	UpsertOverlap(ctx context.Context, fenceID, otherID int64, area, pct float64, overlapType string) error
	Merge(ctx context.Context, fenceIDs []int64, newName string, operatorID *int64) (int64, error)
	Split(ctx context.Context, fenceID int64, lineWKT string, operatorID *int64) ([]int64, error)
	LayerAnalysis(ctx context.Context, fenceID int64, layers []string) (map[string]json.RawMessage, error)
	CheckOverlaps(ctx context.Context, wkt string, excludeID *int64) ([]store.Overlap, error)
	AppendHistory(ctx context.Context, fenceID int64, opType string, summary json.RawMessage, oldWKT, newWKT *string, operatorID *int64) error
	History(ctx context.Context, fenceID int64, limit, offset int) ([]store.HistoryEntry, int, error)
	Groups(ctx context.Context) ([]store.Group, error)
	CreateGroup(ctx context.Context, name string, description *string, color string, tags json.RawMessage, parentID, createdBy *int64) (int64, error)
	Statistics(ctx context.Context) ([]store.TypeStat, store.OverlapStat, []store.OpStat, error)
	LayerStats(ctx context.Context) ([]store.LayerStat, error)
	ExportRows(ctx context.Context, fenceIDs []int64) ([]*store.Fence, error)
}

// ResultCache：读结果缓存与变更后的整体失效入口
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, kind, key string, payload []byte)
	InvalidateAll(ctx context.Context)
}

// Manager：围栏服务
// 背景：几何校验在进程内完成，布尔代数与派生列交给库；
// 任何写操作成功后整体失效结果缓存
type Manager struct {
	st    Storage
	inv   ResultCache
	codec *geometry.Codec
	cfg   config.FenceConfig
}

func NewManager(st Storage, inv ResultCache, cfg config.FenceConfig) *Manager {
	return &Manager{
		st:  st,
		inv: inv,
		codec: &geometry.Codec{
			MinArea:     cfg.MinArea,
			MinVertices: cfg.MinVertices,
			MaxVertices: cfg.MaxVertices,
		},
		cfg: cfg,
	}
}

// Codec：几何校验器，供校验接口直接复用
func (m *Manager) Codec() *geometry.Codec { return m.codec }

// CreateRequest：建栏请求
type CreateRequest struct {
	Name        string          `json:"fence_name"`
	Type        string          `json:"fence_type"`
	Geometry    json.RawMessage `json:"fence_geometry"`
	Purpose     *string         `json:"fence_purpose"`
	Description *string         `json:"fence_description"`
	Color       string          `json:"fence_color"`
	Opacity     float64         `json:"fence_opacity"`
	GroupID     *int64          `json:"group_id"`
	OwnerID     *int64          `json:"owner_id"`
	CreatorID   *int64          `json:"creator_id"`
	Tags        json.RawMessage `json:"fence_tags"`
	Config      json.RawMessage `json:"fence_config"`
}

// CreateResult：建栏结果，附带即时重叠检测摘要
type CreateResult struct {
	FenceID          int64           `json:"fence_id"`
	FenceName        string          `json:"fence_name"`
	FenceArea        float64         `json:"fence_area"`
	OverlapsDetected bool            `json:"overlaps_detected"`
	OverlapsCount    int             `json:"overlaps_count"`
	Overlaps         []store.Overlap `json:"overlaps,omitempty"`
}

// Create：校验几何、落库、检测重叠、失效缓存
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.Name) == 0 || len(req.Name) > 100 {
		metrics.FenceOpsTotal.WithLabelValues("create", "rejected").Inc()
		return nil, ErrInvalidName
	}

	poly, err := geometry.Decode(req.Geometry)
	if err != nil {
		metrics.FenceOpsTotal.WithLabelValues("create", "rejected").Inc()
		return nil, err
	}
	poly, err = m.codec.Validate(poly)
	if err != nil {
		metrics.FenceOpsTotal.WithLabelValues("create", "rejected").Inc()
		return nil, err
	}
	wkt, err := poly.WKT()
	if err != nil {
		return nil, err
	}

	p := store.CreateParams{
		Name:          req.Name,
		Type:          defaultStr(req.Type, "polygon"),
		WKT:           wkt,
		Purpose:       req.Purpose,
		Description:   req.Description,
		Color:         defaultStr(req.Color, m.cfg.DefaultColor),
		Opacity:       defaultFloat(req.Opacity, m.cfg.DefaultOpacity),
		StrokeColor:   m.cfg.DefaultStrokeColor,
		StrokeWidth:   m.cfg.DefaultStrokeWidth,
		StrokeOpacity: m.cfg.DefaultStrokeOpacity,
		GroupID:       req.GroupID,
		OwnerID:       req.OwnerID,
		CreatorID:     req.CreatorID,
		Tags:          req.Tags,
		Config:        req.Config,
	}
	id, err := m.st.Create(ctx, p)
	if err != nil {
		metrics.FenceOpsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	overlaps := m.detectAndRecord(ctx, id)
	m.appendHistory(ctx, id, "create",
		map[string]any{"fence_name": req.Name, "fence_type": p.Type},
		nil, &wkt, req.CreatorID)
	m.inv.InvalidateAll(ctx)
	metrics.FenceOpsTotal.WithLabelValues("create", "ok").Inc()
	logger.L().Info("fence_created", "id", id, "name", req.Name, "overlaps", len(overlaps))

	return &CreateResult{
		FenceID:          id,
		FenceName:        req.Name,
		FenceArea:        poly.Area(),
		OverlapsDetected: len(overlaps) > 0,
		OverlapsCount:    len(overlaps),
		Overlaps:         overlaps,
	}, nil
}

// UpdateRequest：部分更新请求，nil 字段不动
type UpdateRequest struct {
	Name        *string         `json:"fence_name"`
	Geometry    json.RawMessage `json:"fence_geometry"`
	Purpose     *string         `json:"fence_purpose"`
	Description *string         `json:"fence_description"`
	Color       *string         `json:"fence_color"`
	Opacity     *float64        `json:"fence_opacity"`
	GroupID     *int64          `json:"group_id"`
	Tags        json.RawMessage `json:"fence_tags"`
	Config      json.RawMessage `json:"fence_config"`
	OperatorID  *int64          `json:"operator_id"`
}

// UpdateResult：更新结果
type UpdateResult struct {
	FenceID          int64   `json:"fence_id"`
	FenceName        string  `json:"fence_name"`
	FenceArea        float64 `json:"fence_area"`
	OverlapsDetected bool    `json:"overlaps_detected"`
	OverlapsCount    int     `json:"overlaps_count"`
}

// Update：部分更新
// 约束：几何变化会重新校验并触发重叠重检；软删除的围栏不可更新
func (m *Manager) Update(ctx context.Context, id int64, req UpdateRequest) (*UpdateResult, error) {
	if req.Name != nil && (len(*req.Name) == 0 || len(*req.Name) > 100) {
		return nil, ErrInvalidName
	}

	p := store.UpdateParams{
		Name:        req.Name,
		Purpose:     req.Purpose,
		Description: req.Description,
		Color:       req.Color,
		Opacity:     req.Opacity,
		GroupID:     req.GroupID,
		Tags:        req.Tags,
		Config:      req.Config,
	}

	var newWKT, oldWKT *string
	if len(req.Geometry) > 0 {
		poly, err := geometry.Decode(req.Geometry)
		if err != nil {
			metrics.FenceOpsTotal.WithLabelValues("update", "rejected").Inc()
			return nil, err
		}
		poly, err = m.codec.Validate(poly)
		if err != nil {
			metrics.FenceOpsTotal.WithLabelValues("update", "rejected").Inc()
			return nil, err
		}
		wkt, err := poly.WKT()
		if err != nil {
			return nil, err
		}
		p.WKT = &wkt
		newWKT = &wkt
		oldWKT = m.geometrySnapshot(ctx, id)
	}

	f, err := m.st.Update(ctx, id, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FenceOpsTotal.WithLabelValues("update", "not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.FenceOpsTotal.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	var overlaps []store.Overlap
	if newWKT != nil {
		overlaps = m.detectAndRecord(ctx, id)
	}
	m.appendHistory(ctx, id, "update",
		map[string]any{"changed_fields": changedFields(req)},
		oldWKT, newWKT, req.OperatorID)
	m.inv.InvalidateAll(ctx)
	metrics.FenceOpsTotal.WithLabelValues("update", "ok").Inc()

	return &UpdateResult{
		FenceID:          id,
		FenceName:        f.Name,
		FenceArea:        f.Area,
		OverlapsDetected: len(overlaps) > 0,
		OverlapsCount:    len(overlaps),
	}, nil
}

// Delete：软删除
// 约束：删除是终态，之后任何更新与再删除都报不存在
func (m *Manager) Delete(ctx context.Context, id int64, operatorID *int64) (string, error) {
	name, err := m.st.SoftDelete(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FenceOpsTotal.WithLabelValues("delete", "not_found").Inc()
			return "", ErrNotFound
		}
		metrics.FenceOpsTotal.WithLabelValues("delete", "error").Inc()
		return "", err
	}
	m.appendHistory(ctx, id, "delete",
		map[string]any{"fence_name": name},
		m.geometrySnapshot(ctx, id), nil, operatorID)
	m.inv.InvalidateAll(ctx)
	metrics.FenceOpsTotal.WithLabelValues("delete", "ok").Inc()
	logger.L().Info("fence_deleted", "id", id, "name", name)
	return name, nil
}

// Get：围栏详情，按需附加重叠与图层分析；命中共享缓存时返回通用 map
func (m *Manager) Get(ctx context.Context, id int64, includeOverlaps, includeLayerAnalysis bool) (map[string]any, error) {
	key := cache.Key("fence_detail", map[string]string{
		"id":       strconv.FormatInt(id, 10),
		"overlaps": strconv.FormatBool(includeOverlaps),
		"analysis": strconv.FormatBool(includeLayerAnalysis),
	})
	if payload, hit := m.inv.Get(ctx, key); hit {
		var cached map[string]any
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	f, err := m.st.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := map[string]any{"fence": f}
	if includeOverlaps {
		overlaps, err := m.st.DetectOverlaps(ctx, id)
		if err == nil {
			out["overlaps"] = overlaps
		}
	}
	if includeLayerAnalysis {
		analysis, err := m.st.LayerAnalysis(ctx, id, defaultAnalysisLayers)
		if err == nil {
			out["layer_analysis"] = analysis
		}
	}
	_, total, err := m.st.History(ctx, id, 1, 0)
	if err == nil {
		out["history_count"] = total
	}
	if payload, err := json.Marshal(out); err == nil {
		m.inv.Set(ctx, "fence_detail", key, payload)
	}
	return out, nil
}

// List：过滤查询
func (m *Manager) List(ctx context.Context, f store.ListFilter) ([]*store.Fence, int, error) {
	return m.st.List(ctx, f)
}

var defaultAnalysisLayers = []string{"buildings", "roads", "pois", "water", "railways", "landuse"}

// appendHistory：落审计行，失败只告警不阻断写操作
func (m *Manager) appendHistory(ctx context.Context, id int64, op string,
	summary map[string]any, oldWKT, newWKT *string, operatorID *int64) {
	payload, err := json.Marshal(summary)
	if err != nil {
		payload = nil
	}
	if err := m.st.AppendHistory(ctx, id, op, payload, oldWKT, newWKT, operatorID); err != nil {
		logger.L().Warn("history_append_fail", "id", id, "op", op, "err", err)
	}
}

// geometrySnapshot：取当前几何的 WKT 快照，取不到返回 nil
func (m *Manager) geometrySnapshot(ctx context.Context, id int64) *string {
	f, err := m.st.Get(ctx, id)
	if err != nil || len(f.Geometry) == 0 {
		return nil
	}
	poly, err := geometry.Decode(f.Geometry)
	if err != nil {
		return nil
	}
	wkt, err := poly.WKT()
	if err != nil {
		return nil
	}
	return &wkt
}

func changedFields(req UpdateRequest) []string {
	fields := make([]string, 0, 9)
	if req.Name != nil {
		fields = append(fields, "fence_name")
	}
	if len(req.Geometry) > 0 {
		fields = append(fields, "fence_geometry")
	}
	if req.Purpose != nil {
		fields = append(fields, "fence_purpose")
	}
	if req.Description != nil {
		fields = append(fields, "fence_description")
	}
	if req.Color != nil {
		fields = append(fields, "fence_color")
	}
	if req.Opacity != nil {
		fields = append(fields, "fence_opacity")
	}
	if req.GroupID != nil {
		fields = append(fields, "group_id")
	}
	if len(req.Tags) > 0 {
		fields = append(fields, "fence_tags")
	}
	if len(req.Config) > 0 {
		fields = append(fields, "fence_config")
	}
	return fields
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
