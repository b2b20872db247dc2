package fence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fence-api/internal/cache"
	"fence-api/internal/logger"
	"fence-api/internal/store"
)

// Feature：导出的 GeoJSON 要素
type Feature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// FeatureCollection：导出载体
type FeatureCollection struct {
	Type     string         `json:"type"`
	Features []Feature      `json:"features"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Export：活跃围栏导出为 FeatureCollection
// 约束：只导出活跃围栏；include_properties 控制是否带全部属性
func (m *Manager) Export(ctx context.Context, fenceIDs []int64, includeProperties bool) (*FeatureCollection, error) {
	rows, err := m.st.ExportRows(ctx, fenceIDs)
	if err != nil {
		return nil, err
	}

	features := make([]Feature, 0, len(rows))
	for _, f := range rows {
		props := map[string]any{
			"id":           f.ID,
			"fence_name":   f.Name,
			"fence_type":   f.Type,
			"fence_status": f.Status,
		}
		if includeProperties {
			props["fence_purpose"] = f.Purpose
			props["fence_level"] = f.Level
			props["fence_color"] = f.Color
			props["fence_opacity"] = f.Opacity
			props["fence_description"] = f.Description
			props["fence_area"] = f.Area
			props["fence_perimeter"] = f.Perimeter
			props["group_id"] = f.GroupID
			props["owner_id"] = f.OwnerID
			props["creator_id"] = f.CreatorID
			props["created_at"] = f.CreatedAt.Format(time.RFC3339)
			props["updated_at"] = f.UpdatedAt.Format(time.RFC3339)
			if len(f.Tags) > 0 {
				props["fence_tags"] = f.Tags
			}
			if len(f.Config) > 0 {
				props["fence_config"] = f.Config
			}
		}
		features = append(features, Feature{
			Type:       "Feature",
			Properties: props,
			Geometry:   f.Geometry,
		})
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
		Metadata: map[string]any{
			"generated_at": time.Now().Format(time.RFC3339),
			"fence_count":  len(features),
		},
	}, nil
}

// ImportResult：导入汇总
// 背景：逐要素隔离失败，单个要素的坏几何不影响其余要素入库
type ImportResult struct {
	ImportedCount int   `json:"imported_count"`
	SkippedCount  int   `json:"skipped_count"`
	ErrorCount    int   `json:"error_count"`
	TotalFeatures int   `json:"total_features"`
	FenceIDs      []int64 `json:"fence_ids"`
}

// Import：从 FeatureCollection 导入围栏
func (m *Manager) Import(ctx context.Context, raw json.RawMessage, operatorID *int64) (*ImportResult, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("no features to import")
	}

	res := &ImportResult{TotalFeatures: len(fc.Features)}
	for i, feat := range fc.Features {
		if feat.Type != "Feature" || len(feat.Geometry) == 0 {
			res.SkippedCount++
			continue
		}
		req := CreateRequest{
			Name:      propStr(feat.Properties, "fence_name", fmt.Sprintf("imported_fence_%d", i+1)),
			Type:      propStr(feat.Properties, "fence_type", "polygon"),
			Geometry:  feat.Geometry,
			Color:     propStr(feat.Properties, "fence_color", ""),
			CreatorID: operatorID,
		}
		if v, ok := feat.Properties["fence_purpose"].(string); ok {
			req.Purpose = &v
		}
		if v, ok := feat.Properties["fence_description"].(string); ok {
			req.Description = &v
		}
		if v, ok := feat.Properties["fence_opacity"].(float64); ok {
			req.Opacity = v
		}

		created, err := m.Create(ctx, req)
		if err != nil {
			res.ErrorCount++
			logger.L().Debug("import_feature_fail", "index", i, "err", err)
			continue
		}
		res.ImportedCount++
		res.FenceIDs = append(res.FenceIDs, created.FenceID)
	}

	logger.L().Info("fences_imported",
		"imported", res.ImportedCount, "skipped", res.SkippedCount, "errors", res.ErrorCount)
	return res, nil
}

func propStr(props map[string]any, key, def string) string {
	if v, ok := props[key].(string); ok && v != "" {
		return v
	}
	return def
}

// StatisticsReport：统计页响应
type StatisticsReport struct {
	BasicStatistics   []store.TypeStat  `json:"basic_statistics"`
	OverlapStatistics store.OverlapStat `json:"overlap_statistics"`
	LayerStatistics   []store.LayerStat `json:"layer_statistics"`
	HistoryStatistics []store.OpStat    `json:"history_statistics"`
	GeneratedAt       string            `json:"generated_at"`
}

// Statistics：围栏系统统计，整页缓存
func (m *Manager) Statistics(ctx context.Context) (*StatisticsReport, error) {
	key := cache.Key("fence_stats", nil)
	if payload, hit := m.inv.Get(ctx, key); hit {
		var cached StatisticsReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			return &cached, nil
		}
	}

	basics, overlaps, ops, err := m.st.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	layerStats, err := m.st.LayerStats(ctx)
	if err != nil {
		logger.L().Warn("layer_stats_fail", "err", err)
	}
	report := &StatisticsReport{
		BasicStatistics:   basics,
		OverlapStatistics: overlaps,
		LayerStatistics:   layerStats,
		HistoryStatistics: ops,
		GeneratedAt:       time.Now().Format(time.RFC3339),
	}
	if payload, err := json.Marshal(report); err == nil {
		m.inv.Set(ctx, "fence_stats", key, payload)
	}
	return report, nil
}
