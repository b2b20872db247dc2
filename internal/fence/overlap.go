package fence

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"fence-api/internal/cache"
	"fence-api/internal/geometry"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
	"fence-api/internal/store"
)

// Detect：对已有围栏做一次全量重叠检测
func (m *Manager) Detect(ctx context.Context, id int64) ([]store.Overlap, error) {
	exists, err := m.st.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return m.detectAndRecordErr(ctx, id)
}

// detectAndRecord：检测 + 落关系表，检测失败只记日志不阻断主流程
// 背景：建栏/改栏时的重叠检测是附属信息，失败不应让写操作回滚
func (m *Manager) detectAndRecord(ctx context.Context, id int64) []store.Overlap {
	overlaps, err := m.detectAndRecordErr(ctx, id)
	if err != nil {
		logger.L().Warn("overlap_detect_fail", "id", id, "err", err)
		return nil
	}
	return overlaps
}

func (m *Manager) detectAndRecordErr(ctx context.Context, id int64) ([]store.Overlap, error) {
	overlaps, err := m.st.DetectOverlaps(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.OverlapDetectionsTotal.Inc()
	metrics.OverlapPairsTotal.Add(float64(len(overlaps)))

	for _, o := range overlaps {
		if err := m.st.UpsertOverlap(ctx, id, o.OverlappingFenceID,
			o.OverlapArea, o.OverlapPercentage, o.OverlapType); err != nil {
			logger.L().Warn("overlap_upsert_fail", "id", id, "other", o.OverlappingFenceID, "err", err)
		}
	}
	return overlaps, nil
}

// CheckResult：未落库几何的重叠预检结果
type CheckResult struct {
	HasOverlaps       bool            `json:"has_overlaps"`
	OverlapCount      int             `json:"overlap_count"`
	OverlappingFences []store.Overlap `json:"overlapping_fences"`
}

// CheckOverlaps：对候选几何做重叠预检，不写任何表
func (m *Manager) CheckOverlaps(ctx context.Context, raw []byte, excludeID *int64) (*CheckResult, error) {
	poly, err := geometry.Decode(raw)
	if err != nil {
		return nil, err
	}
	poly, err = m.codec.Validate(poly)
	if err != nil {
		return nil, err
	}
	wkt, err := poly.WKT()
	if err != nil {
		return nil, err
	}
	overlaps, err := m.st.CheckOverlaps(ctx, wkt, excludeID)
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		HasOverlaps:       len(overlaps) > 0,
		OverlapCount:      len(overlaps),
		OverlappingFences: overlaps,
	}, nil
}

// LayerAnalysis：围栏内图层要素分析
func (m *Manager) LayerAnalysis(ctx context.Context, id int64, layers []string) (map[string]any, error) {
	exists, err := m.st.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if len(layers) == 0 {
		layers = defaultAnalysisLayers
	}
	key := cache.Key("layer_analysis", map[string]string{
		"id":     strconv.FormatInt(id, 10),
		"layers": strings.Join(layers, ","),
	})
	if payload, hit := m.inv.Get(ctx, key); hit {
		var cached map[string]any
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}
	analysis, err := m.st.LayerAnalysis(ctx, id, layers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(analysis))
	for k, v := range analysis {
		out[k] = v
	}
	if payload, err := json.Marshal(out); err == nil {
		m.inv.Set(ctx, "layer_analysis", key, payload)
	}
	return out, nil
}
