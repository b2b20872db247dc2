package fence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fence-api/internal/geometry"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
	"fence-api/internal/store"
)

// MergeRequest：合并请求
type MergeRequest struct {
	FenceIDs     []int64 `json:"fence_ids"`
	NewFenceName string  `json:"new_fence_name"`
	OperatorID   *int64  `json:"operator_id"`
}

// MergeResult：合并结果
type MergeResult struct {
	NewFenceID       int64   `json:"new_fence_id"`
	MergedFenceIDs   []int64 `json:"merged_fence_ids"`
	OverlapsDetected bool    `json:"overlaps_detected"`
	OverlapsCount    int     `json:"overlaps_count"`
}

// Merge：多栏并一
// 约束：源围栏必须都活跃且并集是单一多边形；成功后源围栏软删除，
// 操作前后快照全部进审计表（库内函数负责）
func (m *Manager) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if len(req.FenceIDs) < 2 {
		metrics.FenceOpsTotal.WithLabelValues("merge", "rejected").Inc()
		return nil, ErrInsufficientInputs
	}
	if m.cfg.MaxMergeFences > 0 && len(req.FenceIDs) > m.cfg.MaxMergeFences {
		metrics.FenceOpsTotal.WithLabelValues("merge", "rejected").Inc()
		return nil, ErrTooManyInputs
	}
	if len(req.NewFenceName) == 0 || len(req.NewFenceName) > 100 {
		metrics.FenceOpsTotal.WithLabelValues("merge", "rejected").Inc()
		return nil, ErrInvalidName
	}

	newID, err := m.st.Merge(ctx, req.FenceIDs, req.NewFenceName, req.OperatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FenceOpsTotal.WithLabelValues("merge", "failed").Inc()
			return nil, ErrMergeFailed
		}
		metrics.FenceOpsTotal.WithLabelValues("merge", "error").Inc()
		return nil, err
	}

	overlaps := m.detectAndRecord(ctx, newID)
	m.inv.InvalidateAll(ctx)
	metrics.FenceOpsTotal.WithLabelValues("merge", "ok").Inc()
	logger.L().Info("fence_merged", "new_id", newID, "sources", len(req.FenceIDs))

	return &MergeResult{
		NewFenceID:       newID,
		MergedFenceIDs:   req.FenceIDs,
		OverlapsDetected: len(overlaps) > 0,
		OverlapsCount:    len(overlaps),
	}, nil
}

// SplitRequest：切割请求，分割线接受 WKT 或 GeoJSON LineString
type SplitRequest struct {
	FenceID    int64           `json:"fence_id"`
	SplitLine  json.RawMessage `json:"split_line"`
	OperatorID *int64          `json:"operator_id"`
}

// SplitResult：切割结果
type SplitResult struct {
	OriginalFenceID  int64   `json:"original_fence_id"`
	NewFenceIDs      []int64 `json:"new_fence_ids"`
	PartsCount       int     `json:"parts_count"`
	OverlapsDetected bool    `json:"overlaps_detected"`
	OverlapsCount    int     `json:"overlaps_count"`
}

// Split：一栏切多
// 约束：分割线必须真正穿过围栏；各部件继承原栏属性，原栏软删除
func (m *Manager) Split(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	line, err := geometry.DecodeLine(req.SplitLine)
	if err != nil {
		metrics.FenceOpsTotal.WithLabelValues("split", "rejected").Inc()
		if errors.Is(err, geometry.ErrTooFewPoints) {
			return nil, fmt.Errorf("%w: split line needs at least 2 points", ErrInsufficientInputs)
		}
		return nil, err
	}
	lineWKT, err := line.WKT()
	if err != nil {
		metrics.FenceOpsTotal.WithLabelValues("split", "rejected").Inc()
		return nil, err
	}

	newIDs, err := m.st.Split(ctx, req.FenceID, lineWKT, req.OperatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FenceOpsTotal.WithLabelValues("split", "failed").Inc()
			return nil, ErrSplitFailed
		}
		metrics.FenceOpsTotal.WithLabelValues("split", "error").Inc()
		return nil, err
	}
	if m.cfg.MaxSplitParts > 0 && len(newIDs) > m.cfg.MaxSplitParts {
		logger.L().Warn("fence_split_many_parts", "id", req.FenceID, "parts", len(newIDs))
	}

	total := 0
	for _, newID := range newIDs {
		total += len(m.detectAndRecord(ctx, newID))
	}
	m.inv.InvalidateAll(ctx)
	metrics.FenceOpsTotal.WithLabelValues("split", "ok").Inc()
	logger.L().Info("fence_split", "id", req.FenceID, "parts", len(newIDs))

	return &SplitResult{
		OriginalFenceID:  req.FenceID,
		NewFenceIDs:      newIDs,
		PartsCount:       len(newIDs),
		OverlapsDetected: total > 0,
		OverlapsCount:    total,
	}, nil
}

// History：围栏操作历史
func (m *Manager) History(ctx context.Context, id int64, limit, offset int) ([]store.HistoryEntry, int, error) {
	exists, err := m.st.Exists(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, ErrNotFound
	}
	return m.st.History(ctx, id, limit, offset)
}

// Groups：围栏组列表
func (m *Manager) Groups(ctx context.Context) ([]store.Group, error) {
	return m.st.Groups(ctx)
}

// CreateGroupRequest：建组请求
type CreateGroupRequest struct {
	GroupName        string          `json:"group_name"`
	GroupDescription *string         `json:"group_description"`
	GroupColor       string          `json:"group_color"`
	GroupTags        json.RawMessage `json:"group_tags"`
	ParentGroupID    *int64          `json:"parent_group_id"`
	CreatedBy        *int64          `json:"created_by"`
}

// CreateGroup：新建围栏组
func (m *Manager) CreateGroup(ctx context.Context, req CreateGroupRequest) (int64, error) {
	if len(req.GroupName) == 0 || len(req.GroupName) > 100 {
		return 0, ErrInvalidName
	}
	color := defaultStr(req.GroupColor, "#0066CC")
	return m.st.CreateGroup(ctx, req.GroupName, req.GroupDescription, color,
		req.GroupTags, req.ParentGroupID, req.CreatedBy)
}
