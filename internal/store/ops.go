package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"fence-api/internal/logger"
)

// Overlap：一条重叠检测结果，附带对方围栏的基础信息
type Overlap struct {
	OverlappingFenceID int64   `json:"overlapping_fence_id"`
	OverlapArea        float64 `json:"overlap_area"`
	OverlapPercentage  float64 `json:"overlap_percentage"`
	OverlapType        string  `json:"overlap_type"`
	FenceName          string  `json:"fence_name,omitempty"`
	FenceType          string  `json:"fence_type,omitempty"`
	FenceColor         string  `json:"fence_color,omitempty"`
}

// DetectOverlaps：调用库内函数做一次全量相交分析
func (s *Store) DetectOverlaps(ctx context.Context, fenceID int64) ([]Overlap, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT * FROM detect_fence_overlaps($1)", fenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Overlap
	for rows.Next() {
		var o Overlap
		if err := rows.Scan(&o.OverlappingFenceID, &o.OverlapArea, &o.OverlapPercentage, &o.OverlapType); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		row := db.QueryRowContext(ctx,
			"SELECT fence_name, fence_type, fence_color FROM electronic_fences WHERE id = $1",
			out[i].OverlappingFenceID)
		_ = row.Scan(&out[i].FenceName, &out[i].FenceType, &out[i].FenceColor)
	}
	return out, nil
}

// UpsertOverlap：写入重叠关系，对子无序
// 约束：始终按 (小id, 大id) 落库，同一对重复检测只刷新数值与时间
func (s *Store) UpsertOverlap(ctx context.Context, fenceID, otherID int64, area, pct float64, overlapType string) error {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO fence_overlaps (
			fence_id_1, fence_id_2, overlap_area,
			overlap_percentage_1, overlap_percentage_2, overlap_type
		) VALUES (LEAST($1, $2), GREATEST($1, $2), $3, $4, $5, $6)
		ON CONFLICT (fence_id_1, fence_id_2) DO UPDATE SET
			overlap_area = EXCLUDED.overlap_area,
			overlap_percentage_1 = EXCLUDED.overlap_percentage_1,
			overlap_percentage_2 = EXCLUDED.overlap_percentage_2,
			overlap_type = EXCLUDED.overlap_type,
			detected_at = CURRENT_TIMESTAMP`,
		fenceID, otherID, area, pct, 0.0, overlapType)
	return err
}

// Merge：合并围栏，库内函数负责并集、软删源栏与审计
// 返回：新围栏 ID；无法并成单一多边形时返回 ErrNotFound
func (s *Store) Merge(ctx context.Context, fenceIDs []int64, newName string, operatorID *int64) (int64, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return 0, err
	}
	var newID sql.NullInt64
	err = db.QueryRowContext(ctx, "SELECT merge_fences($1, $2, $3)",
		pq.Array(fenceIDs), newName, operatorID).Scan(&newID)
	if err != nil {
		return 0, err
	}
	if !newID.Valid {
		return 0, ErrNotFound
	}
	logger.L().Debug("fence_merge_done", "new_id", newID.Int64, "sources", len(fenceIDs))
	return newID.Int64, nil
}

// Split：切割围栏，返回各部件 ID
// 约束：分割线必须真正穿过围栏，否则库内函数返回 NULL
func (s *Store) Split(ctx context.Context, fenceID int64, lineWKT string, operatorID *int64) ([]int64, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return nil, err
	}
	var ids pq.Int64Array
	err = db.QueryRowContext(ctx,
		"SELECT split_fence($1, ST_GeomFromText($2, 4326), $3)",
		fenceID, lineWKT, operatorID).Scan(&ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	logger.L().Debug("fence_split_done", "id", fenceID, "parts", len(ids))
	return []int64(ids), nil
}

// LayerAnalysis：围栏内各图层要素统计，逐层调用库内分析函数
// 约束：函数会回写 fence_layer_associations，必须走写库
func (s *Store) LayerAnalysis(ctx context.Context, fenceID int64, layers []string) (map[string]json.RawMessage, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(layers))
	for _, layer := range layers {
		var raw []byte
		err := db.QueryRowContext(ctx,
			"SELECT analyze_fence_layer_features($1, $2)", fenceID, layer).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) || len(raw) == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[layer] = json.RawMessage(raw)
	}
	return out, nil
}

// CheckOverlaps：对尚未落库的几何做重叠预检
func (s *Store) CheckOverlaps(ctx context.Context, wkt string, excludeID *int64) ([]Overlap, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}

	cond := "fence_status = 'active'"
	args := []any{wkt}
	if excludeID != nil {
		cond += " AND id <> $2"
		args = append(args, *excludeID)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT
			id, fence_name, fence_type,
			ST_Area(ST_Intersection(fence_geometry, ST_GeomFromText($1, 4326))::geography),
			CASE WHEN ST_Area(ST_GeomFromText($1, 4326)::geography) > 0
				THEN ST_Area(ST_Intersection(fence_geometry, ST_GeomFromText($1, 4326))::geography)
					/ ST_Area(ST_GeomFromText($1, 4326)::geography) * 100
				ELSE 0 END
		FROM electronic_fences
		WHERE %s
		  AND ST_Intersects(fence_geometry, ST_GeomFromText($1, 4326))
		  AND ST_Area(ST_Intersection(fence_geometry, ST_GeomFromText($1, 4326))) > 0
		ORDER BY 4 DESC`, cond), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Overlap
	for rows.Next() {
		var o Overlap
		if err := rows.Scan(&o.OverlappingFenceID, &o.FenceName, &o.FenceType, &o.OverlapArea, &o.OverlapPercentage); err != nil {
			return nil, err
		}
		o.OverlapType = "partial"
		out = append(out, o)
	}
	return out, rows.Err()
}
