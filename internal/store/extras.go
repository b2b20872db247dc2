package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// HistoryEntry：一条围栏操作审计
type HistoryEntry struct {
	ID             int64           `json:"id"`
	OperationType  string          `json:"operation_type"`
	ChangesSummary json.RawMessage `json:"changes_summary,omitempty"`
	ChangeReason   *string         `json:"change_reason,omitempty"`
	OperatedBy     *int64          `json:"operated_by,omitempty"`
	OperatedAt     time.Time       `json:"operated_at"`
	OldGeometry    json.RawMessage `json:"old_geometry,omitempty"`
	NewGeometry    json.RawMessage `json:"new_geometry,omitempty"`
}

// AppendHistory：追加审计记录
// 约束：审计表只追加不修改；几何快照以 WKT 传入，可为空
func (s *Store) AppendHistory(ctx context.Context, fenceID int64, opType string,
	summary json.RawMessage, oldWKT, newWKT *string, operatorID *int64) error {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO fence_history (
			fence_id, operation_type, changes_summary, old_geometry, new_geometry, operated_by
		) VALUES ($1, $2, $3,
			CASE WHEN $4::text IS NULL THEN NULL ELSE ST_GeomFromText($4, 4326) END,
			CASE WHEN $5::text IS NULL THEN NULL ELSE ST_GeomFromText($5, 4326) END,
			$6)`,
		fenceID, opType, nullJSON(summary), oldWKT, newWKT, operatorID)
	return err
}

// History：按时间倒序取围栏历史与总数
func (s *Store) History(ctx context.Context, fenceID int64, limit, offset int) ([]HistoryEntry, int, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fence_history WHERE fence_id = $1", fenceID).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, operation_type, changes_summary, change_reason, operated_by, operated_at,
			ST_AsGeoJSON(old_geometry), ST_AsGeoJSON(new_geometry)
		FROM fence_history
		WHERE fence_id = $1
		ORDER BY operated_at DESC
		LIMIT $2 OFFSET $3`, fenceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var summary []byte
		var oldGeom, newGeom sql.NullString
		if err := rows.Scan(&h.ID, &h.OperationType, &summary, &h.ChangeReason,
			&h.OperatedBy, &h.OperatedAt, &oldGeom, &newGeom); err != nil {
			return nil, 0, err
		}
		h.ChangesSummary = json.RawMessage(summary)
		if oldGeom.Valid {
			h.OldGeometry = json.RawMessage(oldGeom.String)
		}
		if newGeom.Valid {
			h.NewGeometry = json.RawMessage(newGeom.String)
		}
		out = append(out, h)
	}
	return out, total, rows.Err()
}

// Group：围栏组
type Group struct {
	ID            int64           `json:"id"`
	Name          string          `json:"group_name"`
	Description   *string         `json:"group_description,omitempty"`
	Color         string          `json:"group_color"`
	Tags          json.RawMessage `json:"group_tags,omitempty"`
	ParentGroupID *int64          `json:"parent_group_id,omitempty"`
	CreatedBy     *int64          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FenceCount    int             `json:"fence_count"`
}

// Groups：全部围栏组及各组活跃围栏数
func (s *Store) Groups(ctx context.Context) ([]Group, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			id, group_name, group_description, group_color,
			group_tags, parent_group_id, created_by, created_at,
			(SELECT COUNT(*) FROM electronic_fences
				WHERE group_id = fg.id AND fence_status = 'active')
		FROM fence_groups fg
		ORDER BY group_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		var tags []byte
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Color,
			&tags, &g.ParentGroupID, &g.CreatedBy, &g.CreatedAt, &g.FenceCount); err != nil {
			return nil, err
		}
		g.Tags = json.RawMessage(tags)
		out = append(out, g)
	}
	return out, rows.Err()
}

// CreateGroup：新建围栏组
func (s *Store) CreateGroup(ctx context.Context, name string, description *string,
	color string, tags json.RawMessage, parentID, createdBy *int64) (int64, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO fence_groups (
			group_name, group_description, group_color, group_tags, parent_group_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		name, description, color, nullJSON(tags), parentID, createdBy).Scan(&id)
	return id, err
}

// TypeStat：按类型与状态汇总的围栏分布
type TypeStat struct {
	FenceType  string  `json:"fence_type"`
	Status     string  `json:"fence_status"`
	FenceCount int     `json:"fence_count"`
	TotalArea  float64 `json:"total_area"`
	AvgArea    float64 `json:"avg_area"`
}

// OverlapStat：全局重叠情况汇总
type OverlapStat struct {
	TotalOverlaps      int     `json:"total_overlaps"`
	UnresolvedOverlaps int     `json:"unresolved_overlaps"`
	AvgOverlapArea     float64 `json:"avg_overlap_area"`
	MaxOverlapArea     float64 `json:"max_overlap_area"`
}

// LayerStat：各图层关联到围栏的特征量汇总
type LayerStat struct {
	LayerType     string  `json:"layer_type"`
	FenceCount    int     `json:"fence_count"`
	TotalFeatures int64   `json:"total_features"`
	AvgFeatures   float64 `json:"avg_features"`
}

// OpStat：近 30 天各操作的按日计数
type OpStat struct {
	OperationType  string    `json:"operation_type"`
	OperationCount int       `json:"operation_count"`
	OperationDate  time.Time `json:"operation_date"`
}

// Statistics：统计页三组数据
func (s *Store) Statistics(ctx context.Context) ([]TypeStat, OverlapStat, []OpStat, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, OverlapStat{}, nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM v_fence_statistics")
	if err != nil {
		return nil, OverlapStat{}, nil, err
	}
	var basics []TypeStat
	for rows.Next() {
		var t TypeStat
		if err := rows.Scan(&t.FenceType, &t.Status, &t.FenceCount, &t.TotalArea, &t.AvgArea); err != nil {
			rows.Close()
			return nil, OverlapStat{}, nil, err
		}
		basics = append(basics, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, OverlapStat{}, nil, err
	}

	var ov OverlapStat
	_ = db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN resolved_at IS NULL THEN 1 END),
			COALESCE(AVG(overlap_area), 0),
			COALESCE(MAX(overlap_area), 0)
		FROM fence_overlaps`).Scan(&ov.TotalOverlaps, &ov.UnresolvedOverlaps, &ov.AvgOverlapArea, &ov.MaxOverlapArea)

	opRows, err := db.QueryContext(ctx, `
		SELECT operation_type, COUNT(*), DATE_TRUNC('day', operated_at)
		FROM fence_history
		WHERE operated_at > CURRENT_DATE - INTERVAL '30 days'
		GROUP BY operation_type, DATE_TRUNC('day', operated_at)
		ORDER BY 3 DESC`)
	if err != nil {
		return nil, OverlapStat{}, nil, err
	}
	defer opRows.Close()
	var ops []OpStat
	for opRows.Next() {
		var o OpStat
		if err := opRows.Scan(&o.OperationType, &o.OperationCount, &o.OperationDate); err != nil {
			return nil, OverlapStat{}, nil, err
		}
		ops = append(ops, o)
	}
	return basics, ov, ops, opRows.Err()
}

// LayerStats：按图层汇总关联分析结果
func (s *Store) LayerStats(ctx context.Context) ([]LayerStat, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT layer_type, COUNT(*), SUM(feature_count), AVG(feature_count)
		FROM fence_layer_associations
		GROUP BY layer_type
		ORDER BY 3 DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LayerStat
	for rows.Next() {
		var l LayerStat
		if err := rows.Scan(&l.LayerType, &l.FenceCount, &l.TotalFeatures, &l.AvgFeatures); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ExportRows：导出用的活跃围栏全量行
// 约束：指定 ID 集合时只导出集合内的活跃围栏
func (s *Store) ExportRows(ctx context.Context, fenceIDs []int64) ([]*Fence, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + fenceColumns + " FROM electronic_fences WHERE fence_status = 'active'"
	args := []any{}
	if len(fenceIDs) > 0 {
		q += " AND id = ANY($1)"
		args = append(args, pq.Array(fenceIDs))
	}
	q += " ORDER BY id"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fence
	for rows.Next() {
		f, err := scanFence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
