// 包 store：围栏数据访问层，基于读写分离连接池的原生 SQL
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"fence-api/internal/dbpool"
	"fence-api/internal/logger"
)

// ErrNotFound：目标围栏不存在或已被软删除
var ErrNotFound = errors.New("fence not found")

// Store：数据库访问入口
// 约束：读路径走副本池，写路径与写后读走主库池
type Store struct {
	pools *dbpool.Pools
}

func New(pools *dbpool.Pools) *Store { return &Store{pools: pools} }

// Fence：围栏完整记录，几何字段以 GeoJSON 原文传递
type Fence struct {
	ID            int64           `json:"id"`
	Name          string          `json:"fence_name"`
	Type          string          `json:"fence_type"`
	Purpose       *string         `json:"fence_purpose,omitempty"`
	Description   *string         `json:"fence_description,omitempty"`
	Status        string          `json:"fence_status"`
	Level         int             `json:"fence_level"`
	Color         string          `json:"fence_color"`
	Opacity       float64         `json:"fence_opacity"`
	StrokeColor   string          `json:"fence_stroke_color"`
	StrokeWidth   float64         `json:"fence_stroke_width"`
	StrokeOpacity float64         `json:"fence_stroke_opacity"`
	Area          float64         `json:"fence_area"`
	Perimeter     float64         `json:"fence_perimeter"`
	GroupID       *int64          `json:"group_id,omitempty"`
	OwnerID       *int64          `json:"owner_id,omitempty"`
	CreatorID     *int64          `json:"creator_id,omitempty"`
	Version       int             `json:"version"`
	IsLocked      bool            `json:"is_locked"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
	Geometry      json.RawMessage `json:"geometry,omitempty"`
	Bounds        json.RawMessage `json:"bounds,omitempty"`
	Center        json.RawMessage `json:"center,omitempty"`
	Tags          json.RawMessage `json:"fence_tags,omitempty"`
	Config        json.RawMessage `json:"fence_config,omitempty"`
}

// CreateParams：建栏入参，几何已在上层校验并转为 WKT
type CreateParams struct {
	Name          string
	Type          string
	WKT           string
	Purpose       *string
	Description   *string
	Color         string
	Opacity       float64
	StrokeColor   string
	StrokeWidth   float64
	StrokeOpacity float64
	GroupID       *int64
	OwnerID       *int64
	CreatorID     *int64
	Tags          json.RawMessage
	Config        json.RawMessage
}

const fenceColumns = `
	id, fence_name, fence_type, fence_purpose, fence_description,
	fence_status, fence_level, fence_color, fence_opacity,
	fence_stroke_color, fence_stroke_width, fence_stroke_opacity,
	COALESCE(fence_area, 0), COALESCE(fence_perimeter, 0),
	group_id, owner_id, creator_id, version, is_locked,
	created_at, updated_at, deleted_at,
	ST_AsGeoJSON(fence_geometry), ST_AsGeoJSON(fence_bounds), ST_AsGeoJSON(fence_center),
	fence_tags, fence_config`

func scanFence(row interface{ Scan(...any) error }) (*Fence, error) {
	var f Fence
	var geometry, bounds, center sql.NullString
	var tags, config []byte
	err := row.Scan(
		&f.ID, &f.Name, &f.Type, &f.Purpose, &f.Description,
		&f.Status, &f.Level, &f.Color, &f.Opacity,
		&f.StrokeColor, &f.StrokeWidth, &f.StrokeOpacity,
		&f.Area, &f.Perimeter,
		&f.GroupID, &f.OwnerID, &f.CreatorID, &f.Version, &f.IsLocked,
		&f.CreatedAt, &f.UpdatedAt, &f.DeletedAt,
		&geometry, &bounds, &center,
		&tags, &config,
	)
	if err != nil {
		return nil, err
	}
	if geometry.Valid {
		f.Geometry = json.RawMessage(geometry.String)
	}
	if bounds.Valid {
		f.Bounds = json.RawMessage(bounds.String)
	}
	if center.Valid {
		f.Center = json.RawMessage(center.String)
	}
	f.Tags = json.RawMessage(tags)
	f.Config = json.RawMessage(config)
	return &f, nil
}

// Create：插入围栏并返回新 ID
// 背景：面积、周长、外接框、中心点由库内触发器派生，这里只送原始几何
func (s *Store) Create(ctx context.Context, p CreateParams) (int64, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO electronic_fences (
			fence_name, fence_type, fence_geometry, fence_purpose, fence_description,
			fence_color, fence_opacity, fence_stroke_color, fence_stroke_width, fence_stroke_opacity,
			group_id, owner_id, creator_id, fence_tags, fence_config
		) VALUES ($1, $2, ST_GeomFromText($3, 4326), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		p.Name, p.Type, p.WKT, p.Purpose, p.Description,
		p.Color, p.Opacity, p.StrokeColor, p.StrokeWidth, p.StrokeOpacity,
		p.GroupID, p.OwnerID, p.CreatorID, nullJSON(p.Tags), nullJSON(p.Config),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	logger.L().Debug("fence_insert_done", "id", id, "name", p.Name)
	return id, nil
}

// ListFilter：列表过滤条件，零值字段不参与
type ListFilter struct {
	Status  string
	Type    string
	GroupID *int64
	OwnerID *int64
	// west, south, east, north
	BBox   *[4]float64
	Limit  int
	Offset int
}

// List：过滤查询围栏列表及总数
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Fence, int, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, 0, err
	}

	where := []string{"fence_status = $1"}
	status := f.Status
	if status == "" {
		status = "active"
	}
	args := []any{status}
	idx := 2

	if f.Type != "" {
		where = append(where, fmt.Sprintf("fence_type = $%d", idx))
		args = append(args, f.Type)
		idx++
	}
	if f.GroupID != nil {
		where = append(where, fmt.Sprintf("group_id = $%d", idx))
		args = append(args, *f.GroupID)
		idx++
	}
	if f.OwnerID != nil {
		where = append(where, fmt.Sprintf("owner_id = $%d", idx))
		args = append(args, *f.OwnerID)
		idx++
	}
	if f.BBox != nil {
		where = append(where, fmt.Sprintf(
			"fence_geometry && ST_MakeEnvelope($%d, $%d, $%d, $%d, 4326)", idx, idx+1, idx+2, idx+3))
		args = append(args, f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3])
		idx += 4
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM electronic_fences WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT %s FROM electronic_fences WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, fenceColumns, cond, idx, idx+1)
	rows, err := db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Fence
	for rows.Next() {
		fc, err := scanFence(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, fc)
	}
	return out, total, rows.Err()
}

// Get：按 ID 取围栏，包含软删除记录（详情页展示需要）
func (s *Store) Get(ctx context.Context, id int64) (*Fence, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return nil, err
	}
	f, err := scanFence(db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM electronic_fences WHERE id = $1", fenceColumns), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// UpdateParams：部分更新，nil 字段不动
type UpdateParams struct {
	Name        *string
	WKT         *string
	Purpose     *string
	Description *string
	Color       *string
	Opacity     *float64
	GroupID     *int64
	Tags        json.RawMessage
	Config      json.RawMessage
}

// Update：对活跃围栏做部分更新
// 约束：几何更新经触发器重算派生列并抬版本号；无字段可更新时报错
func (s *Store) Update(ctx context.Context, id int64, p UpdateParams) (*Fence, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return nil, err
	}

	sets := []string{}
	args := []any{}
	idx := 1
	add := func(expr string, v any) {
		sets = append(sets, fmt.Sprintf(expr, idx))
		args = append(args, v)
		idx++
	}
	if p.Name != nil {
		add("fence_name = $%d", *p.Name)
	}
	if p.WKT != nil {
		add("fence_geometry = ST_GeomFromText($%d, 4326)", *p.WKT)
	}
	if p.Purpose != nil {
		add("fence_purpose = $%d", *p.Purpose)
	}
	if p.Description != nil {
		add("fence_description = $%d", *p.Description)
	}
	if p.Color != nil {
		add("fence_color = $%d", *p.Color)
	}
	if p.Opacity != nil {
		add("fence_opacity = $%d", *p.Opacity)
	}
	if p.GroupID != nil {
		add("group_id = $%d", *p.GroupID)
	}
	if p.Tags != nil {
		add("fence_tags = $%d", []byte(p.Tags))
	}
	if p.Config != nil {
		add("fence_config = $%d", []byte(p.Config))
	}
	if len(sets) == 0 {
		return nil, errors.New("no fields to update")
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	q := fmt.Sprintf(`UPDATE electronic_fences SET %s
		WHERE id = $%d AND fence_status = 'active'
		RETURNING %s`, strings.Join(sets, ", "), idx, fenceColumns)
	f, err := scanFence(db.QueryRowContext(ctx, q, append(args, id)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	logger.L().Debug("fence_update_done", "id", id, "fields", len(sets)-1)
	return f, nil
}

// SoftDelete：软删除，同时清掉该围栏的重叠关系
// 约束：软删除不可逆，重复删除报不存在
func (s *Store) SoftDelete(ctx context.Context, id int64) (string, error) {
	db, err := s.pools.Acquire(false)
	if err != nil {
		return "", err
	}
	var name string
	err = db.QueryRowContext(ctx, `
		UPDATE electronic_fences
		SET fence_status = 'deleted', deleted_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND fence_status <> 'deleted'
		RETURNING fence_name`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	_, _ = db.ExecContext(ctx,
		"DELETE FROM fence_overlaps WHERE fence_id_1 = $1 OR fence_id_2 = $1", id)
	logger.L().Debug("fence_delete_done", "id", id, "name", name)
	return name, nil
}

// Exists：围栏是否存在（含软删除）
func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	db, err := s.pools.Acquire(true)
	if err != nil {
		return false, err
	}
	var ok bool
	err = db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM electronic_fences WHERE id = $1)", id).Scan(&ok)
	return ok, err
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
