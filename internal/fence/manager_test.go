package fence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fence-api/internal/config"
	"fence-api/internal/store"
)

// fakeStore：内存版 Storage，软删除语义与真实存储一致
type fakeStore struct {
	nextID    int64
	fences    map[int64]*store.Fence
	overlaps  []store.Overlap
	upserts   [][2]int64
	history   map[int64][]store.HistoryEntry
	groups    []store.Group
	mergeID   int64
	splitIDs  []int64
	statCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:  1,
		fences:  make(map[int64]*store.Fence),
		history: make(map[int64][]store.HistoryEntry),
	}
}

func (s *fakeStore) Create(_ context.Context, p store.CreateParams) (int64, error) {
	id := s.nextID
	s.nextID++
	geom, _ := json.Marshal(p.WKT)
	s.fences[id] = &store.Fence{ID: id, Name: p.Name, Type: p.Type, Status: "active", Version: 1, Geometry: geom}
	return id, nil
}

func (s *fakeStore) List(_ context.Context, f store.ListFilter) ([]*store.Fence, int, error) {
	status := f.Status
	if status == "" {
		status = "active"
	}
	var out []*store.Fence
	for _, fc := range s.fences {
		if fc.Status == status {
			out = append(out, fc)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (*store.Fence, error) {
	f, ok := s.fences[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f, nil
}

func (s *fakeStore) Update(_ context.Context, id int64, p store.UpdateParams) (*store.Fence, error) {
	f, ok := s.fences[id]
	if !ok || f.Status != "active" {
		return nil, store.ErrNotFound
	}
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.WKT != nil {
		geom, _ := json.Marshal(*p.WKT)
		f.Geometry = geom
		f.Version++
	}
	return f, nil
}

func (s *fakeStore) SoftDelete(_ context.Context, id int64) (string, error) {
	f, ok := s.fences[id]
	if !ok || f.Status == "deleted" {
		return "", store.ErrNotFound
	}
	f.Status = "deleted"
	return f.Name, nil
}

func (s *fakeStore) Exists(_ context.Context, id int64) (bool, error) {
	_, ok := s.fences[id]
	return ok, nil
}

func (s *fakeStore) DetectOverlaps(_ context.Context, _ int64) ([]store.Overlap, error) {
	return s.overlaps, nil
}

func (s *fakeStore) UpsertOverlap(_ context.Context, a, b int64, _, _ float64, _ string) error {
	if a > b {
		a, b = b, a
	}
	s.upserts = append(s.upserts, [2]int64{a, b})
	return nil
}

func (s *fakeStore) Merge(_ context.Context, ids []int64, name string, _ *int64) (int64, error) {
	if s.mergeID == 0 {
		return 0, store.ErrNotFound
	}
	for _, id := range ids {
		if f, ok := s.fences[id]; ok {
			f.Status = "deleted"
		}
	}
	s.fences[s.mergeID] = &store.Fence{ID: s.mergeID, Name: name, Status: "active"}
	return s.mergeID, nil
}

func (s *fakeStore) Split(_ context.Context, id int64, _ string, _ *int64) ([]int64, error) {
	if len(s.splitIDs) == 0 {
		return nil, store.ErrNotFound
	}
	if f, ok := s.fences[id]; ok {
		f.Status = "deleted"
	}
	for _, nid := range s.splitIDs {
		s.fences[nid] = &store.Fence{ID: nid, Status: "active"}
	}
	return s.splitIDs, nil
}

func (s *fakeStore) LayerAnalysis(_ context.Context, _ int64, layers []string) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	for _, l := range layers {
		out[l] = json.RawMessage(`{"feature_count":1}`)
	}
	return out, nil
}

func (s *fakeStore) CheckOverlaps(_ context.Context, _ string, _ *int64) ([]store.Overlap, error) {
	return s.overlaps, nil
}

func (s *fakeStore) AppendHistory(_ context.Context, id int64, op string, summary json.RawMessage, oldWKT, newWKT *string, _ *int64) error {
	e := store.HistoryEntry{OperationType: op, ChangesSummary: summary}
	if oldWKT != nil {
		e.OldGeometry = json.RawMessage(*oldWKT)
	}
	if newWKT != nil {
		e.NewGeometry = json.RawMessage(*newWKT)
	}
	s.history[id] = append(s.history[id], e)
	return nil
}

func (s *fakeStore) History(_ context.Context, id int64, _, _ int) ([]store.HistoryEntry, int, error) {
	return s.history[id], len(s.history[id]), nil
}

func (s *fakeStore) Groups(_ context.Context) ([]store.Group, error) { return s.groups, nil }

func (s *fakeStore) CreateGroup(_ context.Context, name string, _ *string, color string, _ json.RawMessage, _, _ *int64) (int64, error) {
	id := s.nextID
	s.nextID++
	s.groups = append(s.groups, store.Group{ID: id, Name: name, Color: color})
	return id, nil
}

func (s *fakeStore) Statistics(_ context.Context) ([]store.TypeStat, store.OverlapStat, []store.OpStat, error) {
	s.statCalls++
	return []store.TypeStat{{FenceType: "polygon", Status: "active", FenceCount: len(s.fences)}},
		store.OverlapStat{}, nil, nil
}

func (s *fakeStore) LayerStats(_ context.Context) ([]store.LayerStat, error) { return nil, nil }

func (s *fakeStore) ExportRows(_ context.Context, _ []int64) ([]*store.Fence, error) {
	var out []*store.Fence
	for _, f := range s.fences {
		if f.Status == "active" {
			out = append(out, f)
		}
	}
	return out, nil
}

// fakeInvalidator：记录失效次数的内存缓存
type fakeInvalidator struct {
	calls   int
	entries map[string][]byte
}

func (i *fakeInvalidator) Get(_ context.Context, key string) ([]byte, bool) {
	payload, ok := i.entries[key]
	return payload, ok
}

func (i *fakeInvalidator) Set(_ context.Context, _, key string, payload []byte) {
	if i.entries == nil {
		i.entries = make(map[string][]byte)
	}
	i.entries[key] = payload
}

func (i *fakeInvalidator) InvalidateAll(context.Context) {
	i.calls++
	i.entries = nil
}

func testFenceConfig() config.FenceConfig {
	return config.FenceConfig{
		MinArea:        10,
		MinVertices:    3,
		MaxVertices:    10000,
		DefaultColor:   "#FF0000",
		DefaultOpacity: 0.3,
		MaxMergeFences: 10,
		MaxSplitParts:  20,
	}
}

func newTestManager() (*Manager, *fakeStore, *fakeInvalidator) {
	st := newFakeStore()
	inv := &fakeInvalidator{}
	return NewManager(st, inv, testFenceConfig()), st, inv
}

var validGeometry = json.RawMessage(
	`{"type":"Polygon","coordinates":[[[116.30,39.90],[116.31,39.90],[116.31,39.91],[116.30,39.91],[116.30,39.90]]]}`)

func TestCreateFence(t *testing.T) {
	m, st, inv := newTestManager()
	res, err := m.Create(context.Background(), CreateRequest{Name: "园区A", Geometry: validGeometry})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FenceID)
	assert.Greater(t, res.FenceArea, 10.0)
	assert.False(t, res.OverlapsDetected)
	assert.Equal(t, 1, inv.calls)
	assert.Len(t, st.history[1], 1)
}

func TestCreateFenceAcceptsWKT(t *testing.T) {
	m, _, _ := newTestManager()
	wkt := json.RawMessage(`"POLYGON((116.30 39.90,116.31 39.90,116.31 39.91,116.30 39.91,116.30 39.90))"`)
	res, err := m.Create(context.Background(), CreateRequest{Name: "wkt", Geometry: wkt})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FenceID)
}

func TestCreateFenceRejectsBadName(t *testing.T) {
	m, _, inv := newTestManager()
	_, err := m.Create(context.Background(), CreateRequest{Name: "", Geometry: validGeometry})
	assert.ErrorIs(t, err, ErrInvalidName)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	_, err = m.Create(context.Background(), CreateRequest{Name: string(long), Geometry: validGeometry})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Zero(t, inv.calls)
}

func TestCreateFenceRejectsBowtie(t *testing.T) {
	m, _, _ := newTestManager()
	bowtie := json.RawMessage(
		`{"type":"Polygon","coordinates":[[[116.30,39.90],[116.31,39.91],[116.31,39.90],[116.30,39.91],[116.30,39.90]]]}`)
	_, err := m.Create(context.Background(), CreateRequest{Name: "bad", Geometry: bowtie})
	assert.Error(t, err)
}

func TestCreateFenceRejectsTinyArea(t *testing.T) {
	m, _, _ := newTestManager()
	tiny := json.RawMessage(
		`{"type":"Polygon","coordinates":[[[116.3,39.9],[116.3000001,39.9],[116.3000001,39.9000001],[116.3,39.9]]]}`)
	_, err := m.Create(context.Background(), CreateRequest{Name: "tiny", Geometry: tiny})
	assert.Error(t, err)
}

func TestCreateRecordsOverlapsUnordered(t *testing.T) {
	m, st, _ := newTestManager()
	st.overlaps = []store.Overlap{{OverlappingFenceID: 9, OverlapArea: 50, OverlapPercentage: 10}}
	res, err := m.Create(context.Background(), CreateRequest{Name: "overlapping", Geometry: validGeometry})
	require.NoError(t, err)
	assert.True(t, res.OverlapsDetected)
	assert.Equal(t, 1, res.OverlapsCount)
	require.Len(t, st.upserts, 1)
	// 对子始终按 (小id, 大id) 记录
	assert.Equal(t, [2]int64{1, 9}, st.upserts[0])
}

func TestDeleteIsFinal(t *testing.T) {
	m, _, inv := newTestManager()
	res, err := m.Create(context.Background(), CreateRequest{Name: "victim", Geometry: validGeometry})
	require.NoError(t, err)

	name, err := m.Delete(context.Background(), res.FenceID, nil)
	require.NoError(t, err)
	assert.Equal(t, "victim", name)

	// 已删除：再删、再改都报不存在
	_, err = m.Delete(context.Background(), res.FenceID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	n := "renamed"
	_, err = m.Update(context.Background(), res.FenceID, UpdateRequest{Name: &n})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inv.calls)
}

func TestUpdateGeometryBumpsVersion(t *testing.T) {
	m, st, _ := newTestManager()
	res, err := m.Create(context.Background(), CreateRequest{Name: "v", Geometry: validGeometry})
	require.NoError(t, err)
	assert.Equal(t, 1, st.fences[res.FenceID].Version)

	_, err = m.Update(context.Background(), res.FenceID, UpdateRequest{Geometry: validGeometry})
	require.NoError(t, err)
	assert.Equal(t, 2, st.fences[res.FenceID].Version)
}

func TestMergeValidation(t *testing.T) {
	m, st, _ := newTestManager()
	_, err := m.Merge(context.Background(), MergeRequest{FenceIDs: []int64{1}, NewFenceName: "x"})
	assert.ErrorIs(t, err, ErrInsufficientInputs)

	many := make([]int64, 11)
	_, err = m.Merge(context.Background(), MergeRequest{FenceIDs: many, NewFenceName: "x"})
	assert.ErrorIs(t, err, ErrTooManyInputs)

	// 存储层拿不出单一多边形时返回合并失败
	st.mergeID = 0
	_, err = m.Merge(context.Background(), MergeRequest{FenceIDs: []int64{1, 2}, NewFenceName: "x"})
	assert.ErrorIs(t, err, ErrMergeFailed)
}

func TestMergeSoftDeletesSources(t *testing.T) {
	m, st, inv := newTestManager()
	a, _ := m.Create(context.Background(), CreateRequest{Name: "a", Geometry: validGeometry})
	b, _ := m.Create(context.Background(), CreateRequest{Name: "b", Geometry: validGeometry})
	st.mergeID = 100

	res, err := m.Merge(context.Background(), MergeRequest{
		FenceIDs: []int64{a.FenceID, b.FenceID}, NewFenceName: "合并栏",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewFenceID)
	assert.Equal(t, "deleted", st.fences[a.FenceID].Status)
	assert.Equal(t, "deleted", st.fences[b.FenceID].Status)
	assert.Equal(t, "active", st.fences[100].Status)
	assert.Equal(t, 3, inv.calls)
}

func TestSplitFence(t *testing.T) {
	m, st, _ := newTestManager()
	orig, _ := m.Create(context.Background(), CreateRequest{Name: "whole", Geometry: validGeometry})
	st.splitIDs = []int64{200, 201}

	line := json.RawMessage(`{"type":"LineString","coordinates":[[116.305,39.89],[116.305,39.92]]}`)
	res, err := m.Split(context.Background(), SplitRequest{FenceID: orig.FenceID, SplitLine: line})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PartsCount)
	assert.Equal(t, "deleted", st.fences[orig.FenceID].Status)
}

func TestSplitFailurePropagates(t *testing.T) {
	m, st, _ := newTestManager()
	st.splitIDs = nil
	line := json.RawMessage(`"LINESTRING(116.305 39.89,116.305 39.92)"`)
	_, err := m.Split(context.Background(), SplitRequest{FenceID: 1, SplitLine: line})
	assert.ErrorIs(t, err, ErrSplitFailed)

	_, err = m.Split(context.Background(), SplitRequest{FenceID: 1, SplitLine: json.RawMessage(`"LINESTRING(1 1)"`)})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSplitFailed)
}

func TestSplitRejectsShortLineWithExplicitError(t *testing.T) {
	m, _, _ := newTestManager()

	// 单点分割线：不是格式问题而是点数不足，报错要说清这一点
	for _, line := range []json.RawMessage{
		json.RawMessage(`"LINESTRING(116.305 39.89)"`),
		json.RawMessage(`{"type":"LineString","coordinates":[[116.305,39.89]]}`),
	} {
		_, err := m.Split(context.Background(), SplitRequest{FenceID: 1, SplitLine: line})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientInputs)
		assert.Contains(t, err.Error(), "at least 2 points")
	}
}

func TestHistoryRequiresExistingFence(t *testing.T) {
	m, _, _ := newTestManager()
	_, _, err := m.History(context.Background(), 42, 50, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportIsolatesBadFeatures(t *testing.T) {
	m, _, _ := newTestManager()
	fc := `{
		"type": "FeatureCollection",
		"features": [
			{"type":"Feature","properties":{"fence_name":"好栏"},
			 "geometry":{"type":"Polygon","coordinates":[[[116.30,39.90],[116.31,39.90],[116.31,39.91],[116.30,39.90]]]}},
			{"type":"Feature","properties":{},
			 "geometry":{"type":"Point","coordinates":[1,2]}},
			{"type":"NotAFeature"}
		]
	}`
	res, err := m.Import(context.Background(), json.RawMessage(fc), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ImportedCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, 3, res.TotalFeatures)
}

func TestImportRejectsNonCollection(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.Import(context.Background(), json.RawMessage(`{"type":"Feature"}`), nil)
	assert.Error(t, err)
}

func TestExportOnlyActive(t *testing.T) {
	m, _, _ := newTestManager()
	a, _ := m.Create(context.Background(), CreateRequest{Name: "keep", Geometry: validGeometry})
	b, _ := m.Create(context.Background(), CreateRequest{Name: "drop", Geometry: validGeometry})
	_, err := m.Delete(context.Background(), b.FenceID, nil)
	require.NoError(t, err)

	fc, err := m.Export(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, a.FenceID, fc.Features[0].Properties["id"])
}

func TestCheckOverlaps(t *testing.T) {
	m, st, _ := newTestManager()
	st.overlaps = []store.Overlap{{OverlappingFenceID: 7, OverlapArea: 12}}
	res, err := m.CheckOverlaps(context.Background(), validGeometry, nil)
	require.NoError(t, err)
	assert.True(t, res.HasOverlaps)
	assert.Equal(t, 1, res.OverlapCount)
}

func TestCreateGroup(t *testing.T) {
	m, st, _ := newTestManager()
	id, err := m.CreateGroup(context.Background(), CreateGroupRequest{GroupName: "工业区"})
	require.NoError(t, err)
	assert.Positive(t, id)
	require.Len(t, st.groups, 1)
	assert.Equal(t, "#0066CC", st.groups[0].Color)

	_, err = m.CreateGroup(context.Background(), CreateGroupRequest{})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestStatisticsCachedUntilMutation(t *testing.T) {
	m, st, _ := newTestManager()

	first, err := m.Statistics(context.Background())
	require.NoError(t, err)
	require.Len(t, first.BasicStatistics, 1)
	assert.Equal(t, 1, st.statCalls)

	// 第二次命中整页缓存，不再查库
	_, err = m.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.statCalls)

	// 任何写操作整体失效，下一次统计重新聚合
	_, err = m.Create(context.Background(), CreateRequest{Name: "统计区", Geometry: validGeometry})
	require.NoError(t, err)
	_, err = m.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.statCalls)
}

func TestUpdateRecordsGeometrySnapshot(t *testing.T) {
	m, st, _ := newTestManager()
	created, err := m.Create(context.Background(), CreateRequest{Name: "仓库区", Geometry: validGeometry})
	require.NoError(t, err)

	moved := json.RawMessage(
		`{"type":"Polygon","coordinates":[[[117.30,39.90],[117.31,39.90],[117.31,39.91],[117.30,39.91],[117.30,39.90]]]}`)
	_, err = m.Update(context.Background(), created.FenceID, UpdateRequest{Geometry: moved})
	require.NoError(t, err)

	entries := st.history[created.FenceID]
	require.Len(t, entries, 2)

	first, second := entries[0], entries[1]
	assert.Equal(t, "create", first.OperationType)
	assert.Empty(t, first.OldGeometry)
	assert.Contains(t, string(first.NewGeometry), "116.3")
	assert.Contains(t, string(first.ChangesSummary), "仓库区")

	// 改几何必须同时留下新旧快照与变更字段清单
	assert.Equal(t, "update", second.OperationType)
	assert.Contains(t, string(second.OldGeometry), "116.3")
	assert.Contains(t, string(second.NewGeometry), "117.3")
	assert.Contains(t, string(second.ChangesSummary), "fence_geometry")
}

func TestDeleteRecordsGeometrySnapshot(t *testing.T) {
	m, st, _ := newTestManager()
	created, err := m.Create(context.Background(), CreateRequest{Name: "临时区", Geometry: validGeometry})
	require.NoError(t, err)

	_, err = m.Delete(context.Background(), created.FenceID, nil)
	require.NoError(t, err)

	entries := st.history[created.FenceID]
	require.Len(t, entries, 2)
	assert.Equal(t, "delete", entries[1].OperationType)
	assert.Contains(t, string(entries[1].OldGeometry), "116.3")
	assert.Contains(t, string(entries[1].ChangesSummary), "临时区")
}
