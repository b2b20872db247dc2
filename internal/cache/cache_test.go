package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fence-api/internal/config"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		LocalMaxEntries: 3,
		LocalTTL:        time.Minute,
		MaxPayloadBytes: 1024,
		KindTTL:         map[string]time.Duration{"fence_list": 300 * time.Second},
		DefaultTTL:      600 * time.Second,
	}
}

func TestKeyStableUnderParamOrder(t *testing.T) {
	a := Key("fence_list", map[string]string{"layer": "roads", "zoom": "12"})
	b := Key("fence_list", map[string]string{"zoom": "12", "layer": "roads"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "fenceapi:fence_list:"))
}

func TestKeyIgnoresEmptyParams(t *testing.T) {
	a := Key("layer", map[string]string{"zoom": "12", "group": ""})
	b := Key("layer", map[string]string{"zoom": "12"})
	assert.Equal(t, a, b)
}

func TestKeyRoundsCoordinates(t *testing.T) {
	a := Key("layer", map[string]string{"min_lon": "116.30001"})
	b := Key("layer", map[string]string{"min_lon": "116.30004"})
	c := Key("layer", map[string]string{"min_lon": "116.31"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// bbox 形式的逗号列表逐项归一
	d := Key("layer", map[string]string{"bbox": "116.30001,39.90002,116.31,39.91"})
	e := Key("layer", map[string]string{"bbox": "116.30004,39.90001,116.31,39.91"})
	assert.Equal(t, d, e)
}

func TestLocalTierHitAndMiss(t *testing.T) {
	m := NewManager(nil, testCacheConfig())
	ctx := context.Background()

	_, ok := m.Get(ctx, "fenceapi:x:1")
	assert.False(t, ok)

	m.Set(ctx, "fence_list", "fenceapi:x:1", []byte("payload"))
	got, ok := m.Get(ctx, "fenceapi:x:1")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestLocalTierAdmissionCeiling(t *testing.T) {
	m := NewManager(nil, testCacheConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.Set(ctx, "fence_list", fmt.Sprintf("fenceapi:x:%d", i), []byte("v"))
	}
	// 容量 3：前三个写入保留，后续写入被丢弃而不是淘汰旧键
	s := m.Stats(ctx)
	assert.Equal(t, 3, s.LocalEntries)
	_, ok := m.Get(ctx, "fenceapi:x:0")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "fenceapi:x:4")
	assert.False(t, ok)
}

func TestLocalTierExpiry(t *testing.T) {
	cfg := testCacheConfig()
	cfg.LocalTTL = time.Millisecond
	m := NewManager(nil, cfg)
	ctx := context.Background()

	m.Set(ctx, "fence_list", "fenceapi:x:ttl", []byte("v"))
	time.Sleep(5 * time.Millisecond)
	_, ok := m.Get(ctx, "fenceapi:x:ttl")
	assert.False(t, ok)
}

func TestPayloadCeilingOnlyGatesSharedTier(t *testing.T) {
	m := NewManager(nil, testCacheConfig())
	ctx := context.Background()

	// 超限载荷照样进本地层，上限只约束共享层写入
	big := make([]byte, 2048)
	m.Set(ctx, "fence_list", "fenceapi:x:big", big)
	got, ok := m.Get(ctx, "fenceapi:x:big")
	require.True(t, ok)
	assert.Len(t, got, 2048)
}

func TestInvalidateAllClearsLocal(t *testing.T) {
	m := NewManager(nil, testCacheConfig())
	ctx := context.Background()
	m.Set(ctx, "fence_list", "fenceapi:x:1", []byte("v"))
	m.InvalidateAll(ctx)
	_, ok := m.Get(ctx, "fenceapi:x:1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stats(ctx).LocalEntries)
}

func TestStatsHitRate(t *testing.T) {
	m := NewManager(nil, testCacheConfig())
	ctx := context.Background()
	m.Set(ctx, "fence_list", "fenceapi:x:1", []byte("v"))
	m.Get(ctx, "fenceapi:x:1")
	m.Get(ctx, "fenceapi:x:missing")

	s := m.Stats(ctx)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
	assert.False(t, s.SharedUp)
}
