package zoom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveUnknownLayer(t *testing.T) {
	p := Resolve("volcanoes", 12)
	assert.False(t, p.LoadData)
	assert.Equal(t, "layer_not_configured", p.Reason)
}

func TestFencesAlwaysLoad(t *testing.T) {
	for _, z := range []int{1, 3, 10, 14, 15, 20} {
		p := Resolve("fences", z)
		assert.True(t, p.LoadData, "zoom %d", z)
		assert.Equal(t, "always_load", p.Reason)
		assert.Zero(t, p.SimplifyTolerance)
	}
	assert.Equal(t, 1000, Resolve("fences", 3).MaxFeatures)
	assert.Equal(t, 3000, Resolve("fences", 10).MaxFeatures)
	assert.Equal(t, 3000, Resolve("fences", 14).MaxFeatures)
	assert.Equal(t, 5000, Resolve("fences", 20).MaxFeatures)
}

func TestZoomTooLow(t *testing.T) {
	p := Resolve("roads", 3)
	assert.False(t, p.LoadData)
	assert.Equal(t, "zoom_too_low", p.Reason)

	p = Resolve("roads", 6)
	assert.False(t, p.LoadData)
}

func TestTierSelection(t *testing.T) {
	p := Resolve("roads", 7)
	assert.True(t, p.LoadData)
	assert.Equal(t, "zoom_7_strategy", p.Reason)
	assert.Equal(t, 3000, p.MaxFeatures)

	p = Resolve("roads", 12)
	assert.Equal(t, "zoom_11_strategy", p.Reason)
	assert.Equal(t, 10000, p.MaxFeatures)

	p = Resolve("buildings", 11)
	assert.Equal(t, "zoom_10_strategy", p.Reason)
	assert.Equal(t, 15000, p.MaxFeatures)
}

func TestHighZoomLoadsEverything(t *testing.T) {
	for _, name := range Layers() {
		p := Resolve(name, 17)
		assert.True(t, p.LoadData, "layer %s", name)
	}
	p := Resolve("traffic", 16)
	assert.Equal(t, "high_zoom_all_layers", p.Reason)
	assert.Equal(t, 6000, p.MaxFeatures)
	assert.Zero(t, p.SimplifyTolerance)
}

func TestMaxFeaturesMonotonicWithZoom(t *testing.T) {
	// 同一图层，级别升高限额不应下降（land_polygons 刻意例外）
	for _, name := range []string{"buildings", "roads", "pois", "water", "natural"} {
		prev := 0
		for z := 1; z <= 20; z++ {
			p := Resolve(name, z)
			if !p.LoadData {
				continue
			}
			assert.GreaterOrEqual(t, p.MaxFeatures, prev, "layer %s zoom %d", name, z)
			prev = p.MaxFeatures
		}
	}
}

func TestSimplifyToleranceSteps(t *testing.T) {
	assert.Equal(t, 100.0, SimplifyTolerance(5))
	assert.Equal(t, 100.0, SimplifyTolerance(9))
	assert.Equal(t, 20.0, SimplifyTolerance(10))
	assert.Equal(t, 5.0, SimplifyTolerance(12))
	assert.Equal(t, 1.0, SimplifyTolerance(15))
	assert.Equal(t, 1.0, SimplifyTolerance(18))
}

func TestCacheTTLFloor(t *testing.T) {
	assert.Equal(t, 585, CacheTTL(1))
	assert.Equal(t, 450, CacheTTL(10))
	assert.Equal(t, 300, CacheTTL(20))
	// 下限 300
	assert.Equal(t, 300, CacheTTL(25))
}

func TestResolveAllCoversEveryLayer(t *testing.T) {
	all := ResolveAll(12)
	assert.Len(t, all, len(Layers()))
	assert.True(t, all["fences"].LoadData)
	assert.False(t, all["traffic"].LoadData)
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("pois")
	assert.True(t, ok)
	assert.Equal(t, 9, s.MinZoom)

	_, ok = Lookup("missing")
	assert.False(t, ok)
}
