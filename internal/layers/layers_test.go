package layers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFeaturesDropsNullGeometry(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "FeatureCollection",
		"features": [
			{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}},
			{"type":"Feature","geometry":null,"properties":{}},
			{"type":"Feature","geometry":"null","properties":{}},
			{"type":"Feature","geometry":{},"properties":{}},
			{"type":"Feature","geometry":{"type":"","coordinates":[]},"properties":{}}
		]
	}`)
	out := cleanFeatures(raw)

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(out, &fc))
	assert.Len(t, fc.Features, 1)
}

func TestCleanFeaturesPassThroughWhenAllValid(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "FeatureCollection",
		"features": [
			{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}
		]
	}`)
	out := cleanFeatures(raw)
	assert.JSONEq(t, string(raw), string(out))
}

func TestCleanFeaturesBestEffortOnGarbage(t *testing.T) {
	raw := json.RawMessage(`not json at all`)
	assert.Equal(t, raw, cleanFeatures(raw))

	other := json.RawMessage(`{"type":"Feature"}`)
	assert.Equal(t, other, cleanFeatures(other))
}

func TestEverySourceHasStrategy(t *testing.T) {
	// 物理表映射与策略表保持同一图层集合
	for _, name := range Layers() {
		_, ok := sources[name]
		assert.True(t, ok, "layer %s has no source", name)
	}
	assert.Len(t, sources, len(Layers()))
}
