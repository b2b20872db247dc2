package zoom

import (
	"fmt"
	"sort"
)

// Strategy：单个图层的缩放加载策略
// 背景：每个图层声明可见的缩放区间与各档位的要素上限，
// AlwaysLoad 的图层（围栏）在任何级别都出数据
type Strategy struct {
	MinZoom     int
	MaxZoom     int
	AlwaysLoad  bool
	Limits      map[int]int
	Description string
}

// Policy：对一次 (图层, zoom) 查询解析出的加载决策
type Policy struct {
	LoadData          bool    `json:"load_data"`
	Reason            string  `json:"reason"`
	MaxFeatures       int     `json:"max_features,omitempty"`
	SimplifyTolerance float64 `json:"simplify_tolerance"`
	CacheTTL          int     `json:"cache_ttl,omitempty"`
}

// HighZoomThreshold：该级别及以上加载全部图层
const HighZoomThreshold = 16

// 图层缩放策略表
// 约束：档位 key 是生效的最低 zoom，取 <=zoom 的最大档位
var strategies = map[string]Strategy{
	"fences": {
		MinZoom: 1, MaxZoom: 20, AlwaysLoad: true,
		Limits:      map[int]int{1: 1000, 10: 3000, 15: 5000},
		Description: "电子围栏在所有缩放级别都加载，确保用户可以随时管理围栏",
	},
	"buildings": {
		MinZoom: 6, MaxZoom: 20,
		Limits:      map[int]int{6: 5000, 10: 15000, 12: 30000, 15: 50000},
		Description: "建筑物从城市级别开始显示，提供详细的建筑信息",
	},
	"land_polygons": {
		MinZoom: 4, MaxZoom: 20,
		Limits:      map[int]int{4: 2000, 8: 5000, 10: 8000, 12: 6000, 14: 3000},
		Description: "陆地多边形从全球级别开始显示，提供地理背景",
	},
	"roads": {
		MinZoom: 7, MaxZoom: 20,
		Limits:      map[int]int{7: 3000, 9: 5000, 11: 10000, 13: 20000, 15: 30000},
		Description: "道路网络从区域级别开始显示，支持交通分析",
	},
	"pois": {
		MinZoom: 9, MaxZoom: 20,
		Limits:      map[int]int{9: 3000, 12: 5000, 16: 8000},
		Description: "兴趣点从城市级别开始显示，提供详细的地点信息",
	},
	"water": {
		MinZoom: 8, MaxZoom: 20,
		Limits:      map[int]int{8: 5000, 12: 8000, 16: 10000},
		Description: "水体从区域级别开始显示，提供水文信息",
	},
	"railways": {
		MinZoom: 10, MaxZoom: 20,
		Limits:      map[int]int{10: 3000, 14: 5000, 16: 8000},
		Description: "铁路从区域级别开始显示，支持交通规划",
	},
	"traffic": {
		MinZoom: 13, MaxZoom: 20,
		Limits:      map[int]int{13: 3000, 16: 6000},
		Description: "交通设施从街道级别开始显示，提供交通管理信息",
	},
	"worship": {
		MinZoom: 12, MaxZoom: 20,
		Limits:      map[int]int{12: 5000, 16: 8000},
		Description: "宗教场所从街道级别开始显示，提供文化信息",
	},
	"landuse": {
		MinZoom: 10, MaxZoom: 20,
		Limits:      map[int]int{10: 8000, 14: 15000, 16: 20000},
		Description: "土地利用从中等级别开始显示，支持规划分析",
	},
	"transport": {
		MinZoom: 9, MaxZoom: 20,
		Limits:      map[int]int{9: 1000, 12: 2000, 16: 3000},
		Description: "交通运输设施从城市级别开始显示",
	},
	"places": {
		MinZoom: 6, MaxZoom: 20,
		Limits:      map[int]int{6: 500, 8: 1000, 12: 2000, 16: 3000},
		Description: "地名从城市级别开始显示，提供地理标识",
	},
	"natural": {
		MinZoom: 8, MaxZoom: 20,
		Limits:      map[int]int{8: 2000, 10: 3000, 14: 5000, 16: 8000},
		Description: "自然特征从区域级别开始显示，提供地理环境信息",
	},
}

// 缩放区段说明，供策略总览接口返回
var LevelDescriptions = map[string]string{
	"overview": "总览级别 (1-7): 只显示关键信息和电子围栏",
	"regional": "区域级别 (8-11): 显示主要地理要素",
	"urban":    "城市级别 (12-15): 显示详细城市信息",
	"street":   "街道级别 (16+): 显示所有图层的最高精度信息",
}

// SimplifyTolerance：按缩放级别给出化简容差（米）
// 背景：级别越高精度要求越高，容差逐档收紧
func SimplifyTolerance(z int) float64 {
	switch {
	case z < 10:
		return 100.0
	case z < 12:
		return 20.0
	case z < 15:
		return 5.0
	default:
		return 1.0
	}
}

// CacheTTL：按缩放级别给出缓存秒数
// 约束：级别越高更新越频繁，TTL 越短，下限 5 分钟
func CacheTTL(z int) int {
	ttl := 600 - z*15
	if ttl < 300 {
		return 300
	}
	return ttl
}

// Resolve：解析 (图层, zoom) 的加载决策
// 背景：围栏类图层无视级别始终加载；其余图层低于 MinZoom 不出数据，
// 16 级及以上全量加载，否则取 <=zoom 的最大档位限额
func Resolve(layer string, z int) Policy {
	s, ok := strategies[layer]
	if !ok {
		return Policy{LoadData: false, Reason: "layer_not_configured"}
	}

	if s.AlwaysLoad {
		target, ok := floorTier(s.Limits, z)
		if !ok {
			target = minTier(s.Limits)
		}
		return Policy{
			LoadData:    true,
			Reason:      "always_load",
			MaxFeatures: s.Limits[target],
			CacheTTL:    CacheTTL(z),
		}
	}

	if z < s.MinZoom {
		return Policy{LoadData: false, Reason: "zoom_too_low"}
	}

	if z >= HighZoomThreshold {
		return Policy{
			LoadData:    true,
			Reason:      "high_zoom_all_layers",
			MaxFeatures: maxLimit(s.Limits),
			CacheTTL:    CacheTTL(z),
		}
	}

	target, ok := floorTier(s.Limits, z)
	if !ok {
		return Policy{LoadData: false, Reason: "no_suitable_zoom"}
	}
	return Policy{
		LoadData:          true,
		Reason:            fmt.Sprintf("zoom_%d_strategy", target),
		MaxFeatures:       s.Limits[target],
		SimplifyTolerance: SimplifyTolerance(z),
		CacheTTL:          CacheTTL(z),
	}
}

// ResolveAll：所有图层在指定级别的决策
func ResolveAll(z int) map[string]Policy {
	out := make(map[string]Policy, len(strategies))
	for name := range strategies {
		out[name] = Resolve(name, z)
	}
	return out
}

// Lookup：图层策略配置，第二个返回值指示图层是否存在
func Lookup(layer string) (Strategy, bool) {
	s, ok := strategies[layer]
	return s, ok
}

// Layers：全部已配置图层名，字典序
func Layers() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// floorTier：<=z 的最大档位
func floorTier(limits map[int]int, z int) (int, bool) {
	best, found := 0, false
	for tier := range limits {
		if tier <= z && (!found || tier > best) {
			best, found = tier, true
		}
	}
	return best, found
}

func minTier(limits map[int]int) int {
	first := true
	min := 0
	for tier := range limits {
		if first || tier < min {
			min, first = tier, false
		}
	}
	return min
}

func maxLimit(limits map[int]int) int {
	if len(limits) == 0 {
		return 5000
	}
	max := 0
	for _, v := range limits {
		if v > max {
			max = v
		}
	}
	return max
}
