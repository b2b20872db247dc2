package geometry

import (
	"encoding/json"
	"fmt"
)

// GeoJSONPolygon：请求/响应中使用的 GeoJSON 多边形结构
type GeoJSONPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// GeoJSONLineString：切割线的 GeoJSON 结构
type GeoJSONLineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// FromGeoJSON：GeoJSON 多边形 → Polygon
// 约束：只接受 type=Polygon 且坐标非空；坐标取前两维，忽略高程
func FromGeoJSON(g GeoJSONPolygon) (Polygon, error) {
	if g.Type != "Polygon" {
		return Polygon{}, fmt.Errorf("%w: unsupported geojson type %q", ErrMalformedGeometry, g.Type)
	}
	if len(g.Coordinates) == 0 || len(g.Coordinates[0]) == 0 {
		return Polygon{}, fmt.Errorf("%w: empty polygon coordinates", ErrMalformedGeometry)
	}
	var p Polygon
	for _, rawRing := range g.Coordinates {
		ring := make([]Point, 0, len(rawRing))
		for _, c := range rawRing {
			if len(c) < 2 {
				return Polygon{}, fmt.Errorf("%w: coordinate needs lon and lat", ErrMalformedGeometry)
			}
			ring = append(ring, Point{Lon: c[0], Lat: c[1]})
		}
		p.Rings = append(p.Rings, ring)
	}
	return p, nil
}

// ToGeoJSON：Polygon → GeoJSON 结构
func (p Polygon) ToGeoJSON() GeoJSONPolygon {
	g := GeoJSONPolygon{Type: "Polygon"}
	for _, ring := range p.Rings {
		coords := make([][]float64, 0, len(ring))
		for _, pt := range ring {
			coords = append(coords, []float64{pt.Lon, pt.Lat})
		}
		g.Coordinates = append(g.Coordinates, coords)
	}
	return g
}

// LineFromGeoJSON：GeoJSON LineString → LineString
func LineFromGeoJSON(g GeoJSONLineString) (LineString, error) {
	if g.Type != "LineString" {
		return nil, fmt.Errorf("%w: split line must be a LineString, got %q", ErrMalformedGeometry, g.Type)
	}
	if len(g.Coordinates) < 2 {
		return nil, ErrTooFewPoints
	}
	ls := make(LineString, 0, len(g.Coordinates))
	for _, c := range g.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: coordinate needs lon and lat", ErrMalformedGeometry)
		}
		ls = append(ls, Point{Lon: c[0], Lat: c[1]})
	}
	return ls, nil
}

// Decode：从原始 JSON 解码多边形，字符串按 WKT 处理，对象按 GeoJSON 处理
// 背景：接口同时接受两种几何表示，入库前统一转为 Polygon
func Decode(raw json.RawMessage) (Polygon, error) {
	if len(raw) == 0 {
		return Polygon{}, fmt.Errorf("%w: empty geometry", ErrMalformedGeometry)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseWKT(s)
	}
	var g GeoJSONPolygon
	if err := json.Unmarshal(raw, &g); err != nil {
		return Polygon{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	return FromGeoJSON(g)
}

// DecodeLine：从原始 JSON 解码切割线，字符串按 WKT、对象按 GeoJSON
func DecodeLine(raw json.RawMessage) (LineString, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty split line", ErrMalformedGeometry)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseLineStringWKT(s)
	}
	var g GeoJSONLineString
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	return LineFromGeoJSON(g)
}
