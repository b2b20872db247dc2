// 包 geometry：围栏几何的本地编解码与度量
// 背景：请求侧的校验/转换/面积计算在进程内完成，避免为每次校验往返数据库；
// 布尔运算（并/交/切割）仍交给 PostGIS 执行
package geometry

import (
	"math"
)

// Point：经纬度坐标（WGS84，经度在前）
type Point struct {
	Lon float64
	Lat float64
}

// Polygon：外环在前、洞在后的多边形；环首尾闭合
type Polygon struct {
	Rings [][]Point
}

// LineString：切割线等线状几何
type LineString []Point

// Bounds：包围盒 (minx, miny, maxx, maxy)
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

const earthRadius = 6378137.0

// Web Mercator 的纬度上限，超出后投影发散
const maxMercatorLat = 85.05112878

// project：WGS84 → EPSG:3857
// 背景：面积/周长需要在投影平面上度量；与数据库侧的面积计算坐标系保持一致
func project(p Point) (float64, float64) {
	lat := p.Lat
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	}
	if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	x := earthRadius * p.Lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// ringArea：投影平面上环的有符号面积（鞋带公式），单位平方米
func ringArea(ring []Point) float64 {
	if len(ring) < 3 {
		return 0
	}
	var sum float64
	x0, y0 := project(ring[0])
	px, py := x0, y0
	for i := 1; i < len(ring); i++ {
		x, y := project(ring[i])
		sum += px*y - x*py
		px, py = x, y
	}
	// 隐式闭合最后一段
	sum += px*y0 - x0*py
	return sum / 2
}

// Area：多边形投影面积（平方米），外环面积减去洞
// 约束：失败或退化几何返回 0.0，由调用方决定是否拒绝
func (p Polygon) Area() float64 {
	if len(p.Rings) == 0 {
		return 0
	}
	area := math.Abs(ringArea(p.Rings[0]))
	for _, hole := range p.Rings[1:] {
		area -= math.Abs(ringArea(hole))
	}
	if area < 0 || math.IsNaN(area) || math.IsInf(area, 0) {
		return 0
	}
	return area
}

// Perimeter：所有环的投影长度之和（米）
func (p Polygon) Perimeter() float64 {
	var total float64
	for _, ring := range p.Rings {
		if len(ring) < 2 {
			continue
		}
		px, py := project(ring[0])
		for i := 1; i < len(ring); i++ {
			x, y := project(ring[i])
			total += math.Hypot(x-px, y-py)
			px, py = x, y
		}
		// 未闭合的环补上闭合段
		if ring[0] != ring[len(ring)-1] {
			x0, y0 := project(ring[0])
			total += math.Hypot(x0-px, y0-py)
		}
	}
	return total
}

// Bounds：经纬度包围盒
func (p Polygon) Bounds() Bounds {
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, ring := range p.Rings {
		for _, pt := range ring {
			if pt.Lon < b.MinX {
				b.MinX = pt.Lon
			}
			if pt.Lon > b.MaxX {
				b.MaxX = pt.Lon
			}
			if pt.Lat < b.MinY {
				b.MinY = pt.Lat
			}
			if pt.Lat > b.MaxY {
				b.MaxY = pt.Lat
			}
		}
	}
	if math.IsInf(b.MinX, 1) {
		return Bounds{}
	}
	return b
}

// Centroid：外环的面积加权质心（经纬度坐标）
// 约束：退化多边形回退到顶点均值
func (p Polygon) Centroid() Point {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return Point{}
	}
	ring := p.Rings[0]
	var a, cx, cy float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := ring[i].Lon*ring[j].Lat - ring[j].Lon*ring[i].Lat
		a += cross
		cx += (ring[i].Lon + ring[j].Lon) * cross
		cy += (ring[i].Lat + ring[j].Lat) * cross
	}
	if math.Abs(a) < 1e-12 {
		var sx, sy float64
		for _, pt := range ring {
			sx += pt.Lon
			sy += pt.Lat
		}
		return Point{Lon: sx / float64(n), Lat: sy / float64(n)}
	}
	a /= 2
	return Point{Lon: cx / (6 * a), Lat: cy / (6 * a)}
}

// VertexCount：所有环的顶点总数（闭合点只计一次）
func (p Polygon) VertexCount() int {
	total := 0
	for _, ring := range p.Rings {
		n := len(ring)
		if n > 1 && ring[0] == ring[n-1] {
			n--
		}
		total += n
	}
	return total
}
