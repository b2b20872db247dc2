package geometry

import "math"

// Simplify：按给定容差（度）化简多边形
// 背景：高层级瓦片不需要满精度轮廓，化简失败时原样返回而不是报错
// 约束：每个环化简后若顶点不足以构成多边形，放弃该环的化简结果
func Simplify(p Polygon, tolerance float64) Polygon {
	if tolerance <= 0 || len(p.Rings) == 0 {
		return p
	}
	var out Polygon
	for _, ring := range p.Rings {
		s := simplifyRing(ring, tolerance)
		if len(distinctRing(s)) < 3 {
			s = ring
		}
		out.Rings = append(out.Rings, s)
	}
	return out
}

// SimplifyLine：化简折线，至少保留两个端点
func SimplifyLine(line LineString, tolerance float64) LineString {
	if tolerance <= 0 || len(line) < 3 {
		return line
	}
	s := douglasPeucker(line, tolerance)
	if len(s) < 2 {
		return line
	}
	return s
}

// simplifyRing：闭合环的化简
// 约束：保持首尾闭合点不变，中间顶点走 Douglas-Peucker
func simplifyRing(ring []Point, tolerance float64) []Point {
	if len(ring) < 5 {
		return ring
	}
	closed := ring[0] == ring[len(ring)-1]
	open := ring
	if closed {
		open = ring[:len(ring)-1]
	}
	s := douglasPeucker(open, tolerance)
	if closed {
		s = append(s, s[0])
	}
	return s
}

// douglasPeucker：经典的最大偏距递归化简
func douglasPeucker(pts []Point, tolerance float64) []Point {
	if len(pts) < 3 {
		return pts
	}
	maxDist := 0.0
	maxIdx := 0
	first, last := pts[0], pts[len(pts)-1]
	for i := 1; i < len(pts)-1; i++ {
		d := perpendicularDistance(pts[i], first, last)
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist <= tolerance {
		return []Point{first, last}
	}
	left := douglasPeucker(pts[:maxIdx+1], tolerance)
	right := douglasPeucker(pts[maxIdx:], tolerance)
	return append(left[:len(left)-1], right...)
}

// perpendicularDistance：点到线段所在直线的距离（度）
func perpendicularDistance(p, a, b Point) float64 {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat
	if dx == 0 && dy == 0 {
		return math.Hypot(p.Lon-a.Lon, p.Lat-a.Lat)
	}
	return math.Abs(dy*p.Lon-dx*p.Lat+b.Lon*a.Lat-b.Lat*a.Lon) / math.Hypot(dx, dy)
}
