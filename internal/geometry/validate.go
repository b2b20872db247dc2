package geometry

import (
	"errors"
	"fmt"

	"fence-api/internal/logger"
)

// ErrInvalidGeometry：校验（含一次修复尝试）后仍不可接受的几何
var ErrInvalidGeometry = errors.New("invalid geometry")

// Codec：几何校验阈值的载体
// 背景：最小面积与顶点数边界来自配置，进程内只构造一次并传引用
type Codec struct {
	MinArea     float64
	MinVertices int
	MaxVertices int
}

// Validate：校验并规范化多边形
// 背景：无效几何先做一次修复（闭合环、去重复点、丢弃退化洞），修复后仍无效则拒绝；
// 修复失败是校验失败而不是崩溃
// 约束：投影面积必须大于最小面积阈值；外环顶点数在配置边界内
func (c *Codec) Validate(p Polygon) (Polygon, error) {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return Polygon{}, fmt.Errorf("%w: empty polygon", ErrInvalidGeometry)
	}
	if !p.isWellFormed() {
		repaired, ok := p.repair()
		if !ok {
			logger.L().Debug("geometry_repair_failed")
			return Polygon{}, fmt.Errorf("%w: auto repair failed", ErrInvalidGeometry)
		}
		p = repaired
		if !p.isWellFormed() {
			return Polygon{}, fmt.Errorf("%w: still invalid after repair", ErrInvalidGeometry)
		}
	}

	n := len(distinctRing(p.Rings[0]))
	if n < c.MinVertices {
		return Polygon{}, fmt.Errorf("%w: exterior ring has %d vertices, need at least %d",
			ErrInvalidGeometry, n, c.MinVertices)
	}
	if c.MaxVertices > 0 && p.VertexCount() > c.MaxVertices {
		return Polygon{}, fmt.Errorf("%w: %d vertices exceed limit %d",
			ErrInvalidGeometry, p.VertexCount(), c.MaxVertices)
	}

	area := p.Area()
	if area <= c.MinArea {
		return Polygon{}, fmt.Errorf("%w: projected area %.2f m² below minimum %.2f m²",
			ErrInvalidGeometry, area, c.MinArea)
	}
	return p, nil
}

// IsValid：布尔形式的校验，供几何校验接口使用
func (c *Codec) IsValid(p Polygon) bool {
	_, err := c.Validate(p)
	return err == nil
}

// isWellFormed：环闭合、顶点充足、无自相交、面积非零
func (p Polygon) isWellFormed() bool {
	for i, ring := range p.Rings {
		if len(ring) < 4 {
			return false
		}
		if ring[0] != ring[len(ring)-1] {
			return false
		}
		if len(distinctRing(ring)) < 3 {
			return false
		}
		if ringSelfIntersects(ring) {
			return false
		}
		if i == 0 && ringArea(ring) == 0 {
			return false
		}
	}
	return len(p.Rings) > 0
}

// repair：一次性修复尝试
// 背景：常见的输入问题是未闭合的环与重复顶点；洞若修复后仍退化则直接丢弃，
// 外环退化则整体失败
func (p Polygon) repair() (Polygon, bool) {
	var out Polygon
	for i, ring := range p.Rings {
		r := dedupeRing(ring)
		if len(r) >= 3 && r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		if len(r) < 4 || len(distinctRing(r)) < 3 {
			if i == 0 {
				return Polygon{}, false
			}
			continue
		}
		out.Rings = append(out.Rings, r)
	}
	return out, len(out.Rings) > 0
}

// dedupeRing：去掉相邻重复顶点
func dedupeRing(ring []Point) []Point {
	if len(ring) == 0 {
		return nil
	}
	out := []Point{ring[0]}
	for _, pt := range ring[1:] {
		if pt != out[len(out)-1] {
			out = append(out, pt)
		}
	}
	return out
}

// distinctRing：闭合点只计一次的顶点集合
func distinctRing(ring []Point) []Point {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

// ringSelfIntersects：逐段判定环是否自相交
// 约束：O(n²) 的朴素检查；顶点数上限由配置约束在万级，最坏情形仍可接受
func ringSelfIntersects(ring []Point) bool {
	pts := distinctRing(ring)
	n := len(pts)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1 := pts[i]
		a2 := pts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			// 相邻段共享端点，跳过
			if i == 0 && j == n-1 {
				continue
			}
			b1 := pts[j]
			b2 := pts[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// segmentsCross：开区间意义上的线段相交（共享端点不算）
func segmentsCross(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(o, a, b Point) float64 {
	return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (b.Lon-o.Lon)*(a.Lat-o.Lat)
}
