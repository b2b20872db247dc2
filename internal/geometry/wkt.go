package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedGeometry：非多边形类型或坐标为空时的转换失败
var ErrMalformedGeometry = errors.New("malformed geometry")

// ErrTooFewPoints：线坐标点数不足，调用方可据此给出比"格式错误"更准的提示
var ErrTooFewPoints = fmt.Errorf("%w: linestring needs at least 2 points", ErrMalformedGeometry)

// WKT：多边形的规范文本形式，外环在前、洞依次追加
// 约束：坐标为空返回 ErrMalformedGeometry；不做闭合修复，规范化在校验阶段完成
func (p Polygon) WKT() (string, error) {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return "", fmt.Errorf("%w: empty polygon coordinates", ErrMalformedGeometry)
	}
	var b strings.Builder
	b.WriteString("POLYGON(")
	for i, ring := range p.Rings {
		if len(ring) == 0 {
			return "", fmt.Errorf("%w: empty ring %d", ErrMalformedGeometry, i)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, pt := range ring {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(formatCoord(pt.Lon))
			b.WriteByte(' ')
			b.WriteString(formatCoord(pt.Lat))
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String(), nil
}

// WKT：切割线的文本形式
// 约束：少于 2 个点的线无法切割任何多边形，直接拒绝
func (ls LineString) WKT() (string, error) {
	if len(ls) < 2 {
		return "", ErrTooFewPoints
	}
	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, pt := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatCoord(pt.Lon))
		b.WriteByte(' ')
		b.WriteString(formatCoord(pt.Lat))
	}
	b.WriteByte(')')
	return b.String(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseWKT：解析 POLYGON 文本为 Polygon
// 背景：请求既可能携带 GeoJSON 也可能携带 WKT；这里只接受单多边形，
// MULTIPOLYGON 等类型由上层视为不支持
func ParseWKT(s string) (Polygon, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return Polygon{}, fmt.Errorf("%w: expected POLYGON, got %q", ErrMalformedGeometry, head(s))
	}
	body := strings.TrimSpace(s[len("POLYGON"):])
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return Polygon{}, fmt.Errorf("%w: unbalanced parentheses", ErrMalformedGeometry)
	}
	body = body[1 : len(body)-1]

	var p Polygon
	for _, rawRing := range splitRings(body) {
		rawRing = strings.TrimSpace(rawRing)
		if !strings.HasPrefix(rawRing, "(") || !strings.HasSuffix(rawRing, ")") {
			return Polygon{}, fmt.Errorf("%w: bad ring %q", ErrMalformedGeometry, head(rawRing))
		}
		ring, err := parseCoordList(rawRing[1 : len(rawRing)-1])
		if err != nil {
			return Polygon{}, err
		}
		p.Rings = append(p.Rings, ring)
	}
	if len(p.Rings) == 0 {
		return Polygon{}, fmt.Errorf("%w: polygon without rings", ErrMalformedGeometry)
	}
	return p, nil
}

// ParseLineStringWKT：解析 LINESTRING 文本
func ParseLineStringWKT(s string) (LineString, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "LINESTRING") {
		return nil, fmt.Errorf("%w: expected LINESTRING, got %q", ErrMalformedGeometry, head(s))
	}
	body := strings.TrimSpace(s[len("LINESTRING"):])
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: unbalanced parentheses", ErrMalformedGeometry)
	}
	pts, err := parseCoordList(body[1 : len(body)-1])
	if err != nil {
		return nil, err
	}
	if len(pts) < 2 {
		return nil, ErrTooFewPoints
	}
	return LineString(pts), nil
}

// splitRings：按顶层逗号切分 "(...),(...)" 形式的环列表
func splitRings(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" {
		out = append(out, s[start:])
	}
	return out
}

func parseCoordList(s string) ([]Point, error) {
	var pts []Point
	for _, pair := range strings.Split(s, ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: bad coordinate %q", ErrMalformedGeometry, pair)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad longitude %q", ErrMalformedGeometry, fields[0])
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad latitude %q", ErrMalformedGeometry, fields[1])
		}
		pts = append(pts, Point{Lon: lon, Lat: lat})
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate list", ErrMalformedGeometry)
	}
	return pts, nil
}

func head(s string) string {
	if len(s) > 24 {
		return s[:24]
	}
	return s
}
