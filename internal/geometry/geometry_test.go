package geometry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 约 1km x 1km 的测试方块（北京附近）
func squarePolygon() Polygon {
	return Polygon{Rings: [][]Point{{
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.31, Lat: 39.90},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.30, Lat: 39.91},
		{Lon: 116.30, Lat: 39.90},
	}}}
}

func TestAreaAndPerimeter(t *testing.T) {
	p := squarePolygon()
	area := p.Area()
	// 0.01°x0.01° 的方块，投影面积在 1e6 m² 量级
	assert.Greater(t, area, 500_000.0)
	assert.Less(t, area, 3_000_000.0)
	assert.Greater(t, p.Perimeter(), 3000.0)
}

func TestAreaWithHole(t *testing.T) {
	p := squarePolygon()
	hole := []Point{
		{Lon: 116.303, Lat: 39.903},
		{Lon: 116.307, Lat: 39.903},
		{Lon: 116.307, Lat: 39.907},
		{Lon: 116.303, Lat: 39.907},
		{Lon: 116.303, Lat: 39.903},
	}
	outer := p.Area()
	p.Rings = append(p.Rings, hole)
	assert.Less(t, p.Area(), outer)
	assert.Greater(t, p.Area(), 0.0)
}

func TestBoundsAndCentroid(t *testing.T) {
	p := squarePolygon()
	b := p.Bounds()
	assert.Equal(t, 116.30, b.MinX)
	assert.Equal(t, 39.91, b.MaxY)

	c := p.Centroid()
	assert.InDelta(t, 116.305, c.Lon, 1e-6)
	assert.InDelta(t, 39.905, c.Lat, 1e-6)
}

func TestVertexCountExcludesClosure(t *testing.T) {
	assert.Equal(t, 4, squarePolygon().VertexCount())
}

func TestWKTRoundTrip(t *testing.T) {
	p := squarePolygon()
	wkt, err := p.WKT()
	require.NoError(t, err)
	assert.Contains(t, wkt, "POLYGON((")

	back, err := ParseWKT(wkt)
	require.NoError(t, err)
	require.Len(t, back.Rings, 1)
	assert.Equal(t, p.Rings[0], back.Rings[0])
}

func TestWKTWithHoleRoundTrip(t *testing.T) {
	p := squarePolygon()
	p.Rings = append(p.Rings, []Point{
		{Lon: 116.303, Lat: 39.903},
		{Lon: 116.307, Lat: 39.903},
		{Lon: 116.305, Lat: 39.907},
		{Lon: 116.303, Lat: 39.903},
	})
	wkt, err := p.WKT()
	require.NoError(t, err)

	back, err := ParseWKT(wkt)
	require.NoError(t, err)
	assert.Len(t, back.Rings, 2)
}

func TestParseWKTMalformed(t *testing.T) {
	for _, wkt := range []string{
		"",
		"POINT(1 2)",
		"POLYGON(())",
		"POLYGON((1 2, 3))",
		"POLYGON((a b, c d, e f, a b))",
	} {
		_, err := ParseWKT(wkt)
		assert.ErrorIs(t, err, ErrMalformedGeometry, "input: %q", wkt)
	}
}

func TestGeoJSONRoundTrip(t *testing.T) {
	p := squarePolygon()
	gj := p.ToGeoJSON()
	assert.Equal(t, "Polygon", gj.Type)

	back, err := FromGeoJSON(gj)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestDecodeAcceptsBothEncodings(t *testing.T) {
	wkt := `"POLYGON((116.30 39.90,116.31 39.90,116.31 39.91,116.30 39.90))"`
	p, err := Decode(json.RawMessage(wkt))
	require.NoError(t, err)
	assert.Len(t, p.Rings, 1)

	gj := `{"type":"Polygon","coordinates":[[[116.30,39.90],[116.31,39.90],[116.31,39.91],[116.30,39.90]]]}`
	p, err = Decode(json.RawMessage(gj))
	require.NoError(t, err)
	assert.Len(t, p.Rings, 1)

	_, err = Decode(json.RawMessage(`{"type":"Point","coordinates":[1,2]}`))
	assert.Error(t, err)
}

func TestValidateRepairsOpenRing(t *testing.T) {
	c := &Codec{MinArea: 10, MinVertices: 3, MaxVertices: 10000}
	open := Polygon{Rings: [][]Point{{
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.31, Lat: 39.90},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.30, Lat: 39.91},
	}}}
	p, err := c.Validate(open)
	require.NoError(t, err)
	ring := p.Rings[0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestValidateDropsDuplicateVertices(t *testing.T) {
	c := &Codec{MinArea: 10, MinVertices: 3, MaxVertices: 10000}
	dup := Polygon{Rings: [][]Point{{
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.31, Lat: 39.90},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.30, Lat: 39.90},
	}}}
	p, err := c.Validate(dup)
	require.NoError(t, err)
	assert.Equal(t, 3, p.VertexCount())
}

func TestValidateRejectsSelfIntersection(t *testing.T) {
	c := &Codec{MinArea: 10, MinVertices: 3, MaxVertices: 10000}
	// 蝴蝶结：两条对角边交叉
	bowtie := Polygon{Rings: [][]Point{{
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.31, Lat: 39.90},
		{Lon: 116.30, Lat: 39.91},
		{Lon: 116.30, Lat: 39.90},
	}}}
	_, err := c.Validate(bowtie)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestValidateRejectsTinyArea(t *testing.T) {
	c := &Codec{MinArea: 10, MinVertices: 3, MaxVertices: 10000}
	tiny := Polygon{Rings: [][]Point{{
		{Lon: 116.300000, Lat: 39.900000},
		{Lon: 116.300001, Lat: 39.900000},
		{Lon: 116.300001, Lat: 39.900001},
		{Lon: 116.300000, Lat: 39.900000},
	}}}
	_, err := c.Validate(tiny)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestValidateRejectsTooManyVertices(t *testing.T) {
	c := &Codec{MinArea: 10, MinVertices: 3, MaxVertices: 5}
	p, err := c.Validate(squarePolygon())
	require.NoError(t, err)
	assert.NotEmpty(t, p.Rings)

	c.MaxVertices = 3
	_, err = c.Validate(squarePolygon())
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestSimplifyKeepsShape(t *testing.T) {
	// 带共线冗余点的方块
	p := Polygon{Rings: [][]Point{{
		{Lon: 116.30, Lat: 39.90},
		{Lon: 116.305, Lat: 39.90},
		{Lon: 116.31, Lat: 39.90},
		{Lon: 116.31, Lat: 39.91},
		{Lon: 116.30, Lat: 39.91},
		{Lon: 116.30, Lat: 39.90},
	}}}
	s := Simplify(p, 0.0001)
	assert.Less(t, s.VertexCount(), p.VertexCount())
	assert.InDelta(t, p.Area(), s.Area(), p.Area()*0.01)
}

func TestSimplifyBestEffort(t *testing.T) {
	p := squarePolygon()
	// 容差远大于图形：化简会坍缩，应原样返回
	s := Simplify(p, 10.0)
	assert.Equal(t, p, s)

	assert.Equal(t, p, Simplify(p, 0))
}
