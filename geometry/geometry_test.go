package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWKT(t *testing.T) {
	g, err := ParseWKT("POLYGON ((0 0, 4 0, 4 4, 0 4, 0 0))")
	require.NoError(t, err)

	b := g.Bounds()
	assert.Equal(t, 0.0, b.X.Lo)
	assert.Equal(t, 4.0, b.X.Hi)
	assert.Equal(t, 0.0, b.Y.Lo)
	assert.Equal(t, 4.0, b.Y.Hi)
	assert.False(t, g.IsEmpty())
	assert.Equal(t, 5, g.NumCoords())

	_, err = ParseWKT("POLYGON ((0 0, 4 0")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestWKBRoundTrip(t *testing.T) {
	g := MustParseWKT("MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))")

	data, err := g.WKB()
	require.NoError(t, err)

	decoded, err := FromWKB(data)
	require.NoError(t, err)
	assert.True(t, g.Equal(decoded))
	assert.Equal(t, g.Bounds(), decoded.Bounds())
}

func TestIntersects(t *testing.T) {
	square := NewEnvelope(0, 0, 4, 4)

	tests := []struct {
		name string
		wkt  string
		want bool
	}{
		{"point inside", "POINT (2 2)", true},
		{"point on edge", "POINT (4 1)", true},
		{"point outside", "POINT (5 5)", false},
		{"crossing line", "LINESTRING (-1 2, 5 2)", true},
		{"line inside", "LINESTRING (1 1, 2 2)", true},
		{"line outside", "LINESTRING (5 0, 5 4)", false},
		{"touching polygon", "POLYGON ((4 0, 6 0, 6 4, 4 4, 4 0))", true},
		{"enclosing polygon", "POLYGON ((-1 -1, 5 -1, 5 5, -1 5, -1 -1))", true},
		{"disjoint polygon", "POLYGON ((10 10, 11 10, 11 11, 10 10))", false},
		{"multipoint one hit", "MULTIPOINT ((9 9), (1 1))", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := MustParseWKT(tt.wkt)
			assert.Equal(t, tt.want, Intersects(square, g))
			assert.Equal(t, tt.want, Intersects(g, square))
		})
	}
}

func TestIntersects_Hole(t *testing.T) {
	donut := MustParseWKT("POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (3 3, 7 3, 7 7, 3 7, 3 3))")

	assert.False(t, Intersects(donut, NewPoint(5, 5)))
	assert.True(t, Intersects(donut, NewPoint(3, 5)))
	assert.True(t, Intersects(donut, NewPoint(1, 1)))
}

func TestContains(t *testing.T) {
	square := NewEnvelope(0, 0, 4, 4)

	assert.True(t, Contains(square, NewPoint(1, 1)))
	assert.True(t, Contains(square, NewEnvelope(1, 1, 2, 2)))
	assert.True(t, Contains(square, square))
	assert.False(t, Contains(square, NewEnvelope(3, 3, 5, 5)))
	assert.False(t, Contains(NewPoint(1, 1), square))
	assert.True(t, Within(NewPoint(1, 1), square))

	line := MustParseWKT("LINESTRING (0 0, 10 0)")
	assert.True(t, Contains(line, NewPoint(5, 0)))
	assert.False(t, Contains(line, NewPoint(5, 1)))

	concave := MustParseWKT("POLYGON ((0 0, 10 0, 10 10, 5 2, 0 10, 0 0))")
	assert.False(t, Contains(concave, MustParseWKT("LINESTRING (1 8, 9 8)")))
}

func TestContains_Boundaries(t *testing.T) {
	donut := MustParseWKT("POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (4 4, 6 4, 6 6, 4 6, 4 4))")
	notched := MustParseWKT("POLYGON ((0 0, 10 0, 10 10, 5 5, 0 10, 0 0))")
	square := NewEnvelope(0, 0, 4, 4)
	line := MustParseWKT("LINESTRING (0 0, 10 0)")

	for _, tc := range []struct {
		name string
		a, b *Geometry
		want bool
	}{
		{"polygon enclosing a hole", donut, NewEnvelope(2, 2, 8, 8), false},
		{"polygon around the hole", donut, MustParseWKT("POLYGON ((1 1, 9 1, 9 9, 1 9, 1 1), (3 3, 7 3, 7 7, 3 7, 3 3))"), true},
		{"polygon filling the hole", donut, NewEnvelope(4, 4, 6, 6), false},
		{"polygon beside the hole", donut, NewEnvelope(1, 1, 3, 3), true},
		{"polygon touching the hole", donut, NewEnvelope(1, 1, 4, 4), true},
		{"segment through the notch", notched, MustParseWKT("LINESTRING (4 6, 6 6)"), false},
		{"segment below the notch", notched, MustParseWKT("LINESTRING (4 4, 6 4)"), true},
		{"segment along the boundary", square, MustParseWKT("LINESTRING (0 0, 4 0)"), false},
		{"segment from the boundary inwards", square, MustParseWKT("LINESTRING (0 0, 2 2)"), true},
		{"point on the boundary", square, NewPoint(0, 2), false},
		{"point on a corner", square, NewPoint(4, 4), false},
		{"point on the hole boundary", donut, NewPoint(5, 4), false},
		{"points partly on the boundary", square, MustParseWKT("MULTIPOINT ((0 2), (1 1))"), true},
		{"polygon sharing an edge", square, NewEnvelope(0, 0, 2, 2), true},
		{"line endpoint", line, NewPoint(10, 0), false},
		{"sub line", line, MustParseWKT("LINESTRING (2 0, 8 0)"), true},
		{"whole line", line, line, true},
		{"line leaving the line", line, MustParseWKT("LINESTRING (2 0, 8 1)"), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Contains(tc.a, tc.b))
			assert.Equal(t, tc.want, Within(tc.b, tc.a))
		})
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 5.0, Distance(NewPoint(0, 0), NewPoint(3, 4)))
	assert.Equal(t, 0.0, Distance(NewEnvelope(0, 0, 4, 4), NewPoint(2, 2)))
	assert.InDelta(t, 1.0, Distance(NewEnvelope(0, 0, 4, 4), NewPoint(5, 2)), 1e-12)
	assert.InDelta(t, math.Sqrt2, Distance(NewEnvelope(0, 0, 1, 1), NewEnvelope(2, 2, 3, 3)), 1e-12)

	assert.True(t, WithinDistance(NewPoint(0, 0), NewPoint(3, 4), 5))
	assert.False(t, WithinDistance(NewPoint(0, 0), NewPoint(3, 4), 4.99))
}

func TestRectDistance(t *testing.T) {
	a := NewEnvelope(0, 0, 1, 1).Bounds()
	b := NewEnvelope(4, 5, 6, 6).Bounds()
	assert.Equal(t, 5.0, RectDistance(a, b))
	assert.Equal(t, 0.0, RectDistance(a, a))
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = ParseWKT("GEOMETRYCOLLECTION (POINT (1 1))")
	require.Error(t, err)
}
