package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

func TestUniformPoints(t *testing.T) {
	rng := NewRNG(4711)

	pts := rng.UniformPoints(64, 10)

	require.Len(t, pts, 64)
	for _, p := range pts {
		b := p.Bounds()
		assert.GreaterOrEqual(t, b.X.Lo, 0.0)
		assert.Less(t, b.X.Hi, 10.0)
		assert.GreaterOrEqual(t, b.Y.Lo, 0.0)
		assert.Less(t, b.Y.Hi, 10.0)
	}
}

func TestUniformBoxes(t *testing.T) {
	rng := NewRNG(4711)

	boxes := rng.UniformBoxes(32, 100, 5)

	require.Len(t, boxes, 32)
	for _, g := range boxes {
		b := g.Bounds()
		assert.Greater(t, b.X.Length(), 0.0)
		assert.LessOrEqual(t, b.X.Length(), 5.0)
		assert.LessOrEqual(t, b.Y.Length(), 5.0)
	}
}

func TestClusteredPoints(t *testing.T) {
	rng := NewRNG(4711)

	pts := rng.ClusteredPoints(100, 100, 5, 0.5)

	assert.Len(t, pts, 100)
}

func TestReset(t *testing.T) {
	rng := NewRNG(42)
	a := rng.Intn(1000)
	rng.Reset()
	assert.Equal(t, a, rng.Intn(1000))
	assert.Equal(t, int64(42), rng.Seed())
}

func TestZipf(t *testing.T) {
	rng := NewRNG(4711)

	counts := make([]int, 10)
	for range 2000 {
		counts[rng.Zipf(10, 1.5)]++
	}
	assert.Greater(t, counts[0], counts[9])
}

func TestGeometryPages(t *testing.T) {
	rng := NewRNG(4711)
	pages := GeometryPages(rng.UniformPoints(10, 1), 4)

	require.Len(t, pages, 3)
	assert.Equal(t, 4, pages[0].PositionCount())
	assert.Equal(t, 2, pages[2].PositionCount())
	assert.Equal(t, GeometryTypes, pages[0].Types())

	id, ok := page.ValueAt[int64](pages[2].Block(0), 1)
	require.True(t, ok)
	assert.Equal(t, int64(9), id)

	parts := Partition(pages, 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 2)
	assert.Len(t, parts[1], 1)
}

func TestNestedLoopJoin(t *testing.T) {
	build := []*geometry.Geometry{
		geometry.NewEnvelope(0, 0, 1, 1),
		geometry.NewEnvelope(2, 2, 3, 3),
	}
	probe := []*geometry.Geometry{
		geometry.NewPoint(0.5, 0.5),
		geometry.NewPoint(5, 5),
		nil,
		geometry.NewPoint(2.5, 2.5),
	}

	pairs := NestedLoopJoin(build, probe, spatial.Contains, 0)
	assert.Equal(t, []Pair{{Probe: 0, Build: 0}, {Probe: 3, Build: 1}}, pairs)
}

func TestSortPairs(t *testing.T) {
	pairs := []Pair{{2, 1}, {1, 3}, {1, 2}}
	SortPairs(pairs)
	assert.Equal(t, []Pair{{1, 2}, {1, 3}, {2, 1}}, pairs)
}
