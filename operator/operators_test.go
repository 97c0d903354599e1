package operator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

func TestValuesOperator(t *testing.T) {
	f := NewValuesOperatorFactory(0, "values", probeTypes, [][]*page.Page{
		{probePageOf(1, 2), probePageOf(3)},
	})
	dc := NewDriverContext(nil)
	op, err := f.CreateOperator(dc)
	require.NoError(t, err)

	assert.False(t, op.NeedsInput())
	assert.True(t, errors.HasAssertionFailure(op.AddInput(probePageOf(4))))

	var n int
	for !op.IsFinished() {
		p, err := op.Output()
		require.NoError(t, err)
		n += p.PositionCount()
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(2), op.Context().Stats().OutputPages)

	_, err = f.CreateOperator(dc)
	assert.Error(t, err)

	f.NoMoreOperators()
	_, err = f.CreateOperator(dc)
	assert.ErrorIs(t, err, ErrFactoryRetired)
}

func TestValuesOperator_TypeMismatch(t *testing.T) {
	_, err := NewValuesOperator(NewDriverContext(nil).AddOperatorContext(0, "values", valuesOperatorType),
		[]page.Type{page.TypeDouble}, []*page.Page{probePageOf(1)})
	assert.Error(t, err)
}

func TestPageCollectorOperator(t *testing.T) {
	op := NewPageCollectorOperator(NewDriverContext(nil).AddOperatorContext(0, "out", pageCollectorOperatorType), probeTypes)
	require.True(t, op.NeedsInput())
	require.NoError(t, op.AddInput(probePageOf(1, 2)))
	require.NoError(t, op.AddInput(probePageOf(3)))
	assert.Equal(t, 3, op.PositionCount())
	assert.Len(t, op.Pages(), 2)

	op.Finish()
	assert.True(t, op.IsFinished())
	assert.False(t, op.NeedsInput())
	assert.Error(t, op.AddInput(probePageOf(4)))
}

func buildPages() []*page.Page {
	return []*page.Page{
		page.MustNewPage(
			page.NewLongBlock([]int64{10, 11}, nil),
			page.NewGeometryBlock([]*geometry.Geometry{
				geometry.NewEnvelope(0, 0, 2, 2),
				geometry.NewEnvelope(5, 5, 6, 6),
			}),
		),
	}
}

func TestSpatialIndexBuilderOperator(t *testing.T) {
	pool := memory.NewPool(memory.Config{})
	cfg := spatial.BuildConfig{
		Types:           []page.Type{page.TypeBigint, page.TypeGeometry},
		GeometryChannel: 1,
		RadiusChannel:   spatial.NoChannel,
		OutputChannels:  []int{0},
	}
	indexFactory, err := spatial.NewIndexFactory(cfg, func(o *spatial.FactoryOptions) { o.Pool = pool })
	require.NoError(t, err)
	require.NoError(t, indexFactory.ExpectBuildPartitions(1))

	bf := NewSpatialIndexBuilderOperatorFactory(0, "build", cfg.Types, indexFactory)
	dc := NewDriverContext(pool, func(o *DriverOptions) { o.Logger = slog.New(slog.DiscardHandler) })
	op, err := bf.CreateOperator(dc)
	require.NoError(t, err)

	pages := buildPages()
	require.NoError(t, op.AddInput(pages[0]))
	assert.Equal(t, pages[0].SizeInBytes(), pool.Used())

	op.Finish()
	assert.False(t, op.IsFinished())
	p, err := op.Output()
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.True(t, op.IsFinished())
	assert.Equal(t, pages[0].SizeInBytes(), op.Context().Stats().PeakMemoryBytes)

	require.NoError(t, indexFactory.RegisterProbeFactory())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	future, err := indexFactory.Request()
	require.NoError(t, err)
	idx, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.PositionCount())
	// The builder's account is empty; the index is charged to the factory.
	assert.Zero(t, op.Context().LocalMemory().Bytes())
	assert.Equal(t, idx.SizeInBytes(), pool.Used())

	bf.NoMoreOperators()
	_, err = bf.CreateOperator(dc)
	assert.ErrorIs(t, err, ErrFactoryRetired)
	_, err = bf.Duplicate().CreateOperator(dc)
	require.NoError(t, err)
}

func TestSpatialIndexBuilderOperator_MemoryLimit(t *testing.T) {
	pool := memory.NewPool(memory.Config{LimitBytes: 8})
	bf := NewSpatialIndexBuilderOperatorFactory(0, "build", []page.Type{page.TypeBigint, page.TypeGeometry}, nil)
	op, err := bf.CreateOperator(NewDriverContext(pool))
	require.NoError(t, err)

	err = op.AddInput(buildPages()[0])
	assert.ErrorIs(t, err, memory.ErrMemoryLimitExceeded)
	assert.True(t, op.NeedsInput())
}

func TestDriverContext(t *testing.T) {
	dc := NewDriverContext(nil, func(o *DriverOptions) { o.PipelineID = 3 })
	assert.NotEqual(t, dc.ID().String(), NewDriverContext(nil).ID().String())
	assert.Equal(t, 3, dc.PipelineID())
	assert.Nil(t, dc.Logger())

	a := dc.AddOperatorContext(0, "a", "A")
	b := dc.AddOperatorContext(1, "b", "B")
	a.stats.InputPositions = 5
	a.stats.PeakMemoryBytes = 10
	b.stats.InputPositions = 2
	b.stats.PeakMemoryBytes = 7

	s := dc.Stats()
	assert.Equal(t, int64(7), s.InputPositions)
	assert.Equal(t, int64(10), s.PeakMemoryBytes)
	assert.Len(t, dc.OperatorContexts(), 2)
	assert.Same(t, dc.YieldSignal(), b.YieldSignal())
	assert.Equal(t, "a", a.PlanNodeID())
	assert.Equal(t, "B", b.OperatorType())

	js, err := s.MarshalIndent()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"input_positions": 7`)
}
