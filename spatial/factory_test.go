package spatial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
)

func waitIndex(t *testing.T, f *IndexFuture) Index {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	idx, err := f.Wait(ctx)
	require.NoError(t, err)
	return idx
}

func request(t *testing.T, f *IndexFactory) *IndexFuture {
	t.Helper()
	fut, err := f.Request()
	require.NoError(t, err)
	return fut
}

func TestIndexFactory_Lifecycle(t *testing.T) {
	pool := memory.NewPool(memory.Config{})
	f, err := NewIndexFactory(testConfig(Intersects), func(o *FactoryOptions) {
		o.Pool = pool
	})
	require.NoError(t, err)
	assert.Equal(t, []page.Type{page.TypeBigint}, f.OutputTypes())

	// Two probe factories, as after one Duplicate.
	require.NoError(t, f.RegisterProbeFactory())
	require.NoError(t, f.RegisterProbeFactory())

	a := request(t, f)
	b := request(t, f)
	assert.Same(t, a, b)
	assert.False(t, a.IsDone())

	require.NoError(t, f.ExpectBuildPartitions(2))
	require.NoError(t, f.AddBuildPartition([]*page.Page{buildPage([]*geometry.Geometry{geometry.NewPoint(0, 0)}, nil)}))
	assert.False(t, a.IsDone())
	require.NoError(t, f.AddBuildPartition([]*page.Page{buildPage([]*geometry.Geometry{geometry.NewPoint(1, 1)}, nil)}))
	assert.Error(t, f.AddBuildPartition(nil))

	idx := waitIndex(t, a)
	assert.Equal(t, 2, idx.PositionCount())
	assert.Equal(t, idx.SizeInBytes(), pool.Used())
	assert.Equal(t, idx.SizeInBytes(), f.MemoryBytes())

	f.ProbeOperatorFinished()
	f.NoMoreProbeOperators()
	f.ProbeOperatorFinished()
	assert.False(t, f.Released())

	f.NoMoreProbeOperators()
	assert.True(t, f.Released())
	assert.Zero(t, pool.Used())

	_, err = f.Request()
	assert.ErrorIs(t, err, ErrIndexReleased)
}

func TestIndexFactory_RefusesReferencesAfterRelease(t *testing.T) {
	f, err := NewIndexFactory(testConfig(Intersects))
	require.NoError(t, err)
	require.NoError(t, f.RegisterProbeFactory())
	require.NoError(t, f.ExpectBuildPartitions(0))
	waitIndex(t, request(t, f))
	f.ProbeOperatorFinished()
	f.NoMoreProbeOperators()
	require.True(t, f.Released())

	assert.ErrorIs(t, f.RegisterProbeFactory(), ErrIndexReleased)
	fut, err := f.Request()
	assert.ErrorIs(t, err, ErrIndexReleased)
	assert.Nil(t, fut)

	// No reference was taken, so there is nothing to return.
	assert.Panics(t, f.ProbeOperatorFinished)
	assert.Panics(t, f.NoMoreProbeOperators)
}

func TestIndexFactory_NotReleasedBeforeRegistration(t *testing.T) {
	f, err := NewIndexFactory(testConfig(Intersects))
	require.NoError(t, err)

	idx, err := Build(context.Background(), nil, testConfig(Intersects))
	require.NoError(t, err)
	f.SetIndex(idx)
	assert.False(t, f.Released())

	require.NoError(t, f.RegisterProbeFactory())
	fut := request(t, f)
	assert.Same(t, Index(idx), waitIndex(t, fut))
	f.NoMoreProbeOperators()
	assert.False(t, f.Released())
	f.ProbeOperatorFinished()
	assert.True(t, f.Released())
}

func TestIndexFactory_EmptyBuild(t *testing.T) {
	f, err := NewIndexFactory(testConfig(Intersects))
	require.NoError(t, err)
	require.NoError(t, f.RegisterProbeFactory())

	require.NoError(t, f.ExpectBuildPartitions(0))
	assert.Error(t, f.ExpectBuildPartitions(1))

	idx := waitIndex(t, request(t, f))
	assert.Zero(t, idx.PositionCount())
}

func TestIndexFactory_BuildFailure(t *testing.T) {
	f, err := NewIndexFactory(testConfig(Intersects))
	require.NoError(t, err)
	require.NoError(t, f.RegisterProbeFactory())
	fut := request(t, f)

	bad := page.MustNewPage(page.NewLongBlock([]int64{1}, nil))
	require.NoError(t, f.ExpectBuildPartitions(1))
	require.NoError(t, f.AddBuildPartition([]*page.Page{bad}))

	<-fut.Done()
	_, err = fut.Get()
	assert.ErrorIs(t, err, ErrIndexBuild)
}

func TestIndexFactory_MemoryLimit(t *testing.T) {
	pool := memory.NewPool(memory.Config{LimitBytes: 16})
	f, err := NewIndexFactory(testConfig(Intersects), func(o *FactoryOptions) {
		o.Pool = pool
	})
	require.NoError(t, err)
	require.NoError(t, f.RegisterProbeFactory())
	fut := request(t, f)

	idx, err := Build(context.Background(), []*page.Page{buildPage([]*geometry.Geometry{geometry.NewPoint(0, 0)}, nil)}, testConfig(Intersects))
	require.NoError(t, err)
	f.SetIndex(idx)

	_, err = fut.Get()
	assert.ErrorIs(t, err, memory.ErrMemoryLimitExceeded)
	assert.ErrorIs(t, err, ErrIndexBuild)
	assert.Zero(t, pool.Used())
}

func TestIndexFactory_OnBuilt(t *testing.T) {
	built := make(chan int, 1)
	f, err := NewIndexFactory(testConfig(Intersects), func(o *FactoryOptions) {
		o.OnBuilt = func(idx Index, _ time.Duration) { built <- idx.PositionCount() }
		o.BuildOptions = []func(o *BuildOptions){func(o *BuildOptions) { o.CellSize = 2 }}
	})
	require.NoError(t, err)
	require.NoError(t, f.ExpectBuildPartitions(1))
	require.NoError(t, f.AddBuildPartition([]*page.Page{buildPage([]*geometry.Geometry{geometry.NewPoint(3, 3)}, nil)}))
	assert.Equal(t, 1, <-built)
}

func TestIndexFactory_UnbalancedCallsPanic(t *testing.T) {
	f, err := NewIndexFactory(testConfig(Intersects))
	require.NoError(t, err)
	assert.Panics(t, f.ProbeOperatorFinished)
	assert.Panics(t, f.NoMoreProbeOperators)
}
