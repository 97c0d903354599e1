package geojoin

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/testutil"
)

func pointsInBoxesConfig() Config {
	return Config{
		BuildTypes:           testutil.GeometryTypes,
		BuildGeometryChannel: 1,
		BuildOutputChannels:  []int{0},
		RadiusChannel:        NoChannel,
		ProbeTypes:           testutil.GeometryTypes,
		ProbeGeometryChannel: 1,
		ProbeOutputChannels:  []int{0},
		Relation:             Contains,
	}
}

func TestExecute_MatchesNestedLoop(t *testing.T) {
	rng := testutil.NewRNG(4711)
	boxes := rng.UniformBoxes(200, 100, 8)
	points := rng.UniformPoints(1500, 100)

	for _, tc := range []struct {
		name      string
		rel       Relation
		radius    float64
		build     int
		probe     int
		pageSize  int
		quantum   time.Duration
		maxOutput int
		maxBuilds int
	}{
		{name: "contains", rel: Contains, build: 1, probe: 1, pageSize: 256},
		{name: "intersects partitioned", rel: Intersects, build: 3, probe: 4, pageSize: 100},
		{name: "within distance", rel: WithinDistance, radius: 1.5, build: 2, probe: 3, pageSize: 64},
		{name: "concurrent builds", rel: Intersects, build: 4, probe: 2, pageSize: 50, maxBuilds: 2},
		{name: "tiny pages and quanta", rel: Contains, build: 2, probe: 2, pageSize: 17, quantum: time.Microsecond, maxOutput: 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := pointsInBoxesConfig()
			cfg.Relation = tc.rel
			cfg.Radius = tc.radius

			opts := []Option{WithCellSize(4)}
			if tc.quantum > 0 {
				opts = append(opts, WithQuantum(tc.quantum))
			}
			if tc.maxBuilds > 0 {
				opts = append(opts, WithMaxConcurrentBuilds(tc.maxBuilds))
			}
			if tc.maxOutput > 0 {
				opts = append(opts, WithPageCapacity(tc.maxOutput, 0))
			}
			j, err := New(cfg, opts...)
			require.NoError(t, err)

			build := testutil.Partition(testutil.GeometryPages(boxes, tc.pageSize), tc.build)
			probe := testutil.Partition(testutil.GeometryPages(points, tc.pageSize), tc.probe)

			res, err := j.Execute(context.Background(), build, probe)
			require.NoError(t, err)

			want := testutil.NestedLoopJoin(boxes, points, tc.rel, tc.radius)
			require.NotEmpty(t, want)
			assert.Equal(t, want, testutil.CollectPairs(res.Pages(), 0, 1))
			assert.Equal(t, len(want), res.PositionCount())
			assert.Equal(t, int64(len(want)), res.Stats.OutputPositions)
			assert.Equal(t, int64(len(points)), res.Stats.InputPositions)
			assert.Equal(t, len(boxes), res.IndexRows)
			assert.Positive(t, res.IndexBytes)
			assert.Len(t, res.Partitions, tc.probe)
			if tc.maxOutput > 0 {
				for _, p := range res.Pages() {
					assert.LessOrEqual(t, p.PositionCount(), tc.maxOutput)
				}
			}

			// Everything is returned to the pool once the join completes.
			assert.Zero(t, j.Pool().Used())
		})
	}
}

func TestExecute_PartitionOrder(t *testing.T) {
	j, err := New(pointsInBoxesConfig())
	require.NoError(t, err)

	build := [][]*page.Page{testutil.GeometryPages([]*geometry.Geometry{
		geometry.NewEnvelope(0, 0, 10, 10),
		geometry.NewEnvelope(5, 0, 15, 10),
	}, 0)}
	probe := [][]*page.Page{
		testutil.GeometryPages([]*geometry.Geometry{geometry.NewPoint(7, 5), geometry.NewPoint(1, 1)}, 0),
		testutil.GeometryPages([]*geometry.Geometry{geometry.NewPoint(12, 5)}, 0),
	}

	res, err := j.Execute(context.Background(), build, probe)
	require.NoError(t, err)
	require.Len(t, res.Partitions, 2)

	rows := func(pages []*page.Page) [][2]int64 {
		var out [][2]int64
		for _, p := range pages {
			for pos := range p.PositionCount() {
				a, _ := page.ValueAt[int64](p.Block(0), pos)
				b, _ := page.ValueAt[int64](p.Block(1), pos)
				out = append(out, [2]int64{a, b})
			}
		}
		return out
	}
	assert.Equal(t, [][2]int64{{0, 0}, {0, 1}, {1, 0}}, rows(res.Partitions[0]))
	assert.Equal(t, [][2]int64{{0, 1}}, rows(res.Partitions[1]))
	assert.Equal(t, []page.Type{page.TypeBigint, page.TypeBigint}, res.OutputTypes)
}

func TestExecute_NoPartitions(t *testing.T) {
	j, err := New(pointsInBoxesConfig())
	require.NoError(t, err)

	res, err := j.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, res.PositionCount())
	assert.Zero(t, res.IndexRows)

	rng := testutil.NewRNG(1)
	res, err = j.Execute(context.Background(), nil, [][]*page.Page{testutil.GeometryPages(rng.UniformPoints(10, 1), 0)})
	require.NoError(t, err)
	assert.Zero(t, res.PositionCount())
	assert.Equal(t, int64(10), res.Stats.InputPositions)
}

func TestExecute_RadiusChannel(t *testing.T) {
	cfg := Config{
		BuildTypes:           []page.Type{page.TypeBigint, page.TypeGeometry, page.TypeDouble},
		BuildGeometryChannel: 1,
		BuildOutputChannels:  []int{0},
		RadiusChannel:        2,
		ProbeTypes:           testutil.GeometryTypes,
		ProbeGeometryChannel: 1,
		ProbeOutputChannels:  []int{0},
		Relation:             WithinDistance,
	}
	j, err := New(cfg)
	require.NoError(t, err)

	build := page.MustNewPage(
		page.NewLongBlock([]int64{0, 1}, nil),
		page.NewGeometryBlock([]*geometry.Geometry{geometry.NewPoint(0, 0), geometry.NewPoint(10, 0)}),
		page.NewDoubleBlock([]float64{1, 5}, nil),
	)
	probe := testutil.GeometryPages([]*geometry.Geometry{geometry.NewPoint(3, 0), geometry.NewPoint(0.5, 0)}, 0)

	res, err := j.Execute(context.Background(), [][]*page.Page{{build}}, [][]*page.Page{probe})
	require.NoError(t, err)
	assert.Equal(t, []testutil.Pair{{Probe: 1, Build: 0}}, testutil.CollectPairs(res.Pages(), 0, 1))
}

func TestExecute_Filter(t *testing.T) {
	cfg := pointsInBoxesConfig()
	cfg.Filter = func(build *page.Page, buildPosition int, probe *page.Page, probePosition int) bool {
		id, _ := page.ValueAt[int64](build.Block(0), buildPosition)
		return id%2 == 0
	}
	j, err := New(cfg)
	require.NoError(t, err)

	boxes := []*geometry.Geometry{
		geometry.NewEnvelope(0, 0, 10, 10),
		geometry.NewEnvelope(0, 0, 10, 10),
		geometry.NewEnvelope(0, 0, 10, 10),
	}
	res, err := j.Execute(context.Background(),
		[][]*page.Page{testutil.GeometryPages(boxes, 0)},
		[][]*page.Page{testutil.GeometryPages([]*geometry.Geometry{geometry.NewPoint(1, 1)}, 0)},
	)
	require.NoError(t, err)
	assert.Equal(t, []testutil.Pair{{Probe: 0, Build: 0}, {Probe: 0, Build: 2}}, testutil.CollectPairs(res.Pages(), 0, 1))
}

func TestExecute_TypeMismatch(t *testing.T) {
	j, err := New(pointsInBoxesConfig())
	require.NoError(t, err)

	bad := page.MustNewPage(page.NewLongBlock([]int64{1}, nil))
	_, err = j.Execute(context.Background(), nil, [][]*page.Page{{bad}})
	require.Error(t, err)

	var mismatch *ErrTypeMismatch
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "probe", mismatch.Side)
	assert.Equal(t, 0, mismatch.Partition)
	assert.Equal(t, []page.Type{page.TypeBigint}, mismatch.Actual)
}

func TestExecute_MemoryLimit(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	j, err := New(pointsInBoxesConfig(), WithMemoryLimit(1024), WithMetricsCollector(metrics))
	require.NoError(t, err)

	rng := testutil.NewRNG(4711)
	build := testutil.Partition(testutil.GeometryPages(rng.UniformBoxes(500, 100, 5), 100), 2)
	probe := testutil.Partition(testutil.GeometryPages(rng.UniformPoints(500, 100), 100), 2)

	_, err = j.Execute(context.Background(), build, probe)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Zero(t, j.Pool().Used())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.JoinCount)
	assert.Equal(t, int64(1), stats.JoinErrors)
}

func TestExecute_Canceled(t *testing.T) {
	j, err := New(pointsInBoxesConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rng := testutil.NewRNG(4711)
	_, err = j.Execute(ctx,
		[][]*page.Page{testutil.GeometryPages(rng.UniformBoxes(10, 10, 1), 0)},
		[][]*page.Page{testutil.GeometryPages(rng.UniformPoints(10, 10), 0)},
	)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_Metrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	j, err := New(pointsInBoxesConfig(), WithMetricsCollector(metrics), WithLogger(NoopLogger()))
	require.NoError(t, err)

	rng := testutil.NewRNG(4711)
	boxes := rng.UniformBoxes(50, 100, 20)
	points := rng.UniformPoints(300, 100)
	res, err := j.Execute(context.Background(),
		[][]*page.Page{testutil.GeometryPages(boxes, 0)},
		testutil.Partition(testutil.GeometryPages(points, 50), 3),
	)
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(50), stats.BuildRows)
	assert.Equal(t, res.IndexBytes, stats.PeakIndexBytes)
	assert.Equal(t, int64(3), stats.ProbeCount)
	assert.Equal(t, int64(300), stats.ProbeRows)
	assert.Equal(t, int64(1), stats.JoinCount)
	assert.Zero(t, stats.JoinErrors)
	assert.Equal(t, int64(res.PositionCount()), stats.JoinOutputRows)
}

func TestNew_InvalidConfig(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"build geometry out of range": func(c *Config) { c.BuildGeometryChannel = 5 },
		"build geometry not geometry": func(c *Config) { c.BuildGeometryChannel = 0 },
		"probe geometry not geometry": func(c *Config) { c.ProbeGeometryChannel = 0 },
		"probe output out of range":   func(c *Config) { c.ProbeOutputChannels = []int{2} },
		"negative radius":             func(c *Config) { c.Radius = -1 },
		"radius channel not double": func(c *Config) {
			c.Relation = WithinDistance
			c.RadiusChannel = 0
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := pointsInBoxesConfig()
			mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_RadiusChannelIgnoredWithoutDistance(t *testing.T) {
	cfg := pointsInBoxesConfig()
	cfg.RadiusChannel = 0
	_, err := New(cfg)
	assert.NoError(t, err)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, translateError(plain))

	err := translateError(errors.AssertionFailedf("broken"))
	assert.ErrorIs(t, err, ErrInternal)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestErrors_StandardLibraryIs(t *testing.T) {
	cfg := pointsInBoxesConfig()
	cfg.BuildGeometryChannel = 5
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrInvalidConfig))

	j, err := New(pointsInBoxesConfig())
	require.NoError(t, err)
	_, err = j.Execute(context.Background(), [][]*page.Page{{nil}}, nil)
	assert.True(t, stderrors.Is(err, ErrInvalidConfig))

	assert.True(t, stderrors.Is(translateError(errors.AssertionFailedf("broken")), ErrInternal))
}

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}
	m.RecordBuild(10, 100, 2*time.Millisecond, nil)
	m.RecordBuild(0, 0, 4*time.Millisecond, errors.New("x"))
	m.RecordJoin(5, time.Millisecond, nil)

	s := m.GetStats()
	assert.Equal(t, int64(2), s.BuildCount)
	assert.Equal(t, int64(1), s.BuildErrors)
	assert.Equal(t, int64(10), s.BuildRows)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), s.BuildAvgNanos)
	assert.Equal(t, int64(100), s.PeakIndexBytes)
	assert.Equal(t, int64(5), s.JoinOutputRows)
}
