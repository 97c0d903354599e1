package geojoin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/geojoin/driver"
	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/operator"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

// Relation is the spatial predicate of a join.
type Relation = spatial.Relation

// Supported relations.
const (
	Intersects     = spatial.Intersects
	Contains       = spatial.Contains
	Within         = spatial.Within
	WithinDistance = spatial.WithinDistance
)

// NoChannel disables an optional channel reference.
const NoChannel = spatial.NoChannel

// JoinFilter is an additional non-spatial predicate.
type JoinFilter = spatial.JoinFilter

const (
	planBuildValues = "build-values"
	planBuild       = "build"
	planProbeValues = "probe-values"
	planJoin        = "spatial-join"
	planOutput      = "output"
)

// Config describes both sides of a spatial join.
//
// Output rows hold the probe output channels followed by the build output
// channels.
type Config struct {
	BuildTypes           []page.Type
	BuildGeometryChannel int
	BuildOutputChannels  []int

	// RadiusChannel is a double build channel holding a per-row radius. It is
	// consulted for WithinDistance only; NoChannel selects Radius.
	RadiusChannel int
	Radius        float64

	ProbeTypes           []page.Type
	ProbeGeometryChannel int
	ProbeOutputChannels  []int

	Relation Relation
	Filter   JoinFilter
}

func (c *Config) buildConfig() spatial.BuildConfig {
	radiusChannel := c.RadiusChannel
	if c.Relation != WithinDistance {
		radiusChannel = NoChannel
	}
	return spatial.BuildConfig{
		Types:           c.BuildTypes,
		GeometryChannel: c.BuildGeometryChannel,
		RadiusChannel:   radiusChannel,
		Radius:          c.Radius,
		OutputChannels:  c.BuildOutputChannels,
		Relation:        c.Relation,
		Filter:          c.Filter,
	}
}

func (c *Config) joinConfig(pb page.BuilderOptions) operator.SpatialJoinConfig {
	return operator.SpatialJoinConfig{
		OperatorID:           1,
		PlanNodeID:           planJoin,
		ProbeTypes:           c.ProbeTypes,
		ProbeOutputChannels:  c.ProbeOutputChannels,
		ProbeGeometryChannel: c.ProbeGeometryChannel,
		PageBuilder:          pb,
	}
}

// Result holds the output of one Execute.
type Result struct {
	// OutputTypes are the channel types of all output pages.
	OutputTypes []page.Type

	// Partitions holds the output pages of each probe partition, in probe
	// partition order. Within a partition pages follow probe row order.
	Partitions [][]*page.Page

	// Stats sums the spatial join operator stats of all probe partitions.
	Stats operator.Stats

	// IndexRows and IndexBytes describe the built index.
	IndexRows  int
	IndexBytes int64
}

// Pages returns the output pages of all partitions.
func (r *Result) Pages() []*page.Page {
	var pages []*page.Page
	for _, ps := range r.Partitions {
		pages = append(pages, ps...)
	}
	return pages
}

// PositionCount returns the number of output rows.
func (r *Result) PositionCount() int {
	n := 0
	for _, ps := range r.Partitions {
		for _, p := range ps {
			n += p.PositionCount()
		}
	}
	return n
}

// Join executes spatial joins for one configuration.
// A Join is safe for concurrent use. All Execute calls share one memory pool.
type Join struct {
	cfg  Config
	opts options
	pool *memory.Pool
}

// New validates cfg and returns a Join.
func New(cfg Config, optFns ...Option) (*Join, error) {
	buildCfg := cfg.buildConfig()
	if err := buildCfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: build side: %w", ErrInvalidConfig, err)
	}
	joinCfg := cfg.joinConfig(page.BuilderOptions{})
	if err := joinCfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: probe side: %w", ErrInvalidConfig, err)
	}

	opts := applyOptions(optFns)
	return &Join{
		cfg:  cfg,
		opts: opts,
		pool: memory.NewPool(memory.Config{
			LimitBytes:          opts.memoryLimit,
			MaxBackgroundBuilds: int64(opts.maxConcurrentBuilds),
		}),
	}, nil
}

// Config returns the join configuration.
func (j *Join) Config() Config { return j.cfg }

// Pool returns the memory pool charged by all executions.
func (j *Join) Pool() *memory.Pool { return j.pool }

// Execute joins the build partitions with the probe partitions.
//
// Every build partition is fed into the shared index by its own driver and
// every probe partition is joined by its own driver. All drivers run
// concurrently; the first failure cancels the others.
func (j *Join) Execute(ctx context.Context, build, probe [][]*page.Page) (res *Result, err error) {
	start := time.Now()
	id := uuid.New()
	logger := j.opts.logger.WithJoinID(id.String())
	defer func() {
		err = translateError(err)
		rows := 0
		if res != nil {
			rows = res.PositionCount()
		}
		j.opts.metricsCollector.RecordJoin(rows, time.Since(start), err)
		logger.LogJoin(ctx, rows, time.Since(start), err)
	}()

	if err := checkPartitions("build", build, j.cfg.BuildTypes); err != nil {
		return nil, err
	}
	if err := checkPartitions("probe", probe, j.cfg.ProbeTypes); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	indexFactory, err := spatial.NewIndexFactory(j.cfg.buildConfig(), func(o *spatial.FactoryOptions) {
		o.Logger = logger.Logger
		o.Pool = j.pool
		o.Context = gctx
		o.BuildOptions = []func(o *spatial.BuildOptions){func(o *spatial.BuildOptions) {
			o.CellSize = j.opts.cellSize
			o.Concurrency = j.opts.buildConcurrency
		}}
		o.OnBuilt = func(idx spatial.Index, elapsed time.Duration) {
			j.opts.metricsCollector.RecordBuild(idx.PositionCount(), idx.SizeInBytes(), elapsed, nil)
			logger.LogBuild(ctx, idx.PositionCount(), idx.SizeInBytes(), elapsed, nil)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	joinFactory, err := operator.NewSpatialJoinOperatorFactory(j.cfg.joinConfig(j.opts.pageBuilder), indexFactory)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	res = &Result{
		OutputTypes: joinFactory.OutputTypes(),
		Partitions:  make([][]*page.Page, len(probe)),
	}

	// The execution holds its own reference so that build failures surface
	// even without probe partitions.
	future, err := indexFactory.Request()
	if err != nil {
		joinFactory.NoMoreOperators()
		return nil, err
	}

	buildDrivers, err := j.buildDrivers(indexFactory, build, logger)
	if err != nil {
		indexFactory.Fail(err)
		joinFactory.NoMoreOperators()
		indexFactory.ProbeOperatorFinished()
		return nil, err
	}
	probeDrivers, collectors, joins, err := j.probeDrivers(joinFactory, probe, logger)
	if err != nil {
		closeDrivers(buildDrivers)
		indexFactory.Fail(err)
		indexFactory.ProbeOperatorFinished()
		return nil, err
	}

	for _, d := range buildDrivers {
		g.Go(func() error {
			defer d.Close()
			return d.Run(gctx, j.opts.quantum)
		})
	}

	var mu sync.Mutex
	for i, d := range probeDrivers {
		g.Go(func() error {
			probeStart := time.Now()
			runErr := d.Run(gctx, j.opts.quantum)
			runErr = errors.CombineErrors(runErr, d.Close())
			stats := joins[i].Context().Stats()

			j.opts.metricsCollector.RecordProbe(stats, time.Since(probeStart), runErr)
			logger.LogProbe(gctx, i, stats, runErr)
			if runErr != nil {
				return errors.Wrapf(runErr, "probe partition %d", i)
			}

			mu.Lock()
			res.Partitions[i] = collectors[i].Pages()
			res.Stats.Merge(stats)
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		defer indexFactory.ProbeOperatorFinished()
		idx, err := future.Wait(gctx)
		if err != nil {
			if errors.Is(err, ErrIndexBuild) {
				j.opts.metricsCollector.RecordBuild(0, 0, time.Since(start), err)
				logger.LogBuild(gctx, 0, 0, time.Since(start), err)
			}
			return err
		}
		res.IndexRows = idx.PositionCount()
		res.IndexBytes = idx.SizeInBytes()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (j *Join) buildDrivers(sink *spatial.IndexFactory, build [][]*page.Page, logger *Logger) ([]*driver.Driver, error) {
	if err := sink.ExpectBuildPartitions(len(build)); err != nil {
		return nil, err
	}
	values := operator.NewValuesOperatorFactory(0, planBuildValues, j.cfg.BuildTypes, build)
	builder := operator.NewSpatialIndexBuilderOperatorFactory(1, planBuild, j.cfg.BuildTypes, sink)
	defer values.NoMoreOperators()
	defer builder.NoMoreOperators()

	drivers := make([]*driver.Driver, 0, len(build))
	for i := range build {
		dc := operator.NewDriverContext(j.pool, func(o *operator.DriverOptions) {
			o.Logger = logger.WithPartition(i).Logger
			o.PipelineID = 0
		})
		d, err := newDriver(dc, values, builder)
		if err != nil {
			closeDrivers(drivers)
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}

func (j *Join) probeDrivers(joinFactory *operator.SpatialJoinOperatorFactory, probe [][]*page.Page, logger *Logger) ([]*driver.Driver, []*operator.PageCollectorOperator, []operator.Operator, error) {
	values := operator.NewValuesOperatorFactory(0, planProbeValues, j.cfg.ProbeTypes, probe)
	defer values.NoMoreOperators()

	if len(probe) == 0 {
		joinFactory.NoMoreOperators()
		return nil, nil, nil, nil
	}

	factories := make([]operator.Factory, len(probe))
	factories[0] = joinFactory
	for i := 1; i < len(probe); i++ {
		factories[i] = joinFactory.Duplicate()
	}
	defer func() {
		for _, f := range factories {
			f.NoMoreOperators()
		}
	}()

	var (
		drivers    = make([]*driver.Driver, 0, len(probe))
		collectors = make([]*operator.PageCollectorOperator, 0, len(probe))
		joins      = make([]operator.Operator, 0, len(probe))
	)
	for i := range probe {
		dc := operator.NewDriverContext(j.pool, func(o *operator.DriverOptions) {
			o.Logger = logger.WithPartition(i).Logger
			o.PipelineID = 1
		})
		source, err := values.CreateOperator(dc)
		if err != nil {
			closeDrivers(drivers)
			return nil, nil, nil, err
		}
		join, err := factories[i].CreateOperator(dc)
		if err != nil {
			closeDrivers(drivers)
			return nil, nil, nil, errors.CombineErrors(err, source.Close())
		}
		collector := operator.NewPageCollectorOperator(dc.AddOperatorContext(2, planOutput, "PageCollectorOperator"), joinFactory.OutputTypes())
		d, err := driver.New(dc, source, join, collector)
		if err != nil {
			closeDrivers(drivers)
			return nil, nil, nil, errors.CombineErrors(err, join.Close())
		}
		drivers = append(drivers, d)
		collectors = append(collectors, collector)
		joins = append(joins, join)
	}
	return drivers, collectors, joins, nil
}

func newDriver(dc *operator.DriverContext, factories ...operator.Factory) (*driver.Driver, error) {
	ops := make([]operator.Operator, 0, len(factories))
	for _, f := range factories {
		op, err := f.CreateOperator(dc)
		if err != nil {
			for _, o := range ops {
				_ = o.Close()
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return driver.New(dc, ops...)
}

func closeDrivers(drivers []*driver.Driver) {
	for _, d := range drivers {
		_ = d.Close()
	}
}

func checkPartitions(side string, partitions [][]*page.Page, types []page.Type) error {
	for i, pages := range partitions {
		for k, p := range pages {
			if p == nil {
				return errors.Wrapf(ErrInvalidConfig, "%s partition %d page %d is nil", side, i, k)
			}
			if err := p.CheckTypes(types); err != nil {
				return &ErrTypeMismatch{
					Side:      side,
					Partition: i,
					Page:      k,
					Expected:  types,
					Actual:    p.Types(),
					cause:     err,
				}
			}
		}
	}
	return nil
}

// String describes the join.
func (j *Join) String() string {
	return fmt.Sprintf("SpatialJoin[%s]", j.cfg.Relation)
}
