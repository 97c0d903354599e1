package spatial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
)

// ErrIndexReleased is returned for requests made after the index was dropped.
var ErrIndexReleased = errors.New("spatial index already released")

// FactoryOptions configures an IndexFactory.
type FactoryOptions struct {
	// Logger receives lifecycle events. Nil disables logging.
	Logger *slog.Logger

	// Pool limits concurrent background builds and is charged for the
	// published index.
	Pool *memory.Pool

	// Context bounds background builds. Defaults to context.Background.
	Context context.Context

	// BuildOptions are passed to Build for background builds.
	BuildOptions []func(o *BuildOptions)

	// OnBuilt is called after a background build completes successfully.
	OnBuilt func(idx Index, elapsed time.Duration)
}

// IndexFactory shares one index among all probe operators of a join.
//
// Probe operators Request the future and call ProbeOperatorFinished when
// done with it. Probe operator factories hold one reference each, taken with
// RegisterProbeFactory and returned with NoMoreProbeOperators. Once the index
// is resolved and every reference has been returned, the index is dropped and
// its memory is freed. Nothing is released before the first probe factory
// registers.
type IndexFactory struct {
	cfg         BuildConfig
	outputTypes []page.Type
	opts        FactoryOptions
	mem         *memory.LocalContext

	future *IndexFuture

	mu             sync.Mutex
	registered     bool
	probeFactories int
	activeProbes   int
	released       bool
	expected       int
	partitions     [][]*page.Page
	arrived        int
}

// NewIndexFactory returns a factory for indexes described by cfg.
func NewIndexFactory(cfg BuildConfig, optFns ...func(o *FactoryOptions)) (*IndexFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := FactoryOptions{Context: context.Background()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	return &IndexFactory{
		cfg:         cfg,
		outputTypes: cfg.OutputTypes(),
		opts:        opts,
		mem:         opts.Pool.NewLocalContext("spatial-index"),
		future:      NewFuture[Index](),
		expected:    -1,
	}, nil
}

// Config returns the build configuration.
func (f *IndexFactory) Config() BuildConfig { return f.cfg }

// OutputTypes returns the build-side output types.
func (f *IndexFactory) OutputTypes() []page.Type { return f.outputTypes }

// Request returns the shared index future and takes a probe reference.
// Once the index has been released no reference is taken and
// ErrIndexReleased is returned.
func (f *IndexFactory) Request() (*IndexFuture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil, ErrIndexReleased
	}
	f.activeProbes++
	return f.future, nil
}

// ProbeOperatorFinished returns a reference taken by Request.
func (f *IndexFactory) ProbeOperatorFinished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeProbes <= 0 {
		panic(errors.AssertionFailedf("ProbeOperatorFinished without matching Request"))
	}
	f.activeProbes--
	f.maybeReleaseLocked()
}

// RegisterProbeFactory takes a reference for a probe operator factory.
// It fails with ErrIndexReleased once the index has been released.
func (f *IndexFactory) RegisterProbeFactory() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrIndexReleased
	}
	f.probeFactories++
	f.registered = true
	return nil
}

// NoMoreProbeOperators returns a reference taken by RegisterProbeFactory.
func (f *IndexFactory) NoMoreProbeOperators() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeFactories <= 0 {
		panic(errors.AssertionFailedf("NoMoreProbeOperators without matching RegisterProbeFactory"))
	}
	f.probeFactories--
	f.maybeReleaseLocked()
}

// SetIndex publishes idx to all waiting operators.
// If the pool cannot hold the index, the future fails instead.
func (f *IndexFactory) SetIndex(idx Index) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.future.IsDone() {
		return
	}
	if err := f.mem.SetBytes(idx.SizeInBytes()); err != nil {
		f.failLocked(err)
		return
	}
	f.future.Complete(idx)
	if f.opts.Logger != nil {
		f.opts.Logger.Info("spatial index published",
			slog.Int("rows", idx.PositionCount()),
			slog.Int64("size_bytes", idx.SizeInBytes()),
		)
	}
	f.maybeReleaseLocked()
}

// Fail resolves the future with err.
func (f *IndexFactory) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLocked(err)
}

func (f *IndexFactory) failLocked(err error) {
	if !errors.Is(err, ErrIndexBuild) {
		err = fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	if f.future.Fail(err) && f.opts.Logger != nil {
		f.opts.Logger.Error("spatial index build failed", slog.String("error", err.Error()))
	}
	f.maybeReleaseLocked()
}

// ExpectBuildPartitions declares how many partitions AddBuildPartition will
// receive. With n == 0 an empty index is published immediately.
func (f *IndexFactory) ExpectBuildPartitions(n int) error {
	f.mu.Lock()
	if f.expected >= 0 {
		f.mu.Unlock()
		return errors.AssertionFailedf("build partitions already declared")
	}
	if n < 0 {
		f.mu.Unlock()
		return errors.AssertionFailedf("negative build partition count %d", n)
	}
	f.expected = n
	f.partitions = make([][]*page.Page, 0, n)
	f.mu.Unlock()

	if n == 0 {
		f.startBuild(nil)
	}
	return nil
}

// AddBuildPartition hands over the pages of one build partition. When the
// last expected partition arrives the index is built in the background.
func (f *IndexFactory) AddBuildPartition(pages []*page.Page) error {
	f.mu.Lock()
	if f.expected < 0 {
		f.mu.Unlock()
		return errors.AssertionFailedf("build partitions not declared")
	}
	if f.arrived >= f.expected {
		f.mu.Unlock()
		return errors.AssertionFailedf("unexpected build partition %d of %d", f.arrived+1, f.expected)
	}
	f.partitions = append(f.partitions, pages)
	f.arrived++
	if f.arrived < f.expected {
		f.mu.Unlock()
		return nil
	}
	var all []*page.Page
	for _, ps := range f.partitions {
		all = append(all, ps...)
	}
	f.partitions = nil
	f.mu.Unlock()

	f.startBuild(all)
	return nil
}

func (f *IndexFactory) startBuild(pages []*page.Page) {
	go func() {
		ctx := f.opts.Context
		if err := f.opts.Pool.AcquireBuild(ctx); err != nil {
			f.Fail(err)
			return
		}
		defer f.opts.Pool.ReleaseBuild()

		start := time.Now()
		buildOpts := append([]func(o *BuildOptions){func(o *BuildOptions) { o.Logger = f.opts.Logger }}, f.opts.BuildOptions...)
		idx, err := Build(ctx, pages, f.cfg, buildOpts...)
		if err != nil {
			f.Fail(err)
			return
		}
		if f.opts.OnBuilt != nil {
			f.opts.OnBuilt(idx, time.Since(start))
		}
		f.SetIndex(idx)
	}()
}

// Released reports whether the index has been dropped.
func (f *IndexFactory) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// MemoryBytes returns the memory charged for the published index.
func (f *IndexFactory) MemoryBytes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.Bytes()
}

func (f *IndexFactory) maybeReleaseLocked() {
	if f.released || !f.registered || f.probeFactories > 0 || f.activeProbes > 0 || !f.future.IsDone() {
		return
	}
	f.released = true
	f.future = FailedFuture[Index](ErrIndexReleased)
	f.mem.Close()
	if f.opts.Logger != nil {
		f.opts.Logger.Info("spatial index released")
	}
}
